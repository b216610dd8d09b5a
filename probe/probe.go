// Package probe connects to a single heart-rate sensor outside the pipeline and reports what it finds.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/heartrate"
)

// ProgressCallback is called when the probe phase changes
type ProgressCallback func(phase string)

// Options defines options for probing a heart-rate sensor
type Options struct {
	ConnectTimeout     time.Duration
	MeasurementTimeout time.Duration
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() *Options {
	return &Options{
		ConnectTimeout:     30 * time.Second,
		MeasurementTimeout: 10 * time.Second,
	}
}

// Callback processes a connected sensor whose measurement characteristic has been discovered.
type Callback[R any] func(ctx context.Context, link device.Link, char device.Characteristic) (R, error)

// Result is what FirstMeasurement reports.
type Result struct {
	Address  string           `json:"address"`
	Payload  []byte           `json:"payload"`
	Sample   heartrate.Sample `json:"sample"`
	Zone     heartrate.Zone   `json:"zone"`
	Status   heartrate.Status `json:"status"`
	Latency  time.Duration    `json:"latency"`
	Rejected int              `json:"rejected"`
}

// ErrNoMeasurement is returned when no valid measurement arrives before the deadline.
var ErrNoMeasurement = errors.New("no heart rate measurement received")

// Probe connects to address, discovers the Heart Rate service and measurement characteristic,
// and executes callback with them. The link is released after callback returns.
func Probe[R any](ctx context.Context, radio device.Radio, address string, opts *Options, logger *logrus.Logger, progressCallback ProgressCallback, callback Callback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	progressCallback("Connecting")
	link, err := device.DialTimeout(ctx, radio, address, opts.ConnectTimeout)
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}
	defer func() {
		if err := link.Disconnect(); err != nil {
			logger.WithError(err).Error("failed to disconnect device")
		}
	}()

	char, err := device.FindHeartRateMeasurement(link, func(step device.LookupStep) error {
		if step == device.StepServiceDiscovery {
			progressCallback("Discovering")
		}
		return nil
	})
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}

	progressCallback("Processing results")
	return callback(ctx, link, char)
}

// FirstMeasurement subscribes and waits for the first measurement that decodes.
// Malformed payloads are counted in Result.Rejected and skipped.
func FirstMeasurement(timeout time.Duration, logger *logrus.Logger) Callback[Result] {
	return func(ctx context.Context, link device.Link, char device.Characteristic) (Result, error) {
		res := Result{Address: link.Address()}
		payloads := make(chan []byte, 16)
		started := time.Now()

		err := link.EnableNotifications(char, func(b []byte) {
			select {
			case payloads <- append([]byte(nil), b...):
			default:
			}
		})
		if err != nil {
			var subErr *device.SubscriptionError
			if errors.As(err, &subErr) {
				return res, err
			}
			return res, &device.SubscriptionError{Status: device.StatusUnknown, Err: err}
		}
		defer func() {
			if err := link.DisableNotifications(char); err != nil && logger != nil {
				logger.WithError(err).Debug("failed to disable notifications")
			}
		}()

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		for {
			select {
			case b := <-payloads:
				sample, err := heartrate.Decode(b, time.Now())
				if err != nil {
					res.Rejected++
					if logger != nil {
						logger.WithFields(logrus.Fields{
							"payload": fmt.Sprintf("% x", b),
							"error":   err,
						}).Warn("Skipping malformed heart rate measurement")
					}
					continue
				}
				res.Payload = b
				res.Sample = sample
				res.Zone = sample.Zone()
				res.Status = sample.Status()
				res.Latency = time.Since(started)
				return res, nil
			case <-link.Disconnected():
				return res, fmt.Errorf("%w: link lost while waiting for a measurement", device.ErrNotConnected)
			case <-waitCtx.Done():
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				return res, fmt.Errorf("%w within %s", ErrNoMeasurement, timeout)
			}
		}
	}
}
