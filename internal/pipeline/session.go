package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/status"
)

// runAttempt drives one resolve/connect/subscribe sequence on a worker goroutine and
// hands the outcome to the loop. A link the loop can no longer accept is torn down here.
func (p *Pipeline) runAttempt(ctx context.Context, gen uint64, address string, radio device.Radio) {
	conn, err := p.resolveAndConnect(ctx, gen, address, radio)
	if err == nil && ctx.Err() != nil {
		p.teardown(conn, "attempt cancelled after subscribing")
		conn, err = nil, ctx.Err()
	}
	if !p.post(attemptResult{gen: gen, address: address, conn: conn, err: err}) && conn != nil {
		p.teardown(conn, "pipeline closed")
	}
}

// resolveAndConnect runs the four GATT steps. On failure everything acquired so far is released.
func (p *Pipeline) resolveAndConnect(ctx context.Context, gen uint64, address string, radio device.Radio) (*connection, error) {
	logger := p.logger.WithFields(logrus.Fields{
		"address":    address,
		"generation": gen,
	})

	link, err := device.DialTimeout(ctx, radio, address, p.opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	release := func(reason string) {
		logger.WithField("reason", reason).Debug("Releasing link")
		if err := link.Disconnect(); err != nil {
			logger.WithField("error", err).Debug("Link release failed")
		}
	}

	char, err := device.FindHeartRateMeasurement(link, func(step device.LookupStep) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step == device.StepServiceDiscovery {
			p.step(gen, ServiceDiscovery)
		} else {
			p.step(gen, CharacteristicDiscovery)
		}
		return nil
	})
	if err != nil {
		release(err.Error())
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		release("cancelled")
		return nil, err
	}
	p.step(gen, Subscribing)
	handler := func(payload []byte) { p.onNotification(gen, payload) }
	if err := link.EnableNotifications(char, handler); err != nil {
		release("subscription failed")
		var subErr *device.SubscriptionError
		if errors.As(err, &subErr) {
			return nil, err
		}
		return nil, &device.SubscriptionError{Status: device.StatusUnknown, Err: err}
	}

	logger.Debug("Subscribed to heart rate measurement")
	return &connection{address: address, generation: gen, link: link, char: char}, nil
}

// teardown unsubscribes before releasing the link.
func (p *Pipeline) teardown(conn *connection, reason string) {
	logger := p.logger.WithFields(logrus.Fields{
		"address":    conn.address,
		"generation": conn.generation,
		"reason":     reason,
	})
	if err := conn.link.DisableNotifications(conn.char); err != nil {
		logger.WithField("error", err).Debug("Unsubscribe failed")
	}
	if err := conn.link.Disconnect(); err != nil {
		logger.WithField("error", err).Debug("Disconnect failed")
	}
	logger.Debug("Connection torn down")
}

func (p *Pipeline) teardownAsync(conn *connection, reason string) {
	p.workers.Go(context.Background(), "gatt-teardown", func(context.Context) {
		p.teardown(conn, reason)
	})
}

// monitorLink posts linkLost when the link drops while ctx is alive.
func (p *Pipeline) monitorLink(ctx context.Context, conn *connection) {
	p.workers.Go(ctx, "gatt-link-monitor", func(ctx context.Context) {
		select {
		case <-conn.link.Disconnected():
			p.post(linkLost{gen: conn.generation})
		case <-ctx.Done():
		}
	})
}

func (p *Pipeline) step(gen uint64, state SessionState) {
	p.post(stepChanged{gen: gen, state: state})
}

// describeAttemptError renders an attempt failure for the status channel.
func describeAttemptError(address string, err error) (status.Level, string) {
	var (
		resolveErr *device.ResolveError
		subErr     *device.SubscriptionError
	)
	switch {
	case errors.As(err, &resolveErr):
		return status.LevelError, fmt.Sprintf("Could not connect to %s: %v", address, resolveErr.Err)
	case errors.Is(err, device.ErrServiceNotFound):
		return status.LevelError, fmt.Sprintf("Heart rate service not found on %s", address)
	case errors.Is(err, device.ErrCharacteristicNotFound):
		return status.LevelError, fmt.Sprintf("Heart rate measurement characteristic not found on %s", address)
	case errors.As(err, &subErr):
		return status.LevelError, fmt.Sprintf("Could not enable notifications on %s: %v", address, subErr)
	default:
		return status.LevelError, fmt.Sprintf("Connection to %s failed: %v", address, err)
	}
}
