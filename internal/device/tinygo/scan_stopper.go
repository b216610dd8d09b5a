package tinygo

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// stopRetryInterval is how often a refused StopScan is repeated.
const stopRetryInterval = 10 * time.Millisecond

// stopScanWhenDone calls stop once ctx is done and keeps calling it until scanDone closes.
//
// BlueZ refuses StopScan until the adapter has registered the scan, so a stop issued
// right after the scan began is lost unless it is repeated.
func stopScanWhenDone(ctx context.Context, scanDone <-chan struct{}, stop func() error, logger *logrus.Logger) {
	select {
	case <-ctx.Done():
	case <-scanDone:
		return
	}

	ticker := time.NewTicker(stopRetryInterval)
	defer ticker.Stop()
	for {
		err := stop()
		if err == nil {
			return
		}
		logger.WithField("error", err).Debug("StopScan refused, retrying")
		select {
		case <-scanDone:
			return
		case <-ticker.C:
		}
	}
}
