package status

import (
	"context"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/groutine"
)

// Drainer continuously drains a Log to a console writer, colouring each line by level.
// It runs in a background goroutine and provides graceful shutdown via Cancel() and Wait().
type Drainer struct {
	cancelOnce sync.Once
	stop       chan struct{}
	wg         sync.WaitGroup
}

// Cancel signals the drainer to flush what is buffered and stop.
func (d *Drainer) Cancel() {
	d.cancelOnce.Do(func() {
		close(d.stop)
	})
}

// Wait blocks until the drainer goroutine has fully exited.
func (d *Drainer) Wait() {
	d.wg.Wait()
}

var levelColors = map[Level]*color.Color{
	LevelInfo:  color.New(color.FgCyan),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// FormatMessage renders a message the way the drainer prints it, without colour.
func FormatMessage(m Message) string {
	return m.At.Format("15:04:05") + " " + m.Text
}

func writeMessage(out io.Writer, m Message, logger *logrus.Logger) {
	c, ok := levelColors[m.Level]
	if !ok {
		c = levelColors[LevelInfo]
	}
	if _, err := c.Fprintln(out, FormatMessage(m)); err != nil {
		logger.WithField("error", err).Warn("Status drainer: write failed")
	}
}

// NewDrainer starts a goroutine that prints every message published to log onto out.
func NewDrainer(ctx context.Context, log *Log, out io.Writer, logger *logrus.Logger) *Drainer {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = logrus.New()
	}

	d := &Drainer{stop: make(chan struct{})}
	drain := func() {
		if _, err := log.Drain(func(m Message) { writeMessage(out, m, logger) }); err != nil {
			logger.WithField("error", err).Warn("Status drainer: drain failed")
		}
	}

	d.wg.Add(1)
	groutine.Go(ctx, "status-drainer", func(ctx context.Context) {
		defer d.wg.Done()
		defer logger.Debugf("%s: exiting", groutine.GetName(ctx))

		for {
			select {
			case <-log.Notify():
				drain()
			case <-d.stop:
				drain()
				return
			case <-ctx.Done():
				drain()
				return
			}
		}
	})
	return d
}
