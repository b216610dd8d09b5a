// Package forward ships heart-rate samples to external brokers.
//
// Each Forwarder is an Event Sink observer: it queues samples on an overwrite-oldest RingChannel
// so the pipeline goroutine never waits on the network, and a named goroutine drains the queue
// into a Publisher.
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/events"
	"github.com/srg/blehr/internal/groutine"
	"github.com/srg/blehr/internal/heartrate"
	"github.com/srg/blehr/internal/ringchan"
)

const DefaultQueueSize = 128

// Message is the wire form of a forwarded sample.
type Message struct {
	Session   string           `json:"session"`
	Seq       uint64           `json:"seq"`
	HeartRate uint16           `json:"heartRate"`
	Timestamp time.Time        `json:"timestamp"`
	Zone      heartrate.Zone   `json:"zone"`
	Status    heartrate.Status `json:"status"`
}

// JSON encodes the message.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// Publisher delivers one message to an external system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Metrics are a forwarder's delivery counters.
type Metrics struct {
	Queued    int64 `json:"queued"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Forwarder queues samples and publishes them on its own goroutine.
type Forwarder struct {
	pub     Publisher
	queue   *ringchan.RingChannel[Message]
	session string
	seq     atomic.Uint64
	logger  *logrus.Logger

	timeout   time.Duration
	published atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

// NewForwarder wraps pub. queueSize <= 0 uses DefaultQueueSize.
func NewForwarder(pub Publisher, queueSize int, logger *logrus.Logger) *Forwarder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Forwarder{
		pub:     pub,
		queue:   ringchan.New[Message](queueSize),
		session: uuid.NewString(),
		logger:  logger,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

// Session identifies this run in every forwarded message.
func (f *Forwarder) Session() string {
	return f.session
}

// Observer returns the Event Sink observer feeding this forwarder. Zero samples are skipped.
func (f *Forwarder) Observer() events.Observer {
	return func(sample heartrate.Sample) {
		if sample.IsZero() {
			return
		}
		msg := Message{
			Session:   f.session,
			Seq:       f.seq.Add(1),
			HeartRate: sample.BPM,
			Timestamp: sample.CapturedAt,
			Zone:      sample.Zone(),
			Status:    sample.Status(),
		}
		if dropped, err := f.queue.Send(msg); err != nil {
			f.logger.WithField("publisher", f.pub.Name()).Debug("Sample after close dropped")
		} else if dropped > 0 {
			f.logger.WithFields(logrus.Fields{
				"publisher": f.pub.Name(),
				"dropped":   dropped,
			}).Warn("Forward queue full, oldest samples dropped")
		}
	}
}

// Start launches the publishing goroutine. It runs until Close.
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.closed {
		return
	}
	f.started = true
	groutine.Go(ctx, "forward-"+f.pub.Name(), f.run)
}

func (f *Forwarder) run(ctx context.Context) {
	defer close(f.done)
	logger := f.logger.WithField("publisher", f.pub.Name())
	logger.Debug("Forwarder started")

	for {
		msg, ok := f.queue.Receive()
		if !ok {
			logger.Debug("Forwarder stopped")
			return
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		err := f.pub.Publish(pubCtx, msg)
		cancel()
		if err != nil {
			f.failed.Add(1)
			logger.WithFields(logrus.Fields{
				"seq":   msg.Seq,
				"error": err,
			}).Warn("Failed to forward sample")
			continue
		}
		f.published.Add(1)
	}
}

// Close stops accepting samples, publishes what is already queued and closes the publisher.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	started := f.started
	f.mu.Unlock()

	f.queue.Close()
	if started {
		<-f.done
	}
	if err := f.pub.Close(); err != nil {
		return fmt.Errorf("close %s publisher: %w", f.pub.Name(), err)
	}
	return nil
}

// Metrics returns a snapshot of the delivery counters.
func (f *Forwarder) Metrics() Metrics {
	qm := f.queue.GetMetrics()
	return Metrics{
		Queued:    qm.Written,
		Published: f.published.Load(),
		Dropped:   qm.Overwritten,
		Failed:    f.failed.Load(),
	}
}
