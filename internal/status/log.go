// Package status carries the pipeline's human-readable status messages.
package status

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// Level classifies a status message.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalText renders the level name in JSON payloads.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel parses a level name as produced by String.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown status level %q", s)
	}
}

// Message is one status line.
type Message struct {
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Metrics provides lock-free counters for a Log.
type Metrics struct {
	Published   int64 `json:"published"`
	Overwritten int64 `json:"overwritten"`
	Errors      int64 `json:"errors"`
}

// MaxBufferSize guards against accidental misconfiguration.
const MaxBufferSize uint32 = 64 * 1024

// Log keeps the most recent status message and a bounded ring of recent ones.
// When the ring is full the oldest message is overwritten.
//
// All methods are thread-safe.
type Log struct {
	buffer mpmc.RichOverlappedRingBuffer[Message]
	last   atomic.Pointer[Message]
	notify chan struct{}
	logger *logrus.Logger
	now    func() time.Time

	published   atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64
}

// NewLog creates a status log with room for bufferSize messages (rounded up to a power of two).
func NewLog(bufferSize uint32, logger *logrus.Logger) (*Log, error) {
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Log{
		buffer: mpmc.NewOverlappedRingBuffer[Message](bufferSize),
		notify: make(chan struct{}, 1),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Publish records a status message and mirrors it to the logger.
func (l *Log) Publish(level Level, text string) {
	msg := Message{Level: level, Text: text, At: l.now()}
	l.last.Store(&msg)

	entry := l.logger.WithField("status", level.String())
	switch level {
	case LevelError:
		entry.Error(text)
	case LevelWarn:
		entry.Warn(text)
	default:
		entry.Info(text)
	}

	overwrites, err := l.buffer.EnqueueM(msg)
	if err != nil {
		l.errors.Add(1)
		l.logger.WithField("error", err).Warn("Status log: enqueue failed")
		return
	}
	l.overwritten.Add(int64(overwrites))
	l.published.Add(1)

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Last returns the most recent message.
func (l *Log) Last() (Message, bool) {
	if m := l.last.Load(); m != nil {
		return *m, true
	}
	return Message{}, false
}

// Notify signals that new messages are waiting to be drained.
func (l *Log) Notify() <-chan struct{} {
	return l.notify
}

// Drain hands every buffered message to fn, oldest first, and returns how many were drained.
func (l *Log) Drain(fn func(Message)) (int, error) {
	n := 0
	for !l.buffer.IsEmpty() {
		msg, err := l.buffer.Dequeue()
		if err != nil {
			return n, fmt.Errorf("buffer dequeue error: %w", err)
		}
		fn(msg)
		n++
	}
	return n, nil
}

// GetMetrics returns a copy of the current counters.
func (l *Log) GetMetrics() Metrics {
	return Metrics{
		Published:   l.published.Load(),
		Overwritten: l.overwritten.Load(),
		Errors:      l.errors.Load(),
	}
}
