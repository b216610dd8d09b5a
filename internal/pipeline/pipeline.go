// Package pipeline runs the heart-rate pipeline: scan, connect, subscribe, decode, store, publish.
//
// One loop goroutine owns PipelineState. Radio callbacks reach it through a RingChannel that
// never blocks the radio thread; GATT workers, link monitors and control calls reach it through
// a buffered command channel that is never dropped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/events"
	"github.com/srg/blehr/internal/groutine"
	"github.com/srg/blehr/internal/heartrate"
	"github.com/srg/blehr/internal/ringchan"
	"github.com/srg/blehr/internal/status"
	"github.com/srg/blehr/internal/store"
	"github.com/srg/blehr/scanner"
)

var (
	ErrNotRunning     = errors.New("pipeline is not running")
	ErrAlreadyStarted = errors.New("pipeline already started")
	ErrClosed         = errors.New("pipeline is closed")
)

// RadioFactory creates the radio on the first StartScanning.
type RadioFactory func() (device.Radio, error)

// StatusSink receives human-readable progress and error messages.
type StatusSink interface {
	Publish(level status.Level, text string)
}

type discardStatus struct{}

func (discardStatus) Publish(status.Level, string) {}

// Options tune the pipeline. Zero fields take the defaults below.
type Options struct {
	ConnectTimeout   time.Duration `default:"10s"`
	RetryDelay       time.Duration `default:"5s"`
	ReconnectDelay   time.Duration `default:"2s"`
	EventQueueSize   int           `default:"256"`
	CommandQueueSize int           `default:"64"`
	ChartCapacity    int           `default:"30"`
	HistoryCapacity  int           `default:"100"`
	ExcludeZero      bool
}

// radioEvent is posted from BLE delivery threads.
type radioEvent struct {
	sighting     *scanner.Sighting
	notification *notification
}

type notification struct {
	gen     uint64
	payload []byte
	at      time.Time
}

// Loop commands.
type (
	stepChanged struct {
		gen   uint64
		state SessionState
	}
	attemptResult struct {
		gen     uint64
		address string
		conn    *connection
		err     error
	}
	linkLost struct {
		gen uint64
	}
	scanFailed struct {
		err error
	}
	scanHalted struct{}
	controlRequest struct {
		op    controlOp
		reply chan error
	}
)

type controlOp int

const (
	opDisconnect controlOp = iota
	opStartScanning
	opStopScanning
	opClearHistory
)

// Pipeline is the heart-rate pipeline and its control surface.
type Pipeline struct {
	opts     Options
	newRadio RadioFactory
	status   StatusSink
	logger   *logrus.Logger
	now      func() time.Time

	sink  *events.Sink
	state *PipelineState

	events   *ringchan.RingChannel[radioEvent]
	cmds     chan any
	loopDone chan struct{}
	workers  groutine.Group

	lifeMu    sync.Mutex
	started   atomic.Bool
	closed    atomic.Bool
	loopCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error

	radioMu sync.Mutex
	radio   device.Radio
	scanner *scanner.Scanner

	snapshot atomic.Pointer[Snapshot]

	// onAttemptDone observes every finished attempt on the loop goroutine.
	onAttemptDone func(address string, err error)
}

// New creates a pipeline. The radio is created by newRadio on the first StartScanning.
func New(opts Options, newRadio RadioFactory, statusSink StatusSink, logger *logrus.Logger) *Pipeline {
	defaults.SetDefaults(&opts)
	if logger == nil {
		logger = logrus.New()
	}
	if statusSink == nil {
		statusSink = discardStatus{}
	}

	st := store.New(
		store.WithCapacities(opts.ChartCapacity, opts.HistoryCapacity),
		store.WithExcludeZero(opts.ExcludeZero),
	)
	p := &Pipeline{
		opts:     opts,
		newRadio: newRadio,
		status:   statusSink,
		logger:   logger,
		now:      time.Now,
		sink:     events.NewSink(logger),
		state:    newPipelineState(st),
		events:   ringchan.New[radioEvent](opts.EventQueueSize),
		cmds:     make(chan any, opts.CommandQueueSize),
		loopDone: make(chan struct{}),
	}
	p.workers.OnPanic = func(name string, recovered any) {
		logger.WithFields(logrus.Fields{
			"goroutine": name,
			"panic":     recovered,
		}).Error("Pipeline worker panicked")
	}
	p.publishSnapshot()
	return p
}

// Start launches the loop goroutine. The pipeline runs until ctx is done or Close is called.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.closed.Load() {
		return ErrClosed
	}
	if p.started.Load() {
		return ErrAlreadyStarted
	}
	p.loopCtx, p.cancel = context.WithCancel(ctx)
	p.started.Store(true)
	groutine.Go(p.loopCtx, "pipeline-loop", p.loop)
	return nil
}

// Close stops scanning, tears the connection down, stops the loop and waits for helper goroutines.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.lifeMu.Lock()
		p.closed.Store(true)
		wasStarted := p.started.Swap(true)
		p.lifeMu.Unlock()

		if sc := p.currentScanner(); sc != nil {
			sc.Stop()
		}
		if wasStarted {
			p.cancel()
			<-p.loopDone
		} else {
			close(p.loopDone)
		}
		p.workers.Wait()
		p.events.Close()

		if r := p.currentRadio(); r != nil {
			p.closeErr = r.Close()
		}
		p.logger.Info("Pipeline closed")
	})
	return p.closeErr
}

// StartScanning creates the radio if needed and begins scanning.
// Adapter initialisation failure is returned as *device.ScanError; scanning stays stopped.
func (p *Pipeline) StartScanning(ctx context.Context) error {
	if err := p.checkRunning(); err != nil {
		return err
	}
	sc, err := p.ensureScanner()
	if err != nil {
		scanErr := &device.ScanError{Op: "init", Err: err}
		p.status.Publish(status.LevelError, scanErr.Error())
		return scanErr
	}
	if err := p.request(ctx, opStartScanning); err != nil {
		return err
	}

	if err := sc.Start(p.loopCtx, p.onSighting); err != nil {
		if errors.Is(err, scanner.ErrAlreadyScanning) {
			return nil
		}
		p.post(scanHalted{})
		return err
	}
	p.status.Publish(status.LevelInfo, "Scanning for heart rate devices...")
	return nil
}

// StopScanning halts the scan and tears down any connection or in-flight attempt.
func (p *Pipeline) StopScanning(ctx context.Context) error {
	if err := p.checkRunning(); err != nil {
		return err
	}
	if sc := p.currentScanner(); sc != nil {
		sc.Stop()
	}
	return p.request(ctx, opStopScanning)
}

// ClearHistory empties both windows, resets Latest and republishes a zero sample.
func (p *Pipeline) ClearHistory(ctx context.Context) error {
	if err := p.checkRunning(); err != nil {
		return err
	}
	return p.request(ctx, opClearHistory)
}

// Disconnect drops the current connection or in-flight attempt. Scanning continues.
func (p *Pipeline) Disconnect(ctx context.Context) error {
	if err := p.checkRunning(); err != nil {
		return err
	}
	return p.request(ctx, opDisconnect)
}

// Latest returns the most recent sample, or a zero sample stamped now.
func (p *Pipeline) Latest() heartrate.Sample {
	return p.sink.Latest()
}

// OnSample registers an observer called on the pipeline goroutine after each store update.
func (p *Pipeline) OnSample(o events.Observer) {
	p.sink.OnSample(o)
}

// RecentWindow returns the chart window, oldest first.
func (p *Pipeline) RecentWindow() []heartrate.Sample {
	return p.state.Store.RecentWindow()
}

// History returns the history window, oldest first.
func (p *Pipeline) History() []heartrate.Sample {
	return p.state.Store.History()
}

// Stats returns average, max and min over the history window.
func (p *Pipeline) Stats() store.Stats {
	return p.state.Store.Stats()
}

// ZoneDistribution counts history samples per zone.
func (p *Pipeline) ZoneDistribution() *orderedmap.OrderedMap[heartrate.Zone, int] {
	return p.state.Store.ZoneDistribution()
}

// Store exposes the sample store for read-only consumers.
func (p *Pipeline) Store() *store.SampleStore {
	return p.state.Store
}

// Devices lists every heart-rate device seen, ordered by first sighting.
func (p *Pipeline) Devices() []DeviceRecord {
	out := make([]DeviceRecord, 0, p.state.Devices.Len())
	p.state.Devices.Range(func(_ string, rec DeviceRecord) bool {
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].Address < out[j].Address
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

// Snapshot returns the current pipeline state.
func (p *Pipeline) Snapshot() Snapshot {
	snap := *p.snapshot.Load()
	if sc := p.currentScanner(); sc != nil {
		snap.Scanner = sc.State()
	}
	snap.DroppedEvents = p.events.GetMetrics().Overwritten
	return snap
}

func (p *Pipeline) checkRunning() error {
	if !p.started.Load() {
		return ErrNotRunning
	}
	select {
	case <-p.loopDone:
		return ErrClosed
	default:
		return nil
	}
}

func (p *Pipeline) ensureScanner() (*scanner.Scanner, error) {
	p.radioMu.Lock()
	defer p.radioMu.Unlock()

	if p.scanner != nil {
		return p.scanner, nil
	}
	if p.newRadio == nil {
		return nil, fmt.Errorf("%w: no radio factory configured", device.ErrUnsupported)
	}
	radio, err := p.newRadio()
	if err != nil {
		p.logger.WithField("error", err).Error("Failed to initialise BLE adapter")
		return nil, err
	}
	p.radio = radio
	p.scanner = scanner.New(radio, p.logger)
	p.scanner.OnError(func(err error) { p.post(scanFailed{err: err}) })
	return p.scanner, nil
}

func (p *Pipeline) currentScanner() *scanner.Scanner {
	p.radioMu.Lock()
	defer p.radioMu.Unlock()
	return p.scanner
}

func (p *Pipeline) currentRadio() device.Radio {
	p.radioMu.Lock()
	defer p.radioMu.Unlock()
	return p.radio
}

// post hands msg to the loop. Returns false once the loop has exited.
func (p *Pipeline) post(msg any) bool {
	select {
	case p.cmds <- msg:
		return true
	case <-p.loopDone:
		return false
	}
}

func (p *Pipeline) request(ctx context.Context, op controlOp) error {
	req := controlRequest{op: op, reply: make(chan error, 1)}
	select {
	case p.cmds <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.loopDone:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.loopDone:
		return ErrClosed
	}
}

// onSighting runs on the radio thread.
func (p *Pipeline) onSighting(sg scanner.Sighting) {
	if _, err := p.events.Send(radioEvent{sighting: &sg}); err != nil {
		p.logger.WithField("address", sg.Address).Debug("Sighting after close dropped")
	}
}

// onNotification runs on the radio thread. The payload is copied: backends may reuse the buffer.
func (p *Pipeline) onNotification(gen uint64, payload []byte) {
	n := &notification{gen: gen, payload: append([]byte(nil), payload...), at: p.now()}
	if _, err := p.events.Send(radioEvent{notification: n}); err != nil {
		p.logger.Debug("Notification after close dropped")
	}
}

func (p *Pipeline) loop(ctx context.Context) {
	defer close(p.loopDone)
	defer p.logger.Debugf("%s: exiting", groutine.GetName(ctx))

	for {
		select {
		case <-ctx.Done():
			p.shutdownSession()
			return
		case ev, ok := <-p.events.C():
			if !ok {
				p.shutdownSession()
				return
			}
			switch {
			case ev.sighting != nil:
				p.handleSighting(*ev.sighting)
			case ev.notification != nil:
				p.handleNotification(ev.notification)
			}
		case msg := <-p.cmds:
			p.handleCommand(msg)
		}
		p.publishSnapshot()
	}
}

func (p *Pipeline) handleCommand(msg any) {
	st := p.state
	switch m := msg.(type) {
	case stepChanged:
		if m.gen != st.Generation || !st.Session.InFlight() {
			st.Counters.StaleEvents++
			return
		}
		st.Session = m.state
		p.logger.WithFields(logrus.Fields{
			"address": st.Target,
			"state":   m.state.String(),
		}).Debug("Session state changed")
		switch m.state {
		case ServiceDiscovery:
			p.status.Publish(status.LevelInfo, fmt.Sprintf("Discovering heart rate service on %s...", st.Target))
		case Subscribing:
			p.status.Publish(status.LevelInfo, "Enabling heart rate notifications...")
		}

	case attemptResult:
		p.handleAttemptResult(m)

	case linkLost:
		if m.gen != st.Generation || st.Session != Subscribed {
			st.Counters.StaleEvents++
			return
		}
		st.Counters.LinkLosses++
		address := st.Target
		p.status.Publish(status.LevelWarn, fmt.Sprintf("Device %s disconnected", address))
		p.resetSession("link lost")
		p.setRetry(address, p.opts.ReconnectDelay, "link lost")

	case scanFailed:
		st.Scanning = false
		p.status.Publish(status.LevelError, m.err.Error())

	case scanHalted:
		st.Scanning = false

	case controlRequest:
		m.reply <- p.handleControl(m.op)

	default:
		p.logger.WithField("type", fmt.Sprintf("%T", msg)).Warn("Unknown pipeline command")
	}
}

func (p *Pipeline) handleControl(op controlOp) error {
	st := p.state
	switch op {
	case opDisconnect:
		if st.Session == Idle {
			return nil
		}
		address := st.Target
		p.resetSession("disconnect requested")
		p.setRetry(address, p.opts.RetryDelay, "")
		p.status.Publish(status.LevelInfo, fmt.Sprintf("Disconnected from %s", address))
	case opStartScanning:
		st.Scanning = true
	case opStopScanning:
		st.Scanning = false
		p.resetSession("scanning stopped")
		p.status.Publish(status.LevelInfo, "Scanning stopped")
	case opClearHistory:
		st.Store.Clear()
		p.sink.Reset(p.now())
		p.status.Publish(status.LevelInfo, "History cleared")
	default:
		return fmt.Errorf("unknown control operation %d", op)
	}
	return nil
}

func (p *Pipeline) handleSighting(sg scanner.Sighting) {
	st := p.state
	st.Counters.Sightings++

	rec, known := st.Devices.Get(sg.Address)
	if !known {
		rec = DeviceRecord{Address: sg.Address, FirstSeen: sg.SeenAt}
		p.logger.WithFields(logrus.Fields{
			"address": sg.Address,
			"name":    sg.Name,
			"rssi":    sg.RSSI,
		}).Info("Discovered heart rate device")
		p.status.Publish(status.LevelInfo, fmt.Sprintf("Found heart rate device %s (%s), RSSI %d dBm", displayName(sg.Name), sg.Address, sg.RSSI))
	}
	if sg.Name != "" {
		rec.Name = sg.Name
	}
	rec.RSSI = sg.RSSI
	rec.LastSeen = sg.SeenAt

	// Sightings drained after a stop or during shutdown only update the registry.
	// One connection at a time; an address already being handled is never re-resolved.
	if !st.Scanning || p.loopCtx.Err() != nil || st.Session != Idle || p.now().Before(rec.RetryAt) {
		st.Devices.Set(sg.Address, rec)
		return
	}

	rec.Attempts++
	rec.RetryAt = time.Time{}
	st.Devices.Set(sg.Address, rec)
	p.beginAttempt(rec)
}

func (p *Pipeline) beginAttempt(rec DeviceRecord) {
	st := p.state
	radio := p.currentRadio()
	if radio == nil {
		return
	}

	st.Generation++
	st.Session = Resolving
	st.Target = rec.Address
	st.Counters.Attempts++

	ctx, cancel := context.WithCancel(p.loopCtx)
	st.attemptCancel = cancel

	p.status.Publish(status.LevelInfo, fmt.Sprintf("Connecting to %s...", displayName(rec.Name)))
	gen, address := st.Generation, rec.Address
	p.workers.Go(ctx, "gatt-session", func(ctx context.Context) {
		p.runAttempt(ctx, gen, address, radio)
	})
}

func (p *Pipeline) handleAttemptResult(m attemptResult) {
	st := p.state
	if p.onAttemptDone != nil {
		p.onAttemptDone(m.address, m.err)
	}

	if m.gen != st.Generation || !st.Session.InFlight() {
		st.Counters.StaleEvents++
		if m.conn != nil {
			p.teardownAsync(m.conn, "stale attempt")
		}
		return
	}

	if m.err != nil {
		st.Counters.Failures++
		level, text := describeAttemptError(m.address, m.err)
		p.status.Publish(level, text)
		p.logger.WithFields(logrus.Fields{
			"address": m.address,
			"error":   m.err,
		}).Warn("Connection attempt failed")
		p.resetSession("attempt failed")
		p.setRetry(m.address, p.opts.RetryDelay, m.err.Error())
		return
	}

	st.Session = Subscribed
	st.Conn = m.conn
	st.Counters.Subscriptions++
	p.status.Publish(status.LevelInfo, fmt.Sprintf("Subscribed to heart rate notifications from %s", m.address))

	ctx, cancel := context.WithCancel(p.loopCtx)
	prev := st.attemptCancel
	st.attemptCancel = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}
	p.monitorLink(ctx, m.conn)
}

func (p *Pipeline) handleNotification(n *notification) {
	st := p.state
	st.Counters.Notifications++

	// Notifications may overtake the attempt result on the other queue.
	if n.gen != st.Generation || (st.Session != Subscribed && st.Session != Subscribing) {
		st.Counters.StaleEvents++
		return
	}

	sample, err := heartrate.Decode(n.payload, n.at)
	if err != nil {
		st.Counters.DecodeErrors++
		p.logger.WithFields(logrus.Fields{
			"payload": fmt.Sprintf("% x", n.payload),
			"error":   err,
		}).Warn("Dropping malformed heart rate measurement")
		p.status.Publish(status.LevelWarn, fmt.Sprintf("Decode error: %v", err))
		return
	}

	if sample.CapturedAt.Before(st.LastSampleAt) {
		sample.CapturedAt = st.LastSampleAt
	}
	st.LastSampleAt = sample.CapturedAt

	st.Store.Append(sample)
	st.Counters.Samples++
	p.sink.Publish(sample)
}

// resetSession returns the session to Idle, retiring the current generation.
func (p *Pipeline) resetSession(reason string) {
	st := p.state
	if st.attemptCancel != nil {
		st.attemptCancel()
		st.attemptCancel = nil
	}
	if st.Conn != nil {
		p.teardownAsync(st.Conn, reason)
		st.Conn = nil
	}
	if st.Session != Idle {
		st.Generation++
	}
	st.Session = Idle
	st.Target = ""
}

// shutdownSession tears the connection down synchronously on loop exit.
func (p *Pipeline) shutdownSession() {
	st := p.state
	if st.attemptCancel != nil {
		st.attemptCancel()
		st.attemptCancel = nil
	}
	if st.Conn != nil {
		p.teardown(st.Conn, "pipeline closing")
		st.Conn = nil
	}
	st.Scanning = false
	st.Session = Idle
	st.Target = ""
	st.Generation++
	p.publishSnapshot()
}

func (p *Pipeline) setRetry(address string, delay time.Duration, lastErr string) {
	if address == "" {
		return
	}
	rec, ok := p.state.Devices.Get(address)
	if !ok {
		return
	}
	rec.RetryAt = p.now().Add(delay)
	rec.LastError = lastErr
	p.state.Devices.Set(address, rec)
}

func (p *Pipeline) publishSnapshot() {
	st := p.state
	p.snapshot.Store(&Snapshot{
		Session:    st.Session,
		Device:     st.Target,
		Generation: st.Generation,
		Counters:   st.Counters,
		HistoryLen: st.Store.HistoryLen(),
	})
}

func displayName(name string) string {
	if name == "" {
		return "unnamed device"
	}
	return name
}
