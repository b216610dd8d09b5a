// Package web serves the HTTP status endpoint and the heart-rate card page.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blehr/internal/groutine"
	"github.com/srg/blehr/internal/heartrate"
	"github.com/srg/blehr/internal/pipeline"
	"github.com/srg/blehr/internal/status"
	"github.com/srg/blehr/internal/store"
)

const DefaultAddr = ":5001"

//go:embed index.html
var indexHTML []byte

// Feed is the read side of the pipeline.
type Feed interface {
	Latest() heartrate.Sample
	RecentWindow() []heartrate.Sample
	Stats() store.Stats
	ZoneDistribution() *orderedmap.OrderedMap[heartrate.Zone, int]
	Devices() []pipeline.DeviceRecord
	Snapshot() pipeline.Snapshot
}

// Controls is the pipeline control surface.
type Controls interface {
	StartScanning(ctx context.Context) error
	StopScanning(ctx context.Context) error
	ClearHistory(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// StatusSource exposes the last status message.
type StatusSource interface {
	Last() (status.Message, bool)
}

// HeartRateResponse is the /api/heartrate body.
type HeartRateResponse struct {
	HeartRate int       `json:"heartRate"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsResponse is the /api/stats body.
type StatsResponse struct {
	HeartRate int                                          `json:"heartRate"`
	Zone      heartrate.Zone                               `json:"zone"`
	Status    heartrate.Status                             `json:"status"`
	Average   int                                          `json:"average"`
	Max       int                                          `json:"max"`
	Min       int                                          `json:"min"`
	Count     int                                          `json:"count"`
	Zones     *orderedmap.OrderedMap[heartrate.Zone, int] `json:"zones"`
}

// StatusResponse is the /api/status body.
type StatusResponse struct {
	Pipeline pipeline.Snapshot `json:"pipeline"`
	Message  *status.Message   `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the HTTP front of the pipeline.
type Server struct {
	addr     string
	feed     Feed
	controls Controls
	status   StatusSource
	logger   *logrus.Logger

	srv      *http.Server
	listener net.Listener
	done     chan struct{}
	// timeout bounds control requests.
	timeout time.Duration
}

// New creates a server. status may be nil.
func New(addr string, feed Feed, controls Controls, statusSource StatusSource, logger *logrus.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		addr:     addr,
		feed:     feed,
		controls: controls,
		status:   statusSource,
		logger:   logger,
		done:     make(chan struct{}),
		timeout:  5 * time.Second,
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/heartrate", s.handleHeartRate)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/scan/start", s.control(s.controls.StartScanning))
	mux.HandleFunc("POST /api/scan/stop", s.control(s.controls.StopScanning))
	mux.HandleFunc("POST /api/history/clear", s.control(s.controls.ClearHistory))
	mux.HandleFunc("POST /api/disconnect", s.control(s.controls.Disconnect))
	return mux
}

// Start binds the address and serves in the background. Bind errors are returned.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

	groutine.Go(ctx, "http-server", func(ctx context.Context) {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("error", err).Error("HTTP server stopped")
		}
	})
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleHeartRate(w http.ResponseWriter, _ *http.Request) {
	latest := s.feed.Latest()
	writeJSON(w, http.StatusOK, HeartRateResponse{HeartRate: int(latest.BPM), Timestamp: latest.CapturedAt})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	latest := s.feed.Latest()
	st := s.feed.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		HeartRate: int(latest.BPM),
		Zone:      latest.Zone(),
		Status:    latest.Status(),
		Average:   st.Average,
		Max:       st.Max,
		Min:       st.Min,
		Count:     st.Count,
		Zones:     s.feed.ZoneDistribution(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.RecentWindow())
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Devices())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Pipeline: s.feed.Snapshot()}
	if s.status != nil {
		if msg, ok := s.status.Last(); ok {
			resp.Message = &msg
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) control(op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()

		if err := op(ctx); err != nil {
			s.logger.WithFields(logrus.Fields{
				"path":  r.URL.Path,
				"error": err,
			}).Warn("Control request failed")
			writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNotRunning), errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
