package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blehr/internal/heartrate"
	"github.com/srg/blehr/internal/pipeline"
	"github.com/srg/blehr/internal/status"
	"github.com/srg/blehr/internal/store"
	"github.com/srg/blehr/internal/testutils"
	"github.com/srg/blehr/scanner"
)

var capturedAt = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

type fakeFeed struct {
	latest  heartrate.Sample
	window  []heartrate.Sample
	stats   store.Stats
	devices []pipeline.DeviceRecord
	snap    pipeline.Snapshot
}

func (f *fakeFeed) Latest() heartrate.Sample           { return f.latest }
func (f *fakeFeed) RecentWindow() []heartrate.Sample   { return f.window }
func (f *fakeFeed) Stats() store.Stats                 { return f.stats }
func (f *fakeFeed) Devices() []pipeline.DeviceRecord   { return f.devices }
func (f *fakeFeed) Snapshot() pipeline.Snapshot        { return f.snap }
func (f *fakeFeed) ZoneDistribution() *orderedmap.OrderedMap[heartrate.Zone, int] {
	dist := orderedmap.New[heartrate.Zone, int]()
	for _, z := range heartrate.Zones() {
		dist.Set(z, 0)
	}
	dist.Set(heartrate.ZoneFatBurn, len(f.window))
	return dist
}

type fakeControls struct {
	calls []string
	err   error
}

func (c *fakeControls) record(name string) error {
	c.calls = append(c.calls, name)
	return c.err
}

func (c *fakeControls) StartScanning(context.Context) error { return c.record("start") }
func (c *fakeControls) StopScanning(context.Context) error  { return c.record("stop") }
func (c *fakeControls) ClearHistory(context.Context) error  { return c.record("clear") }
func (c *fakeControls) Disconnect(context.Context) error    { return c.record("disconnect") }

type fakeStatus struct{ msg status.Message }

func (s fakeStatus) Last() (status.Message, bool) { return s.msg, s.msg.Text != "" }

type ServerTestSuite struct {
	suite.Suite
	feed     *fakeFeed
	controls *fakeControls
	server   *Server
	handler  http.Handler
}

func (s *ServerTestSuite) SetupTest() {
	s.feed = &fakeFeed{
		latest: heartrate.Sample{BPM: 104, CapturedAt: capturedAt},
		window: []heartrate.Sample{
			{BPM: 98, CapturedAt: capturedAt.Add(-time.Second)},
			{BPM: 104, CapturedAt: capturedAt},
		},
		stats: store.Stats{Average: 101, Max: 104, Min: 98, Count: 2},
		devices: []pipeline.DeviceRecord{
			{Address: "AA:BB:CC:DD:EE:01", Name: "Polar H10", RSSI: -61, FirstSeen: capturedAt, LastSeen: capturedAt, Attempts: 1},
		},
		snap: pipeline.Snapshot{Scanner: scanner.Scanning, Session: pipeline.Subscribed, Device: "AA:BB:CC:DD:EE:01", Generation: 3},
	}
	s.controls = &fakeControls{}
	last := fakeStatus{msg: status.Message{Level: status.LevelInfo, Text: "Subscribed", At: capturedAt}}
	s.server = New("127.0.0.1:0", s.feed, s.controls, last, testutils.QuietLogger())
	s.handler = s.server.Handler()
}

func (s *ServerTestSuite) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func (s *ServerTestSuite) TestHeartRate() {
	// GOAL: Verify /api/heartrate reflects Latest()
	//
	// TEST SCENARIO: GET /api/heartrate → 200 with heartRate and ISO-8601 timestamp

	rec := s.do(http.MethodGet, "/api/heartrate")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Assert().Equal("application/json", rec.Header().Get("Content-Type"))

	testutils.NewJSONAsserter(s.T()).WithOptions(testutils.WithIgnoreExtraKeys(false)).
		Assert(rec.Body.String(), `{"heartRate":104,"timestamp":"2025-04-02T09:30:00Z"}`)
}

func (s *ServerTestSuite) TestHeartRateWithoutData() {
	s.feed.latest = heartrate.Zero(capturedAt)

	rec := s.do(http.MethodGet, "/api/heartrate")
	testutils.NewJSONAsserter(s.T()).Assert(rec.Body.String(), `{"heartRate":0,"timestamp":"<<PRESENCE>>"}`)
}

func (s *ServerTestSuite) TestStats() {
	// GOAL: Verify /api/stats combines the latest classification, window stats and zone distribution
	//
	// TEST SCENARIO: GET /api/stats → zone, status, aggregates and every zone key present

	rec := s.do(http.MethodGet, "/api/stats")
	s.Require().Equal(http.StatusOK, rec.Code)

	testutils.NewJSONAsserter(s.T()).Assert(rec.Body.String(), `{
		"heartRate": 104,
		"zone": "FatBurn",
		"status": "Normal",
		"average": 101,
		"max": 104,
		"min": 98,
		"count": 2,
		"zones": {"Unknown":0,"Resting":0,"WarmUp":0,"FatBurn":2,"Cardio":0,"Extreme":0}
	}`)
	s.Assert().Less(strings.Index(rec.Body.String(), `"Resting"`), strings.Index(rec.Body.String(), `"Extreme"`),
		"zones MUST be ordered by intensity")
}

func (s *ServerTestSuite) TestHistory() {
	rec := s.do(http.MethodGet, "/api/history")
	s.Require().Equal(http.StatusOK, rec.Code)

	var samples []heartrate.Sample
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &samples))
	s.Require().Len(samples, 2)
	s.Assert().Equal(uint16(98), samples[0].BPM, "history MUST be oldest first")
}

func (s *ServerTestSuite) TestDevicesAndStatus() {
	rec := s.do(http.MethodGet, "/api/devices")
	s.Require().Equal(http.StatusOK, rec.Code)
	var devices []map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &devices))
	s.Require().Len(devices, 1)
	testutils.NewJSONAsserter(s.T()).AssertValue(devices[0], `{"address":"AA:BB:CC:DD:EE:01","name":"Polar H10","rssi":-61}`)
	s.Assert().NotContains(devices[0], "retryAt", "zero RetryAt MUST be omitted")

	rec = s.do(http.MethodGet, "/api/status")
	s.Require().Equal(http.StatusOK, rec.Code)
	testutils.NewJSONAsserter(s.T()).Assert(rec.Body.String(), `{
		"pipeline": {"scanner":"Scanning","session":"Subscribed","device":"AA:BB:CC:DD:EE:01","generation":3},
		"message": {"level":"info","text":"Subscribed"}
	}`)
}

func (s *ServerTestSuite) TestControls() {
	// GOAL: Verify control routes call the pipeline and map errors to status codes
	//
	// TEST SCENARIO: POST each control → 204 and call recorded → failing control → 503 with error body

	for _, path := range []string{"/api/scan/start", "/api/scan/stop", "/api/history/clear", "/api/disconnect"} {
		rec := s.do(http.MethodPost, path)
		s.Assert().Equal(http.StatusNoContent, rec.Code, "POST %s MUST succeed", path)
	}
	s.Assert().Equal([]string{"start", "stop", "clear", "disconnect"}, s.controls.calls)

	s.controls.err = pipeline.ErrNotRunning
	rec := s.do(http.MethodPost, "/api/scan/start")
	s.Assert().Equal(http.StatusServiceUnavailable, rec.Code)
	testutils.NewJSONAsserter(s.T()).Assert(rec.Body.String(), `{"error":"pipeline is not running"}`)

	rec = s.do(http.MethodGet, "/api/scan/start")
	s.Assert().Equal(http.StatusMethodNotAllowed, rec.Code, "controls MUST require POST")
}

func (s *ServerTestSuite) TestIndexPage() {
	rec := s.do(http.MethodGet, "/")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Assert().Contains(rec.Header().Get("Content-Type"), "text/html")
	s.Assert().Contains(rec.Body.String(), "fetch('/api/heartrate')")
	s.Assert().Contains(rec.Body.String(), "setInterval(updateHeartRate, 2000)")

	s.Assert().Equal(http.StatusNotFound, s.do(http.MethodGet, "/nope").Code)
}

func (s *ServerTestSuite) TestStartAndShutdown() {
	s.Require().NoError(s.server.Start(context.Background()))

	resp, err := http.Get("http://" + s.server.Addr() + "/api/heartrate")
	s.Require().NoError(err)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(resp.Body.Close())
	s.Require().NoError(err)
	s.Assert().Equal(http.StatusOK, resp.StatusCode)
	s.Assert().Contains(string(body), `"heartRate":104`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.server.Shutdown(ctx))

	other := New("127.0.0.1:0", s.feed, s.controls, nil, testutils.QuietLogger())
	s.Require().NoError(other.Start(context.Background()))
	defer other.Shutdown(context.Background())
	busy := New(other.Addr(), s.feed, s.controls, nil, testutils.QuietLogger())
	s.Assert().ErrorContains(busy.Start(context.Background()), "listen", "bind conflict MUST be returned")
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
