package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/heartrate"
	"github.com/srg/blehr/internal/pipeline"
	"github.com/srg/blehr/internal/status"
	"github.com/srg/blehr/internal/testutils"
	"github.com/srg/blehr/internal/web"
)

type RemoteCommandTestSuite struct {
	CommandTestSuite
	pipeline  *pipeline.Pipeline
	statusLog *status.Log
	server    *httptest.Server
}

func (s *RemoteCommandTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	remoteTimeout = 2 * time.Second
	statusJSON = false

	logger := testutils.QuietLogger()
	var err error
	s.statusLog, err = status.NewLog(16, logger)
	s.Require().NoError(err)
	s.pipeline = pipeline.New(pipeline.Options{}, func() (device.Radio, error) { return s.Radio, nil }, s.statusLog, logger)
	s.server = httptest.NewServer(web.New("", s.pipeline, s.pipeline, s.statusLog, logger).Handler())
	remoteURL = s.server.URL
}

func (s *RemoteCommandTestSuite) TearDownTest() {
	s.server.Close()
	_ = s.pipeline.Close()
	s.CommandTestSuite.TearDownTest()
}

func (s *RemoteCommandTestSuite) TestStatusPrintsStateAndStats() {
	// GOAL: Verify status renders the monitor state, statistics and zone table
	//
	// TEST SCENARIO: History holds 70 and 90 BPM → output shows Idle session, 80/90/70 and the zone rows

	now := time.Now()
	s.pipeline.Store().Append(heartrate.Sample{BPM: 70, CapturedAt: now})
	s.pipeline.Store().Append(heartrate.Sample{BPM: 90, CapturedAt: now})
	s.statusLog.Publish(status.LevelInfo, "Scanning for heart rate devices...")

	out, err := s.ExecuteCommand(rootCmd, "status", "--url", s.server.URL)
	s.Require().NoError(err, "status MUST succeed")
	s.Assert().Contains(out, "Idle", "session state MUST be printed")
	s.Assert().Contains(out, "no data", "missing live value MUST be reported")
	s.Assert().Contains(out, "80 / 90 / 70 over 2 samples", "statistics MUST be printed")
	s.Assert().Contains(out, "Scanning for heart rate devices...", "last status MUST be printed")
	s.Assert().Contains(out, "ZONE", "zone table MUST be printed")
	s.Assert().Contains(out, "FatBurn", "every zone MUST be listed")
}

func (s *RemoteCommandTestSuite) TestStatusJSON() {
	// GOAL: Verify --json prints the three responses under stable keys
	//
	// TEST SCENARIO: status --json → object with status, stats, heartrate keys

	out, err := s.ExecuteCommand(rootCmd, "status", "--json", "--url", s.server.URL)
	s.Require().NoError(err)

	var doc map[string]json.RawMessage
	s.Require().NoError(json.Unmarshal([]byte(out), &doc), "output MUST be valid JSON")
	s.Assert().Contains(doc, "status")
	s.Assert().Contains(doc, "stats")
	s.Assert().Contains(doc, "heartrate")
}

func (s *RemoteCommandTestSuite) TestClearRequiresRunningMonitor() {
	// GOAL: Verify clear surfaces the server's error when the pipeline is not running
	//
	// TEST SCENARIO: Pipeline never started → 503 → error carries the server message

	_, err := s.ExecuteCommand(rootCmd, "clear", "--url", s.server.URL)
	s.Require().Error(err, "clear MUST fail against a stopped pipeline")
	s.Assert().Contains(err.Error(), "/api/history/clear")
	s.Assert().Contains(err.Error(), pipeline.ErrNotRunning.Error())
}

func (s *RemoteCommandTestSuite) TestClearEmptiesHistory() {
	// GOAL: Verify clear empties the history of a running pipeline
	//
	// TEST SCENARIO: Start pipeline, append a sample → clear → history empty

	s.Require().NoError(s.pipeline.Start(context.Background()))
	s.pipeline.Store().Append(heartrate.Sample{BPM: 70, CapturedAt: time.Now()})

	out, err := s.ExecuteCommand(rootCmd, "clear", "--url", s.server.URL)
	s.Require().NoError(err, "clear MUST succeed")
	s.Assert().Contains(out, "History cleared")
	s.Assert().Empty(s.pipeline.History(), "history MUST be empty")
}

func (s *RemoteCommandTestSuite) TestUnreachableMonitor() {
	// GOAL: Verify a dead URL maps to ErrServerUnreachable
	//
	// TEST SCENARIO: Closed server → status fails with ErrServerUnreachable

	dead := httptest.NewServer(nil)
	url := dead.URL
	dead.Close()

	_, err := s.ExecuteCommand(rootCmd, "status", "--url", url)
	s.Require().ErrorIs(err, ErrServerUnreachable)
	s.Assert().True(strings.Contains(FormatUserError(err), "blehr monitor"), "hint MUST be shown")
}

func TestPrintStatusLayout(t *testing.T) {
	// GOAL: Verify the status report layout
	//
	// TEST SCENARIO: Subscribed pipeline without a live value → aligned summary then zone table

	var st remoteStatus
	st.Pipeline.Scanner = "Scanning"
	st.Pipeline.Session = "Subscribed"
	st.Pipeline.Device = "AA:BB:CC:DD:EE:01"
	st.Pipeline.Counters = pipeline.Counters{Attempts: 2, Subscriptions: 1, Failures: 1, Samples: 3, DecodeErrors: 1}

	zones := orderedmap.New[heartrate.Zone, int]()
	for _, z := range heartrate.Zones() {
		zones.Set(z, 0)
	}
	zones.Set(heartrate.ZoneWarmUp, 3)
	stats := web.StatsResponse{Average: 72, Max: 80, Min: 64, Count: 3, Zones: zones}

	buf := &syncBuffer{}
	require.NoError(t, printStatus(buf, st, stats, web.HeartRateResponse{}))

	expected := `Scanner:              Scanning
Session:              Subscribed (AA:BB:CC:DD:EE:01)
Heart rate:           no data
Average / Max / Min:  72 / 80 / 64 over 3 samples
Samples:              3 (1 decode errors)
Connections:          2 attempts, 1 subscribed, 1 failed, 0 link losses

ZONE     SAMPLES
Unknown  0
Resting  0
WarmUp   3
FatBurn  0
Cardio   0
Extreme  0
`
	testutils.NewTextAsserter(t).WithOptions(testutils.WithIgnoreTrailingWhitespace(true)).Assert(buf.String(), expected)
}

func TestRemoteCommandTestSuite(t *testing.T) {
	suite.Run(t, new(RemoteCommandTestSuite))
}
