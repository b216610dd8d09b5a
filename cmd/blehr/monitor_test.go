package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/heartrate"
	"github.com/srg/blehr/internal/pipeline"
	"github.com/srg/blehr/internal/status"
	"github.com/srg/blehr/internal/testutils"
	"github.com/srg/blehr/internal/web"
	"github.com/srg/blehr/pkg/config"
)

type MonitorTestSuite struct {
	CommandTestSuite
	cfg       *config.Config
	statusLog *status.Log
	monitor   *monitor
}

func (s *MonitorTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()

	s.cfg = config.DefaultConfig()
	s.cfg.Web.Addr = "127.0.0.1:0"
	s.cfg.Pipeline.RetryDelay = 50 * time.Millisecond
	s.cfg.Pipeline.ReconnectDelay = 50 * time.Millisecond

	logger := testutils.QuietLogger()
	var err error
	s.statusLog, err = status.NewLog(64, logger)
	s.Require().NoError(err)
}

func (s *MonitorTestSuite) newMonitor() *monitor {
	logger := testutils.QuietLogger()
	factory := func() (device.Radio, error) { return s.Radio, nil }
	s.monitor = &monitor{
		cfg:      s.cfg,
		logger:   logger,
		pipeline: pipeline.New(pipelineOptions(s.cfg), factory, s.statusLog, logger),
	}
	return s.monitor
}

// connectSensor advertises a sensor and waits until the pipeline has subscribed to it.
func (s *MonitorTestSuite) connectSensor() *testutils.FakeLink {
	s.Require().True(s.Radio.WaitScanning(2*time.Second), "pipeline MUST start scanning")
	s.Radio.Advertise(testutils.HeartRateAdvertisement("Polar H10", TestDeviceAddress1, -50).Build())

	var link *testutils.FakeLink
	s.Require().Eventually(func() bool {
		link = s.Radio.LastLink()
		return link != nil && link.Subscribed()
	}, 2*time.Second, 5*time.Millisecond, "pipeline MUST subscribe to the sensor")
	return link
}

func (s *MonitorTestSuite) TestServesLiveSamples() {
	// GOAL: Verify the monitor wires the pipeline to the HTTP server end to end
	//
	// TEST SCENARIO: Start → sensor connects → notify 80 BPM → /api/heartrate reports 80 → shutdown releases everything

	m := s.newMonitor()
	s.Require().NoError(m.start(context.Background(), s.statusLog), "monitor MUST start")
	s.Require().NotNil(m.server, "web server MUST be started")

	link := s.connectSensor()
	s.Require().True(link.Notify([]byte{0x00, 80}))

	client := newMonitorClient("http://"+m.server.Addr(), time.Second)
	s.Require().Eventually(func() bool {
		var hr web.HeartRateResponse
		return client.get(context.Background(), "/api/heartrate", &hr) == nil && hr.HeartRate == 80
	}, 2*time.Second, 10*time.Millisecond, "HTTP MUST report the live sample")

	s.Require().NoError(m.shutdown(), "shutdown MUST succeed")
	s.Assert().True(link.Released(), "link MUST be released on shutdown")
	s.Assert().Equal(1, s.Radio.CloseCount(), "adapter MUST be closed once")
	s.Assert().False(s.Radio.IsScanning(), "scan MUST be stopped")
}

func (s *MonitorTestSuite) TestForwardsToRedis() {
	// GOAL: Verify enabled forwarders receive every non-zero sample
	//
	// TEST SCENARIO: Redis forwarder on miniredis, web disabled → two samples → two stream entries after shutdown

	mr := miniredis.RunT(s.T())
	s.cfg.Web.Enabled = false
	s.cfg.Forward.Redis.Enabled = true
	s.cfg.Forward.Redis.Addr = mr.Addr()

	m := s.newMonitor()
	s.Require().NoError(m.start(context.Background(), s.statusLog))
	s.Require().Len(m.forwarders, 1, "redis forwarder MUST be started")
	s.Assert().Nil(m.server, "web server MUST NOT be started")

	link := s.connectSensor()
	link.Notify([]byte{0x00, 70})
	link.Notify([]byte{0x00, 75})
	s.Require().Eventually(func() bool {
		return len(m.pipeline.History()) == 2
	}, 2*time.Second, 5*time.Millisecond, "samples MUST be recorded")

	s.Require().NoError(m.shutdown())

	reader := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer reader.Close()
	s.Assert().Eventually(func() bool {
		n, err := reader.XLen(context.Background(), s.cfg.Forward.Redis.Stream).Result()
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond, "every sample MUST be forwarded")
}

func (s *MonitorTestSuite) TestBindConflictFailsStart() {
	// GOAL: Verify a busy HTTP address fails start and shutdown still cleans up
	//
	// TEST SCENARIO: Occupy the address with a first monitor → second monitor start fails → both shut down

	first := s.newMonitor()
	s.Require().NoError(first.start(context.Background(), s.statusLog))
	defer func() { _ = first.shutdown() }()

	s.cfg.Web.Addr = first.server.Addr()
	second := s.newMonitor()
	err := second.start(context.Background(), s.statusLog)
	s.Require().Error(err, "second bind MUST fail")
	s.Assert().Nil(second.server)
	s.Assert().NoError(second.shutdown(), "shutdown after a failed start MUST succeed")
}

func (s *MonitorTestSuite) TestUnreachableRedisFailsStart() {
	// GOAL: Verify an unreachable Redis is reported before the pipeline starts
	//
	// TEST SCENARIO: Closed miniredis address → start error → pipeline never scanned

	mr := miniredis.RunT(s.T())
	addr := mr.Addr()
	mr.Close()
	s.cfg.Forward.Redis.Enabled = true
	s.cfg.Forward.Redis.Addr = addr

	m := s.newMonitor()
	s.Require().Error(m.start(context.Background(), s.statusLog))
	s.Assert().Equal(0, s.Radio.ScanCount(), "pipeline MUST NOT scan")
	s.Assert().NoError(m.shutdown())
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

func TestPipelineOptions(t *testing.T) {
	// GOAL: Verify config values reach the pipeline options
	//
	// TEST SCENARIO: Custom config → matching options

	cfg := config.DefaultConfig()
	cfg.Pipeline.ConnectTimeout = 3 * time.Second
	cfg.Pipeline.RetryDelay = 7 * time.Second
	cfg.Store.HistoryCapacity = 500
	cfg.Store.ExcludeZero = true

	opts := pipelineOptions(cfg)
	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 7*time.Second, opts.RetryDelay)
	assert.Equal(t, 2*time.Second, opts.ReconnectDelay)
	assert.Equal(t, 30, opts.ChartCapacity)
	assert.Equal(t, 500, opts.HistoryCapacity)
	assert.True(t, opts.ExcludeZero)
}

func TestSamplePrinter(t *testing.T) {
	// GOAL: Verify console sample lines
	//
	// TEST SCENARIO: Normal sample and zero sample → BPM line and no-data line

	at := time.Date(2025, 1, 1, 12, 30, 45, 0, time.Local)
	buf := &syncBuffer{}
	printer := samplePrinter(buf)
	printer(heartrate.Sample{BPM: 130, CapturedAt: at})
	printer(heartrate.Zero(at))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if assert.Len(t, lines, 2) {
		assert.Contains(t, lines[0], "12:30:45")
		assert.Contains(t, lines[0], "130 BPM")
		assert.Contains(t, lines[0], "Cardio")
		assert.Contains(t, lines[0], "Exercising")
		assert.Contains(t, lines[1], "no data")
	}
}
