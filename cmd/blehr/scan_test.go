package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blehr/internal/testutils"
	"github.com/srg/blehr/scanner"
)

type ScanCommandTestSuite struct {
	CommandTestSuite
}

func (s *ScanCommandTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	scanDuration = 0
	scanFormat = ""
	scanAllowList = nil
	scanBlockList = nil
}

// advertiseWhileScanning pushes adverts once the scan is running.
func (s *ScanCommandTestSuite) advertiseWhileScanning(adverts ...*testutils.FakeAdvertisement) {
	go func() {
		if !s.Radio.WaitScanning(2 * time.Second) {
			return
		}
		for _, adv := range adverts {
			s.Radio.Advertise(adv)
		}
	}()
}

func (s *ScanCommandTestSuite) TestScanListsHeartRateDevicesOnly() {
	// GOAL: Verify the scan table lists heart-rate sensors and hides everything else
	//
	// TEST SCENARIO: Advertise one HR sensor and one battery-only device → table has the sensor row only

	s.advertiseWhileScanning(
		testutils.HeartRateAdvertisement("Polar H10", TestDeviceAddress1, -50).Build(),
		testutils.NewAdvertisementBuilder().WithName("Tag").WithAddress(TestDeviceAddress2).WithServices("180f").Build(),
	)

	out, err := s.ExecuteCommand(rootCmd, "scan", "--duration", "300ms")
	s.Require().NoError(err, "scan MUST succeed")
	s.Assert().Contains(out, "NAME", "table header MUST be printed")
	s.Assert().Contains(out, "Polar H10", "heart-rate sensor MUST be listed")
	s.Assert().Contains(out, TestDeviceAddress1, "sensor address MUST be listed")
	s.Assert().NotContains(out, TestDeviceAddress2, "non heart-rate device MUST NOT be listed")
	s.Assert().Equal(1, s.Radio.CloseCount(), "adapter MUST be released")
}

func (s *ScanCommandTestSuite) TestScanJSONHonoursBlockList() {
	// GOAL: Verify JSON output and --block filtering
	//
	// TEST SCENARIO: Two HR sensors, one blocked → JSON array with the other one

	s.advertiseWhileScanning(
		testutils.HeartRateAdvertisement("Strap A", TestDeviceAddress1, -70).Build(),
		testutils.HeartRateAdvertisement("Strap B", TestDeviceAddress2, -40).Build(),
	)

	out, err := s.ExecuteCommand(rootCmd, "scan", "--duration", "300ms", "--format", "json", "--block", TestDeviceAddress1)
	s.Require().NoError(err, "scan MUST succeed")

	start := strings.Index(out, "[\n")
	s.Require().GreaterOrEqual(start, 0, "output MUST contain a JSON array")
	var entries []scanner.DeviceEntry
	s.Require().NoError(json.Unmarshal([]byte(out[start:]), &entries), "output MUST be valid JSON")
	s.Require().Len(entries, 1, "blocked device MUST be filtered")
	s.Assert().Equal(TestDeviceAddress2, entries[0].Address)
	s.Assert().Equal("Strap B", entries[0].Name)
}

func (s *ScanCommandTestSuite) TestScanNothingFound() {
	// GOAL: Verify an empty scan reports that nothing was found
	//
	// TEST SCENARIO: No adverts → friendly message, no error

	out, err := s.ExecuteCommand(rootCmd, "scan", "--duration", "100ms")
	s.Require().NoError(err)
	s.Assert().Contains(out, "No heart rate devices discovered")
}

func (s *ScanCommandTestSuite) TestScanRejectsUnknownFormat() {
	// GOAL: Verify format validation happens before the adapter is opened
	//
	// TEST SCENARIO: --format xml → error, radio never scanned

	_, err := s.ExecuteCommand(rootCmd, "scan", "--format", "xml")
	s.Require().Error(err, "unknown format MUST be rejected")
	s.Assert().Contains(err.Error(), "invalid format")
	s.Assert().Equal(0, s.Radio.ScanCount(), "radio MUST NOT be used")
}

func TestSortedEntries(t *testing.T) {
	// GOAL: Verify scan results are ordered strongest signal first, then by address
	//
	// TEST SCENARIO: Three entries with a tie → deterministic order

	entries := map[string]scanner.DeviceEntry{
		"c": {Address: "c", RSSI: -60},
		"a": {Address: "a", RSSI: -60},
		"b": {Address: "b", RSSI: -40},
	}
	got := sortedEntries(entries)
	addrs := []string{got[0].Address, got[1].Address, got[2].Address}
	if strings.Join(addrs, ",") != "b,a,c" {
		t.Fatalf("order MUST be b,a,c, got %v", addrs)
	}
}

func TestScanCommandTestSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandTestSuite))
}
