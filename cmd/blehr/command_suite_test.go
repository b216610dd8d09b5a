package main

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/devicefactory"
	"github.com/srg/blehr/internal/testutils"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"
)

// syncBuffer is a bytes.Buffer safe for the progress printer goroutine and the command to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs commands against a FakeRadio installed as the radio factory.
// All cmd/blehr test suites should embed it.
type CommandTestSuite struct {
	suite.Suite
	Radio *testutils.FakeRadio

	origFactory func(string, *logrus.Logger) (device.Radio, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.Radio = testutils.NewFakeRadio()
	s.origFactory = devicefactory.RadioFactory
	devicefactory.RadioFactory = func(string, *logrus.Logger) (device.Radio, error) {
		return s.Radio, nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.RadioFactory = s.origFactory
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := &syncBuffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
