package pickplace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

func TestCandidatePort(t *testing.T) {
	for _, tc := range []struct {
		port   string
		suffix string
		ok     bool
	}{
		{"/dev/ttyUSB0", "ttyUSB0", true},
		{"/dev/ttyACM1", "ttyACM1", true},
		{"/dev/tty.usbmodem123", "usbmodem123", true},
		{"/dev/cu.usbserial-AB", "usbserial-AB", true},
		{"COM10", "COM10", true},
		{"/dev/ttyS0", "", false},
		{"/dev/tty.Bluetooth", "", false},
		{"LPT1", "", false},
	} {
		t.Run(tc.port, func(t *testing.T) {
			suffix, ok := candidatePort(tc.port)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.suffix, suffix)
		})
	}
}

func TestDiscoverPorts(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	specific := filepath.Join(dir, "ttyACM0_calibration.json")
	require.NoError(t, os.WriteFile(specific, []byte("{}"), 0o644))

	found, err := discoverPorts(context.Background(), []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "1a86", PID: "55d3", SerialNumber: "5A46"},
		{Name: "/dev/ttyUSB1", VID: "ignored"},
	}, PortScan{CalibrationDir: dir}, logger)
	require.NoError(t, err)
	assert.Equal(t, []DiscoveredPort{
		{Port: "/dev/ttyACM0", Suffix: "ttyACM0", VID: "1a86", PID: "55d3", SerialNumber: "5A46", CalibrationFile: specific},
		{Port: "/dev/ttyUSB1", Suffix: "ttyUSB1"},
	}, found)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = discoverPorts(ctx, []*enumerator.PortDetails{{Name: "/dev/ttyUSB0"}}, PortScan{}, logger)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindCalibrationFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	assert.Empty(t, findCalibrationFile(dir, "ttyUSB0", logger))

	def := filepath.Join(dir, DefaultCalibrationFile)
	require.NoError(t, os.WriteFile(def, []byte("{}"), 0o644))
	assert.Equal(t, def, findCalibrationFile(dir, "ttyUSB0", logger))

	specific := filepath.Join(dir, "ttyUSB0_calibration.json")
	require.NoError(t, os.WriteFile(specific, []byte("{}"), 0o644))
	assert.Equal(t, specific, findCalibrationFile(dir, "ttyUSB0", logger))
	assert.Equal(t, def, findCalibrationFile(dir, "ttyACM1", logger))
}
