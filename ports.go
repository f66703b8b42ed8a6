package pickplace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

// DefaultCalibrationFile is the port-independent calibration file name looked up by
// DiscoverPorts.
const DefaultCalibrationFile = "pickplace_calibration.json"

// DiscoveredPort is a serial port that may host the arm's servo bus.
type DiscoveredPort struct {
	Port   string `json:"port"`
	Suffix string `json:"suffix"`
	// VID, PID and SerialNumber are set for USB adapters when the platform reports them.
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	// ServoIDs lists the servos that answered a scan. Empty when probing was skipped
	// or nothing answered.
	ServoIDs []int `json:"servo_ids,omitempty"`
	// CalibrationFile is a calibration file found for this port, if any.
	CalibrationFile string `json:"calibration_file,omitempty"`
}

// PortScan controls DiscoverPorts.
type PortScan struct {
	// Probe opens each candidate port and scans for servos.
	Probe    bool
	BaudRate int
	Timeout  time.Duration
	MinID    int
	MaxID    int
	// CalibrationDir is searched for calibration files.
	CalibrationDir string
}

// DiscoverPorts lists candidate serial ports, optionally scanning each for servos.
func DiscoverPorts(ctx context.Context, scan PortScan, logger logging.Logger) ([]DiscoveredPort, error) {
	return discoverPorts(ctx, listSerialPorts(logger), scan, logger)
}

func discoverPorts(
	ctx context.Context, ports []*enumerator.PortDetails, scan PortScan, logger logging.Logger,
) ([]DiscoveredPort, error) {
	found := []DiscoveredPort{}
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		suffix, ok := candidatePort(p.Name)
		if !ok {
			continue
		}

		dp := DiscoveredPort{Port: p.Name, Suffix: suffix}
		if p.IsUSB {
			dp.VID, dp.PID, dp.SerialNumber = p.VID, p.PID, p.SerialNumber
		}
		if scan.CalibrationDir != "" {
			dp.CalibrationFile = findCalibrationFile(scan.CalibrationDir, suffix, logger)
		}
		if scan.Probe {
			dp.ServoIDs = probeServos(ctx, p.Name, scan, logger)
		}
		found = append(found, dp)
	}
	logger.Debugf("%d of %d serial ports look like servo adapters", len(found), len(ports))
	return found, nil
}

func probeServos(ctx context.Context, portPath string, scan PortScan, logger logging.Logger) []int {
	if scan.BaudRate == 0 {
		scan.BaudRate = DefaultBaudRate
	}
	if scan.Timeout == 0 {
		scan.Timeout = 500 * time.Millisecond
	}
	if scan.MinID == 0 && scan.MaxID == 0 {
		scan.MinID, scan.MaxID = 1, 6
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     portPath,
		BaudRate: scan.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  scan.Timeout,
	})
	if err != nil {
		logger.Debugf("Failed to open port %s: %v", portPath, err)
		return nil
	}
	defer bus.Close()

	servos, err := bus.Scan(ctx, scan.MinID, scan.MaxID)
	if err != nil {
		logger.Debugf("Scan of %s failed: %v", portPath, err)
		return nil
	}
	ids := make([]int, 0, len(servos))
	for _, s := range servos {
		ids = append(ids, int(s.ID))
	}
	logger.Infof("Found %d servos on %s", len(ids), portPath)
	return ids
}

// usbSerialPrefixes are the device names USB serial adapters get on Linux, macOS and
// Windows. trim is cut from the base name to form the port suffix.
var usbSerialPrefixes = []struct {
	prefix string
	trim   string
}{
	{"/dev/ttyUSB", ""},
	{"/dev/ttyACM", ""},
	{"/dev/tty.usbmodem", "tty."},
	{"/dev/tty.usbserial", "tty."},
	{"/dev/cu.usbmodem", "cu."},
	{"/dev/cu.usbserial", "cu."},
	{"COM", ""},
}

// candidatePort reports whether name looks like a USB serial adapter, and the short
// name per-port calibration files are keyed by.
func candidatePort(name string) (string, bool) {
	for _, p := range usbSerialPrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return strings.TrimPrefix(filepath.Base(name), p.trim), true
		}
	}
	return "", false
}

// findCalibrationFile tries <suffix>_calibration.json, then the default file name.
// It returns the full path or an empty string.
func findCalibrationFile(dir, portSuffix string, logger logging.Logger) string {
	for _, name := range []string{portSuffix + "_calibration.json", DefaultCalibrationFile} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			logger.Debugf("Found calibration file: %s", name)
			return p
		}
	}
	return ""
}

func listSerialPorts(logger logging.Logger) []*enumerator.PortDetails {
	ports, err := enumerator.GetDetailedPortsList()
	if err == nil {
		return ports
	}
	logger.Debugf("No port details (%v), listing names only", err)
	names, err := serial.GetPortsList()
	if err != nil {
		logger.Warnf("Failed to list serial ports: %v", err)
		return nil
	}
	ports = make([]*enumerator.PortDetails, 0, len(names))
	for _, name := range names {
		ports = append(ports, &enumerator.PortDetails{Name: name})
	}
	return ports
}
