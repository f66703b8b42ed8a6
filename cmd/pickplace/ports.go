package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pickplace"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that may host the servo bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		probe, _ := cmd.Flags().GetBool("probe")
		baud, _ := cmd.Flags().GetInt("baudrate")
		dir, _ := cmd.Flags().GetString("calibration-dir")
		asJSON, _ := cmd.Flags().GetBool("json")

		found, err := pickplace.DiscoverPorts(cmd.Context(), pickplace.PortScan{
			Probe:          probe,
			BaudRate:       baud,
			Timeout:        200 * time.Millisecond,
			MinID:          1,
			MaxID:          10,
			CalibrationDir: dir,
		}, logger)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(found)
		}
		if len(found) == 0 {
			fmt.Println("No candidate serial ports found")
			return nil
		}
		for _, p := range found {
			fmt.Printf("%s (suffix %s)\n", p.Port, p.Suffix)
			if p.VID != "" {
				fmt.Printf("  usb: %s:%s %s\n", p.VID, p.PID, p.SerialNumber)
			}
			if probe {
				fmt.Printf("  servos: %v\n", p.ServoIDs)
			}
			if p.CalibrationFile != "" {
				fmt.Printf("  calibration: %s\n", p.CalibrationFile)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().Bool("probe", false, "Open each port and scan for servos")
	portsCmd.Flags().Int("baudrate", pickplace.DefaultBaudRate, "Baud rate used when probing")
	portsCmd.Flags().String("calibration-dir", ".", "Directory searched for calibration files")
	portsCmd.Flags().Bool("json", false, "Print JSON")
}
