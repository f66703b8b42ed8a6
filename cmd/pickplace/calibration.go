package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pickplace"
)

var calibrationCmd = &cobra.Command{
	Use:   "calibration-init",
	Short: "Write a default calibration file for the configured joints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		registry, err := cfg.Registry()
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		if err := pickplace.SaveCalibration(out, pickplace.DefaultCalibration(registry), registry); err != nil {
			return err
		}
		fmt.Printf("Wrote calibration for %d actuators to %s\n", len(registry.ActuatorIDs()), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(calibrationCmd)
	calibrationCmd.Flags().StringP("out", "o", pickplace.DefaultCalibrationFile, "Output file")
}
