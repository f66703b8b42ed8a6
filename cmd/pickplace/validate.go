package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file",
	Long:  `Loads the config, fills defaults and builds the joint registry and calibration without touching hardware.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		cfg, dir, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		registry, err := cfg.Registry()
		if err != nil {
			return err
		}
		if !cfg.Simulated && cfg.Output == "direct" {
			if _, _, err := cfg.LoadCalibration(dir, registry, logger); err != nil {
				return err
			}
		}
		fmt.Printf("Config is valid: %d joints (%v), planner %s, output %s\n",
			registry.ArmJointCount(), registry.Names(), cfg.Planner.Type, cfg.Output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
