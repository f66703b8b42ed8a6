package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"
)

var rootCmd = &cobra.Command{
	Use:   "pickplace",
	Short: "Pick-and-place motion coordinator",
	Long: `pickplace accepts arm goals, plans them in the background and streams the
resulting trajectory to the joint actuators at a fixed rate.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (YAML or JSON); a simulated arm when empty")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func newLogger(cmd *cobra.Command) logging.Logger {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		return logging.NewDebugLogger("pickplace")
	}
	return logging.NewLogger("pickplace")
}
