package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.viam.com/utils"

	"pickplace"
	"pickplace/httpapi"
	"pickplace/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the coordinator",
	Long: `Starts the coordinator with the configured actuators and planner. Goals arrive
over HTTP and, when Redis is configured, on the goal channel.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCoordinator(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("http", "", "HTTP listen address, overrides http.addr")
	runCmd.Flags().Bool("monitor", false, "Show a live terminal view of the arm")
}

func loadConfig(cmd *cobra.Command) (*pickplace.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg := &pickplace.Config{Simulated: true}
		if err := cfg.Validate("<default>"); err != nil {
			return nil, "", err
		}
		return cfg, ".", nil
	}
	cfg, err := pickplace.LoadConfig(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, filepath.Dir(path), nil
}

func runCoordinator(cmd *cobra.Command) error {
	logger := newLogger(cmd)
	cfg, dir, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("http"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	monitor, _ := cmd.Flags().GetBool("monitor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := service.Build(ctx, cfg, dir, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Close(shutdownCtx); err != nil {
			logger.Warnf("Shutdown: %v", err)
		}
		logger.Info("Coordinator stopped")
	}()
	coord := s.Coordinator()

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.NewHandler(coord, coord.Metrics().Registry, logger.Sublogger("http")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Infof("Serving HTTP on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErrors <- err
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("Graceful shutdown did not complete in %v: %v", 5*time.Second, err)
				utils.UncheckedError(srv.Close())
			}
		}()
	}

	monitorDone := make(chan error, 1)
	if monitor {
		go func() {
			p := tea.NewProgram(newMonitorModel(coord), tea.WithAltScreen())
			_, err := p.Run()
			monitorDone <- err
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("http server: %w", err)
	case err := <-monitorDone:
		return err
	case sig := <-shutdown:
		logger.Infof("Shutting down on %v", sig)
		return nil
	}
}
