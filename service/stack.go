// Package service assembles a coordinator from a Config and exposes it as a Viam
// generic service.
package service

import (
	"context"
	"fmt"
	"sync/atomic"

	backend "github.com/redis/go-redis/v9"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"pickplace"
	"pickplace/redisbus"
)

// Stack is a running coordinator with the actuators, planner and Redis bus it was built
// with. Close tears it down in reverse.
type Stack struct {
	coord   *pickplace.Coordinator
	client  *backend.Client
	bus     *redisbus.Bus
	closers []func(context.Context) error
	logger  logging.Logger
}

// Coordinator returns the running coordinator.
func (s *Stack) Coordinator() *pickplace.Coordinator {
	return s.coord
}

// Close stops the bus, the coordinator and the actuators, then closes Redis.
func (s *Stack) Close(ctx context.Context) error {
	if s.bus != nil {
		utils.UncheckedError(s.bus.Close())
	}
	if s.coord != nil {
		utils.UncheckedError(s.coord.Close(ctx))
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warnf("Shutdown: %v", err)
		}
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Build starts a coordinator for a validated cfg. Relative calibration paths resolve
// against dir.
func Build(ctx context.Context, cfg *pickplace.Config, dir string, logger logging.Logger) (*Stack, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	s := &Stack{logger: logger}
	fail := func(err error) (*Stack, error) {
		utils.UncheckedError(s.Close(ctx))
		return nil, err
	}

	// feedback may arrive before the coordinator exists
	var coord atomic.Pointer[pickplace.Coordinator]
	feedback := func(fb pickplace.JointFeedback) {
		if c := coord.Load(); c != nil {
			utils.UncheckedError(c.UpdateFeedback(fb))
		}
	}

	if cfg.Redis.Addr != "" {
		s.client = redisbus.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := s.client.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err))
		}
		s.bus = redisbus.New(s.client, redisbus.NewChannels(cfg.Redis.Prefix, cfg.Simulated), logger.Sublogger("redis"))
	}

	var actuators pickplace.Actuators
	switch {
	case cfg.Output == pickplace.OutputRedis:
		actuators = s.bus
		logger.Infof("Publishing commands to redis (simulated: %t)", cfg.Simulated)
	case cfg.Simulated:
		sim := pickplace.NewSimulatedActuators(registry, cfg.SimSpeed, true, feedback, logger.Sublogger("sim"))
		s.closers = append(s.closers, func(context.Context) error { return sim.Close() })
		actuators = sim
	default:
		cal, loaded, err := cfg.LoadCalibration(dir, registry, logger)
		if err != nil {
			return fail(err)
		}
		if !loaded {
			logger.Warn("No calibration file configured; using default servo ranges")
		}
		ft, err := pickplace.NewFeetechActuators(ctx, pickplace.FeetechConfig{
			Port:         cfg.Serial.Port,
			BaudRate:     cfg.Serial.Baudrate,
			Timeout:      cfg.Serial.Timeout,
			PollInterval: cfg.Serial.PollInterval,
		}, registry, cal, feedback, logger.Sublogger("feetech"))
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, ft.Close)
		actuators = ft
	}

	var planner pickplace.Planner
	switch cfg.Planner.Type {
	case pickplace.PlannerRedis:
		planner = redisbus.NewPlanner(s.client, cfg.Redis.Prefix, cfg.Planner.Budget, logger.Sublogger("remote-planner"))
	default:
		planner = pickplace.NewLinearPlanner(registry, cfg.LinearPlannerConfig(), nil)
	}

	c, err := pickplace.NewCoordinator(pickplace.Options{
		Registry:      registry,
		Planner:       planner,
		Actuators:     actuators,
		PlanningGroup: cfg.PlanningGroup,
		DispatchHz:    cfg.DispatchHz,
	}, logger)
	if err != nil {
		return fail(err)
	}
	s.coord = c
	coord.Store(c)
	if err := c.Start(); err != nil {
		return fail(err)
	}
	if s.bus != nil {
		if err := s.bus.Serve(ctx, c); err != nil {
			return fail(err)
		}
	}
	return s, nil
}
