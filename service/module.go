package service

import (
	"context"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"

	"pickplace"
)

// Model is the coordinator's generic service model.
var Model = resource.NewModel("pickplace", "motion", "coordinator")

func init() {
	resource.RegisterService(
		generic.API,
		Model,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newCoordinatorService,
		})
}

// Config is the service's attributes: the coordinator config, flattened.
type Config struct {
	pickplace.Config `json:",squash"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if err := cfg.Config.Validate(path); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

// coordinatorService runs a coordinator inside a Viam module. Goals, aborts and status
// go through DoCommand; Redis intake works as it does from the CLI.
type coordinatorService struct {
	resource.Named
	resource.AlwaysRebuild

	stack  *Stack
	logger logging.Logger
}

func newCoordinatorService(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	// fills defaults when the config was not validated on this path
	if _, _, err := conf.Validate(rawConf.Name); err != nil {
		return nil, err
	}
	if conf.HTTP.Addr != "" {
		logger.Warnf("http.addr %s is ignored inside a module; use DoCommand", conf.HTTP.Addr)
	}

	s, err := Build(ctx, &conf.Config, "", logger)
	if err != nil {
		return nil, err
	}
	return &coordinatorService{
		Named:  rawConf.ResourceName().AsNamed(),
		stack:  s,
		logger: logger,
	}, nil
}

// DoCommand handles "submit", "abort" and "status".
func (cs *coordinatorService) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return cs.stack.Coordinator().DoCommand(ctx, cmd)
}

func (cs *coordinatorService) Close(ctx context.Context) error {
	return cs.stack.Close(ctx)
}
