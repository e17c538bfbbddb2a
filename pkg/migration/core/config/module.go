package config

import (
	"go.uber.org/fx"

	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
)

// Module provides *Config and the sections other packages depend on directly.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewOsEnvironmentExpander, fx.As(new(EnvironmentExpander))),
		NewConfigProvider,
		func(cfg *Config) *LoggingConfig { return &cfg.System.Logging },
		func(cfg *Config) dbconfig.DatasourcesConfig { return cfg.Datasources },
		func(cfg *Config) *SchedulerConfig { return &cfg.Scheduler },
		func(cfg *Config) *TargetConfig { return &cfg.Target },
	),
)
