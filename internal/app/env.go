package app

import (
	"github.com/clipvault/clipvault/internal/conf"
	"github.com/clipvault/clipvault/internal/logger"
)

// Env is shared by the CLI commands. The root command fills it in before
// any subcommand runs.
type Env struct {
	Settings *conf.Settings
	Logger   *logger.CentralLogger
}

// Open builds the component graph from the loaded settings.
func (e *Env) Open() (*App, error) {
	return New(e.Settings, e.Logger)
}
