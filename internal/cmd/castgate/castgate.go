// Package castgate wires configuration parsing and the run loop for the
// publisher command.
package castgate

import (
	"context"
	"flag"

	platformcmd "github.com/louisbranch/castgate/internal/platform/cmd"
	"github.com/louisbranch/castgate/internal/services/publisher/app"
)

// Config holds the publisher command configuration.
type Config struct {
	App app.Config
}

// ParseConfig loads environment defaults and applies flag overrides.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg.App); err != nil {
		return Config{}, err
	}

	fs.IntVar(&cfg.App.Port, "port", cfg.App.Port, "The publisher HTTP port")
	fs.StringVar(&cfg.App.DBPath, "db-path", cfg.App.DBPath, "Path to the publisher SQLite database")
	fs.IntVar(&cfg.App.FanoutWorkers, "fanout-workers", cfg.App.FanoutWorkers, "Concurrent cross-post targets")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the publisher server with telemetry configured.
func Run(ctx context.Context, cfg Config) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServicePublisher, func(ctx context.Context) error {
		return app.Run(ctx, cfg.App)
	})
}
