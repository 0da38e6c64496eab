package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/livedesk/internal"
	pkgconfig "github.com/starford/livedesk/pkg/config"
)

var version = "dev"

func run(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadIfExists(configPath, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		if cmd.IsSet("config") {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	if v := cmd.String("remote"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
		internal.WithMCP(cmd.Bool("mcp")),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "livedesk",
		Usage:   "Live operator console for a notes and feed-reader server",
		Version: version,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "remote",
				Aliases: []string{"r"},
				Usage:   "Notes server base URL (overrides the config file)",
				Sources: cli.EnvVars("LIVEDESK_REMOTE_URL"),
			},
			&cli.BoolFlag{
				Name:    "mcp",
				Usage:   "Serve the console over MCP on stdin/stdout instead of HTTP",
				Sources: cli.EnvVars("LIVEDESK_MCP"),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
