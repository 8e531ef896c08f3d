package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/othala/internal"
	pkgconfig "github.com/starford/othala/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	// The config file is optional; defaults apply when it is absent.
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := []internal.Option{internal.WithConfig(cfg)}

	// Always report the pending changes first.
	dry, err := internal.RunMigrate(ctx, true, opts...)
	if err != nil {
		return err
	}
	if err := printJSON(dry); err != nil {
		return err
	}
	if cmd.Bool("dry-run") {
		return nil
	}
	if dry.Updated == 0 && dry.Failed == 0 {
		fmt.Fprintln(os.Stderr, "vault already up to date")
		return nil
	}

	if !cmd.Bool("yes") {
		fmt.Fprintf(os.Stderr, "rewrite %d notes? [y/N] ", dry.Updated)
		var answer string
		_, _ = fmt.Fscanln(os.Stdin, &answer)
		if answer != "y" && answer != "Y" && answer != "yes" {
			fmt.Fprintln(os.Stderr, "aborted")
			return nil
		}
	}

	res, err := internal.RunMigrate(ctx, false, opts...)
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("migration finished with %d failed notes", res.Failed)
	}
	return nil
}

func validate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := []internal.Option{internal.WithConfig(cfg)}

	if cmd.Bool("repair") {
		res, err := internal.RunRepair(ctx, opts...)
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("repair finished with %d failed notes", len(res.Errors))
		}
		return nil
	}

	res, err := internal.RunValidate(ctx, opts...)
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("vault has %d drifted notes", len(res.Diffs))
	}
	return nil
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "othala",
		Usage: "Markdown vault link-graph engine with backlink sections, live propagation, and full-text search",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API server with the file watcher and SSE events",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Run the MCP server on stdio",
				Action: mcp,
			},
			{
				Name:   "migrate",
				Usage:  "Rewrite backlink sections across the whole vault",
				Action: migrate,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "Report pending changes without writing"},
					&cli.BoolFlag{Name: "yes", Usage: "Skip the confirmation prompt"},
				},
			},
			{
				Name:   "validate",
				Usage:  "Check persisted backlink state against a fresh rebuild",
				Action: validate,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "repair", Usage: "Rewrite drifted notes after validating"},
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
