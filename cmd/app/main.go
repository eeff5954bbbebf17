package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/todosync/internal"
	pkgconfig "github.com/starford/todosync/pkg/config"
)

var version = "dev"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if root := cmd.String("workspace"); root != "" {
		cfg.Workspace.Root = root
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func syncOnce(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	// Keep stdout for the summary.
	opts = append(opts, internal.WithLogOutput(os.Stderr))

	res, err := internal.SyncOnce(ctx, opts...)
	if res != nil && res.Report != nil {
		r := res.Report
		fmt.Fprintf(os.Stdout,
			"files=%d created=%d updated=%d pulled=%d completed=%d archived=%d islands=%d unchanged=%d rewritten=%d failures=%d\n",
			res.Files, r.Created, r.Updated, r.Pulled, r.Completed, r.Archived, r.Islands, r.Unchanged, res.Rewritten, len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(os.Stdout, "failed %s %q: %v\n", f.Path, f.Text, f.Err)
		}
	}
	if err != nil {
		return fmt.Errorf("sync error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "todosync",
		Usage:   "Keep TODO comments in source files in sync with a Notion tasks database",
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
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace root, overrides workspace.root",
				Sources: cli.EnvVars("TODOSYNC_WORKSPACE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Run one full reconciliation pass and print a summary",
				Action: syncOnce,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
