package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/rs/zerolog"

	"github.com/ndewijer/portfolio-snapshot/internal/app"
	"github.com/ndewijer/portfolio-snapshot/internal/config"
	"github.com/ndewijer/portfolio-snapshot/internal/logger"
)

// commands lists every subcommand registered by main.
var commands = []subcommands.Command{
	&migrateCmd{},
	&accountsCmd{},
	&runCmd{},
	&globalAddCmd{},
	&mapCmd{},
	&mapISINCmd{},
	&exportCmd{},
}

// stdout and stderr are replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// openApp loads the configuration and opens the migrated store. Logs go to
// stderr so command output stays machine readable.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var w io.Writer = stderr
	if cfg.Log.Pretty {
		w = zerolog.ConsoleWriter{Out: stderr, TimeFormat: "15:04:05"}
	}
	log := logger.NewWithWriter(logger.Config{Level: cfg.Log.Level}, w)

	return app.New(ctx, cfg, log)
}

// withApp runs fn against an opened app and maps its error to an exit status.
func withApp(ctx context.Context, fn func(a *app.App) subcommands.ExitStatus) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()
	return fn(a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitFailure
}
