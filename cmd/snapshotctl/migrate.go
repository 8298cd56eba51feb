package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/ndewijer/portfolio-snapshot/internal/app"
	"github.com/ndewijer/portfolio-snapshot/internal/database"
)

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply pending schema migrations" }
func (*migrateCmd) Usage() string {
	return `migrate

  Applies every pending migration to the database at DB_PATH and prints the
  resulting schema version.
`
}

func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) subcommands.ExitStatus {
		current, latest, err := database.SchemaStatus(ctx, a.DB)
		if err != nil {
			return fail("%v", err)
		}
		fmt.Fprintf(stdout, "schema version %d (latest %d)\n", current, latest)
		return subcommands.ExitSuccess
	})
}
