package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/ndewijer/portfolio-snapshot/internal/api/request"
	"github.com/ndewijer/portfolio-snapshot/internal/app"
	"github.com/ndewijer/portfolio-snapshot/internal/export"
)

type exportCmd struct {
	out        string
	broker     string
	account    string
	instrument string
	start      string
	end        string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export position history to a Parquet file" }
func (*exportCmd) Usage() string {
	return `export -o <file.parquet> [-broker <name>] [-account <id>] [-instrument <uuid>] [-s <start>] [-e <end>]

  Writes every position observation matching the filters to a Parquet file.
  Dates are YYYY-MM-DD or RFC 3339.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "positions.parquet", "Output file")
	f.StringVar(&c.broker, "broker", "", "Only this broker")
	f.StringVar(&c.account, "account", "", "Only this broker account id")
	f.StringVar(&c.instrument, "instrument", "", "Only this instrument id")
	f.StringVar(&c.start, "s", "", "Earliest as-of date")
	f.StringVar(&c.end, "e", "", "Latest as-of date")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	filter, err := request.ParsePositionHistoryFilter(c.broker, c.account, c.instrument, c.start, c.end)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	return withApp(ctx, func(a *app.App) subcommands.ExitStatus {
		n, err := export.WritePositionHistoryFile(ctx, c.out, a.Views, filter)
		if err != nil {
			return fail("%v", err)
		}
		fmt.Fprintf(stdout, "wrote %d positions to %s\n", n, c.out)
		return subcommands.ExitSuccess
	})
}
