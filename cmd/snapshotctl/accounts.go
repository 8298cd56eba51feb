package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/ndewijer/portfolio-snapshot/internal/app"
)

type accountsCmd struct{}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "register configured broker accounts" }
func (*accountsCmd) Usage() string {
	return `accounts

  Registers every account from SNAPSHOT_ACCOUNTS_FILE as reference data and
  lists the registered accounts.
`
}

func (*accountsCmd) SetFlags(*flag.FlagSet) {}

func (*accountsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) subcommands.ExitStatus {
		if _, err := a.Accounts.Sync(ctx); err != nil {
			return fail("%v", err)
		}
		accounts, err := a.Accounts.List(ctx)
		if err != nil {
			return fail("%v", err)
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tBROKER\tACCOUNT\tNAME\tCURRENCY")
		for _, acct := range accounts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", acct.ID, acct.Broker, acct.BrokerAccountID, acct.DisplayName, acct.BaseCurrency)
		}
		if err := tw.Flush(); err != nil {
			return fail("%v", err)
		}
		return subcommands.ExitSuccess
	})
}
