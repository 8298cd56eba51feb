package main

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"github.com/google/subcommands"

	"github.com/ndewijer/portfolio-snapshot/internal/app"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
)

type runCmd struct {
	check bool
	by    string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "capture every configured account now" }
func (*runCmd) Usage() string {
	return `run [-check] [-by <name>]

  Triggers a capture run and prints the result as JSON. The exit status is
  non-zero when every account failed.

  With -check no run is started; instead each broker that supports it
  verifies its credentials.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.check, "check", false, "Only verify broker credentials")
	f.StringVar(&c.by, "by", "", "Name recorded as the run's trigger source")
}

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) subcommands.ExitStatus {
		if c.check {
			return c.checkAuth(ctx, a)
		}

		req := service.TriggerRequest{TriggerType: "cli"}
		if c.by != "" {
			req.TriggeredBy = &c.by
		}
		res, err := a.Coordinator.Trigger(ctx, req)
		if err != nil {
			return fail("%v", err)
		}
		if err := printJSON(res); err != nil {
			return fail("%v", err)
		}
		if res.Status == model.RunStatusFail {
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	})
}

func (c *runCmd) checkAuth(ctx context.Context, a *app.App) subcommands.ExitStatus {
	results, err := a.Accounts.CheckAuth(ctx)
	if err != nil {
		return fail("%v", err)
	}

	refs := make([]string, 0, len(results))
	for ref := range results {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	status := subcommands.ExitSuccess
	for _, ref := range refs {
		if err := results[ref]; err != nil {
			fmt.Fprintf(stdout, "%s: %v\n", ref, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Fprintf(stdout, "%s: ok\n", ref)
	}
	return status
}
