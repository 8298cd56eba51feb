package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/ndewijer/portfolio-snapshot/internal/api/request"
	"github.com/ndewijer/portfolio-snapshot/internal/app"
	"github.com/ndewijer/portfolio-snapshot/internal/instrument"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/validation"
)

type globalAddCmd struct {
	name       string
	symbol     string
	assetClass string
	isin       string
}

func (*globalAddCmd) Name() string     { return "global-add" }
func (*globalAddCmd) Synopsis() string { return "create a broker-independent instrument identity" }
func (*globalAddCmd) Usage() string {
	return `global-add -name <name> [-symbol <ticker>] [-class <asset class>] [-isin <isin>]

  Creates a global instrument and prints it as JSON. Broker instruments are
  linked to it with the map and map-isin commands.
`
}

func (c *globalAddCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Display name (required)")
	f.StringVar(&c.symbol, "symbol", "", "Preferred ticker symbol")
	f.StringVar(&c.assetClass, "class", "", "Asset class such as STK or ETF")
	f.StringVar(&c.isin, "isin", "", "ISIN used by map-isin")
}

func (c *globalAddCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	req := request.CreateGlobalInstrumentRequest{Name: c.name, Symbol: c.symbol, AssetClass: c.assetClass}
	if c.isin != "" {
		req.ISIN = &c.isin
	}
	if err := validation.ValidateCreateGlobalInstrument(req); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	return withApp(ctx, func(a *app.App) subcommands.ExitStatus {
		global, err := a.Mapper.CreateGlobal(ctx, model.GlobalInstrument{
			Name:       req.Name,
			Symbol:     strings.TrimSpace(req.Symbol),
			AssetClass: strings.TrimSpace(req.AssetClass),
			ISIN:       req.ISIN,
		})
		if err != nil {
			return fail("%v", err)
		}
		if err := printJSON(global); err != nil {
			return fail("%v", err)
		}
		return subcommands.ExitSuccess
	})
}

type mapCmd struct {
	instrumentID string
	globalID     string
	source       string
	confidence   string
	replace      bool
}

func (*mapCmd) Name() string     { return "map" }
func (*mapCmd) Synopsis() string { return "link a broker instrument to a global instrument" }
func (*mapCmd) Usage() string {
	return `map -instrument <uuid> -global <uuid> [-source manual] [-confidence <0..1>] [-replace]

  Maps a broker instrument to a global instrument. Moving an instrument
  that is already mapped elsewhere requires -replace.
`
}

func (c *mapCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.instrumentID, "instrument", "", "Broker instrument id (required)")
	f.StringVar(&c.globalID, "global", "", "Global instrument id (required)")
	f.StringVar(&c.source, "source", string(model.MappingSourceManual), "Mapping source: manual, heuristic or broker")
	f.StringVar(&c.confidence, "confidence", "", "Optional confidence between 0 and 1")
	f.BoolVar(&c.replace, "replace", false, "Replace an existing mapping")
}

func (c *mapCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	req := request.MapInstrumentRequest{
		InstrumentID:       c.instrumentID,
		GlobalInstrumentID: c.globalID,
		Source:             c.source,
		Replace:            c.replace,
	}
	if c.confidence != "" {
		req.Confidence = &c.confidence
	}
	if err := validation.ValidateMapInstrument(req); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	mapReq := instrument.MapRequest{
		InstrumentID:       req.InstrumentID,
		GlobalInstrumentID: req.GlobalInstrumentID,
		Source:             model.MappingSource(req.Source),
		Replace:            req.Replace,
	}
	if req.Confidence != nil {
		mapReq.Confidence = decimal.NewNullDecimal(decimal.RequireFromString(strings.TrimSpace(*req.Confidence)))
	}

	return withApp(ctx, func(a *app.App) subcommands.ExitStatus {
		mapping, err := a.Mapper.Map(ctx, mapReq)
		if err != nil {
			return fail("%v", err)
		}
		if err := printJSON(mapping); err != nil {
			return fail("%v", err)
		}
		return subcommands.ExitSuccess
	})
}

type mapISINCmd struct {
	list bool
}

func (*mapISINCmd) Name() string     { return "map-isin" }
func (*mapISINCmd) Synopsis() string { return "map unmapped instruments by ISIN" }
func (*mapISINCmd) Usage() string {
	return `map-isin [-list]

  Links every unmapped broker instrument whose ISIN equals the ISIN of a
  global instrument. With -list the instruments still unmapped afterwards
  are printed.
`
}

func (c *mapISINCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.list, "list", false, "Print instruments that remain unmapped")
}

func (c *mapISINCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) subcommands.ExitStatus {
		n, err := a.Mapper.MapByISIN(ctx)
		if err != nil {
			return fail("%v", err)
		}
		fmt.Fprintf(stdout, "mapped %d instruments\n", n)

		if !c.list {
			return subcommands.ExitSuccess
		}
		unmapped, err := a.Mapper.ListUnmapped(ctx)
		if err != nil {
			return fail("%v", err)
		}
		for _, inst := range unmapped {
			fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", inst.ID, inst.Broker, inst.BrokerInstrumentID, inst.Symbol)
		}
		return subcommands.ExitSuccess
	})
}
