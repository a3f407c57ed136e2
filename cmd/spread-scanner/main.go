// Command spread-scanner lists call and put credit spreads from the current
// price outward until the mark credit falls below a threshold.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chainwatch/internal/chain"
	"chainwatch/internal/config"
	"chainwatch/pkg/cli"
	"chainwatch/pkg/logging"

	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "", "Optional configuration file (defaults to PUBLIC_COM_* variables)")
	source := flag.String("source", "public", "Chain source: public or mock")
	symbol := flag.String("symbol", "SPX", "Underlying symbol")
	instrumentType := flag.String("type", "", "Instrument type: INDEX or EQUITY (guessed from the symbol)")
	horizon := flag.String("horizon", chain.HorizonDTE0, "Expiration horizon: dte0, dte1 or friday")
	expiration := flag.String("expiration", "", "Override expiration (YYYY-MM-DD)")
	markAbove := flag.Float64("mark-above", 0.20, "Stop at the first spread whose mark is below this credit")
	width := flag.Float64("width", 0, "Strike distance between legs (0 pairs adjacent strikes)")
	flag.Parse()

	if err := run(*configPath, *source, *symbol, *instrumentType, *horizon, *expiration, *markAbove, *width); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, source, symbol, instrumentType, horizon, expiration string, markAbove, width float64) error {
	sym, err := cli.ValidateSymbol(symbol)
	if err != nil {
		return err
	}
	if err := cli.ValidateHorizon(horizon); err != nil {
		return err
	}
	exp, err := cli.ParseExpiration(expiration)
	if err != nil {
		return err
	}
	if markAbove < 0 || width < 0 {
		return fmt.Errorf("--mark-above and --width must not be negative")
	}
	if instrumentType == "" {
		instrumentType = config.DefaultInstrumentType(sym)
	}

	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.NewZapLoggerTo("WARN", os.Stderr)
	if err != nil {
		return err
	}
	src, err := cli.OpenSource(cfg, source, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	snap, err := cli.FetchSnapshot(ctx, src, cli.Request{Symbol: sym, InstrumentType: instrumentType, Horizon: horizon, Expiration: exp})
	if err != nil {
		return err
	}
	if !snap.UnderlyingPrice.Valid {
		return fmt.Errorf("could not fetch the current %s price", sym)
	}

	report{
		out:       os.Stdout,
		threshold: decimal.NewFromFloat(markAbove),
		width:     decimal.NewFromFloat(width),
	}.write(snap)
	return nil
}
