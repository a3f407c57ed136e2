// Command volume-leaders prints the option contracts with the highest volume,
// either for the session or over the last few minutes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainwatch/internal/chain"
	"chainwatch/internal/config"
	"chainwatch/pkg/cli"
	"chainwatch/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "Optional configuration file (defaults to PUBLIC_COM_* variables)")
	source := flag.String("source", "public", "Chain source: public or mock")
	symbol := flag.String("symbol", "SPX", "Underlying symbol")
	instrumentType := flag.String("type", "", "Instrument type: INDEX or EQUITY (guessed from the symbol)")
	horizon := flag.String("horizon", chain.HorizonDTE0, "Expiration horizon: dte0, dte1 or friday")
	expiration := flag.String("expiration", "", "Override expiration (YYYY-MM-DD)")
	top := flag.Int("top", 20, "Number of leaders to show")
	lastMin := flag.Int("last-min", 0, "Sample twice this many minutes apart and rank by volume traded in between")
	flag.Parse()

	if err := run(*configPath, *source, *symbol, *instrumentType, *horizon, *expiration, *top, *lastMin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, source, symbol, instrumentType, horizon, expiration string, top, lastMin int) error {
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
	if top <= 0 {
		return fmt.Errorf("--top must be positive")
	}
	if lastMin < 0 {
		return fmt.Errorf("--last-min must not be negative")
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

	a := &app{
		src:     src,
		out:     os.Stdout,
		palette: cli.NewPalette(os.Stdout),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	return a.run(ctx, options{
		req:     cli.Request{Symbol: sym, InstrumentType: instrumentType, Horizon: horizon, Expiration: exp},
		top:     top,
		lastMin: lastMin,
	})
}
