// Command get-token exchanges PUBLIC_COM_SECRET for an access token.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"chainwatch/internal/config"
	"chainwatch/internal/publicapi"
	"chainwatch/pkg/cli"
	"chainwatch/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "Optional configuration file (defaults to PUBLIC_COM_* variables)")
	minutes := flag.Int("minutes", 60, "Token validity in minutes")
	show := flag.Bool("show", false, "Print the full token instead of a masked one")
	flag.Parse()

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := run(context.Background(), cfg, *minutes, *show, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fetch token: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, minutes int, show bool, out io.Writer) error {
	if minutes < 1 || minutes > 1440 {
		return fmt.Errorf("--minutes must be between 1 and 1440")
	}
	cfg.Public.TokenValidityMinutes = minutes

	logger, err := logging.NewZapLoggerTo("WARN", os.Stderr)
	if err != nil {
		return err
	}
	client, err := publicapi.NewClient(cfg.Public, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	token, err := client.Token(ctx)
	if err != nil {
		return err
	}

	if !show {
		token = config.MaskString(token)
	}
	fmt.Fprintf(out, "Successfully generated token: %s\n", token)
	fmt.Fprintf(out, "Expires in: %d minutes\n", minutes)
	return nil
}
