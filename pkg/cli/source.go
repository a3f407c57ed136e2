package cli

import (
	"context"
	"fmt"
	"time"

	"chainwatch/internal/chain"
	"chainwatch/internal/config"
	"chainwatch/internal/core"
	"chainwatch/internal/mock"
	"chainwatch/internal/publicapi"
)

// ChainSource is what the terminal tools need from a chain source: the
// horizon-resolved snapshot plus a fetch by explicit expiration.
type ChainSource interface {
	core.IChainSource
	FetchChainPayload(ctx context.Context, symbol, instrumentType string, expiration time.Time) (map[string]interface{}, error)
}

var (
	_ ChainSource = (*publicapi.Client)(nil)
	_ ChainSource = (*mock.MockChainSource)(nil)
)

// LoadConfig loads .env and then the YAML file at path. Without a path the
// configuration comes from defaults plus PUBLIC_COM_* variables.
func LoadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	if path != "" {
		return config.LoadConfig(path)
	}
	return config.FromEnv(), nil
}

// OpenSource creates the named source ("public" or "mock").
func OpenSource(cfg *config.Config, name string, logger core.ILogger) (ChainSource, error) {
	switch name {
	case "mock":
		return mock.NewMockChainSource(time.Now().UnixNano()), nil
	case "public", "":
		client, err := publicapi.NewClient(cfg.Public, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown source %q (use public or mock)", name)
	}
}

// Request selects the chain a tool works on.
type Request struct {
	Symbol         string
	InstrumentType string
	Horizon        string
	Expiration     time.Time // overrides Horizon when set
}

// FetchSnapshot fetches and normalizes one chain.
func FetchSnapshot(ctx context.Context, src ChainSource, req Request) (*chain.ChainSnapshot, error) {
	var (
		raw map[string]interface{}
		err error
	)
	if !req.Expiration.IsZero() {
		raw, err = src.FetchChainPayload(ctx, req.Symbol, req.InstrumentType, req.Expiration)
	} else {
		raw, err = src.FetchSnapshotPayload(ctx, req.Symbol, req.Horizon, req.InstrumentType)
	}
	if err != nil {
		return nil, err
	}
	return chain.Normalize(raw)
}
