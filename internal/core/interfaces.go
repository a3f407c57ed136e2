// Package core defines the core interfaces for the chainwatch system
package core

import (
	"context"
	"time"

	"chainwatch/internal/chain"
)

// IChainSource produces raw option-chain payloads in the shape accepted by
// chain.Normalize.
type IChainSource interface {
	// FetchSnapshotPayload returns the chain of symbol for the expiration the
	// horizon resolves to.
	FetchSnapshotPayload(ctx context.Context, symbol, horizon, instrumentType string) (map[string]interface{}, error)
}

// ISampleStore persists hot-strike volume samples per watch target so the
// history survives restarts.
type ISampleStore interface {
	Append(ctx context.Context, target string, sample chain.VolumeSample) error
	// Load returns samples taken at or after since, oldest first.
	Load(ctx context.Context, target string, since time.Time) ([]chain.VolumeSample, error)
	// Prune deletes samples taken before the cutoff.
	Prune(ctx context.Context, target string, before time.Time) error
	Close() error
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
