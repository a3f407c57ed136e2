package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chainwatch/internal/chain"
	"chainwatch/internal/config"
	"chainwatch/internal/core"
	"chainwatch/pkg/concurrency"
	apperrors "chainwatch/pkg/errors"
	"chainwatch/pkg/liveserver"
	"chainwatch/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Broadcaster pushes messages to connected dashboard clients
type Broadcaster interface {
	Broadcast(msg liveserver.Message)
}

// Status describes the health of one watch target
type Status struct {
	Target      string     `json:"target"`
	Stale       bool       `json:"stale"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	Error       string     `json:"error,omitempty"`
	Samples     int        `json:"samples"`
}

// targetState is the last good view of one target plus its volume history
type targetState struct {
	target   config.WatchTarget
	history  *chain.HistoryBuffer
	tracker  *chain.Tracker
	inFlight atomic.Bool
	publish  sync.Mutex // serializes accept across polls and ingests

	mu       sync.RWMutex
	snapshot *chain.ChainSnapshot
	view     *chain.ViewModel
	lastOK   time.Time
	lastErr  error
}

func (st *targetState) key() string {
	return st.target.Key()
}

func (st *targetState) lastSuccess() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.lastOK
}

// current returns the last good snapshot and view, nil before the first
// successful poll.
func (st *targetState) current() (*chain.ChainSnapshot, *chain.ViewModel) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshot, st.view
}

// Poller fetches every watch target on an interval, aggregates it and
// publishes the result
type Poller struct {
	cfg         *config.Config
	source      core.IChainSource
	store       core.ISampleStore
	pool        *concurrency.WorkerPool
	broadcaster Broadcaster
	logger      core.ILogger
	metrics     *telemetry.MetricsHolder
	now         func() time.Time

	order   []string
	targets map[string]*targetState
}

// NewPoller creates a poller for every watch target in cfg
func NewPoller(cfg *config.Config, source core.IChainSource, store core.ISampleStore, pool *concurrency.WorkerPool, broadcaster Broadcaster, logger core.ILogger) *Poller {
	p := &Poller{
		cfg:         cfg,
		source:      source,
		store:       store,
		pool:        pool,
		broadcaster: broadcaster,
		logger:      logger.WithField("component", "poller"),
		metrics:     telemetry.GetGlobalMetrics(),
		now:         time.Now,
		targets:     make(map[string]*targetState, len(cfg.Dashboard.Watch)),
	}
	for _, w := range cfg.Dashboard.Watch {
		history := chain.NewHistoryBuffer(cfg.History.HistoryOptions())
		st := &targetState{
			target:  w,
			history: history,
			tracker: chain.NewTracker(history, cfg.Dashboard.Lookbacks...),
		}
		p.targets[w.Key()] = st
		p.order = append(p.order, w.Key())
	}
	return p
}

// Target returns the state of a watch target
func (p *Poller) Target(symbol, horizon string) (*targetState, error) {
	w, ok := p.cfg.Target(symbol, horizon)
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", apperrors.ErrUnknownTarget, symbol, horizon)
	}
	return p.targets[w.Key()], nil
}

// Restore reloads each target's history from the sample store
func (p *Poller) Restore(ctx context.Context) error {
	since := p.now().Add(-p.cfg.History.HistoryOptions().Retention)
	tasks := make([]func(context.Context) error, 0, len(p.order))
	for _, key := range p.order {
		st := p.targets[key]
		tasks = append(tasks, func(ctx context.Context) error {
			samples, err := p.store.Load(ctx, st.key(), since)
			if err != nil {
				return fmt.Errorf("restore %s: %w", st.key(), err)
			}
			st.history.Restore(samples)
			if len(samples) > 0 {
				p.logger.Info("Restored volume history", "target", st.key(), "samples", st.history.Len())
			}
			return nil
		})
	}
	return p.pool.RunAll(ctx, tasks...)
}

// Run polls immediately and then on every interval until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Dashboard.PollInterval())
	defer ticker.Stop()

	p.PollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll schedules one poll per target. Targets whose previous poll is still
// running are skipped.
func (p *Poller) PollAll(ctx context.Context) {
	for _, key := range p.order {
		st := p.targets[key]
		if !st.inFlight.CompareAndSwap(false, true) {
			p.logger.Debug("Previous poll still running, skipping", "target", key)
			continue
		}
		err := p.pool.Submit(func() {
			defer st.inFlight.Store(false)
			p.poll(ctx, st)
		})
		if err != nil {
			st.inFlight.Store(false)
			p.logger.Warn("Poll not scheduled", "target", key, "error", err)
		}
	}
}

func (p *Poller) poll(ctx context.Context, st *targetState) {
	start := p.now()
	timeout := p.cfg.Dashboard.PollInterval() * 3
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}
	ctx, span := telemetry.StartPollSpan(ctx, st.key())
	defer span.End()
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := p.source.FetchSnapshotPayload(pollCtx, st.target.Symbol, st.target.Horizon, st.target.InstrumentType)
	if err != nil {
		p.fail(ctx, st, start, err)
		return
	}

	snap, err := chain.Normalize(raw)
	if err != nil {
		p.metrics.RecordMalformed(ctx, st.key())
		p.fail(ctx, st, start, err)
		return
	}

	if _, err := p.accept(ctx, st, snap, start, p.cfg.Dashboard.AggregateOptions()); err != nil {
		p.fail(ctx, st, start, err)
		return
	}
	p.metrics.RecordPoll(ctx, st.key(), msSince(p.now(), start), true)
}

// accept windows a normalized snapshot, records its volumes, aggregates it and
// publishes the result as the target's current view. A view older than the
// published one is returned but not published.
func (p *Poller) accept(ctx context.Context, st *targetState, snap *chain.ChainSnapshot, now time.Time, opts chain.Options) (*chain.ViewModel, error) {
	st.publish.Lock()
	defer st.publish.Unlock()

	snap = chain.WindowAroundATM(snap, p.cfg.Dashboard.StrikeWindow)

	sample := chain.SampleFromSnapshot(snap, now)
	st.history.Record(sample)

	view, err := chain.Aggregate(snap, st.tracker, now, opts)
	if err != nil {
		return nil, err
	}

	if err := p.store.Append(ctx, st.key(), sample); err != nil {
		p.logger.Warn("Failed to persist volume sample", "target", st.key(), "error", err)
	}
	if err := p.store.Prune(ctx, st.key(), now.Add(-st.history.Options().Retention)); err != nil {
		p.logger.Warn("Failed to prune volume samples", "target", st.key(), "error", err)
	}

	st.mu.Lock()
	if now.Before(st.lastOK) {
		st.mu.Unlock()
		p.logger.Debug("Snapshot superseded by a newer view", "target", st.key(), "taken_at", now)
		return view, nil
	}
	st.snapshot = snap
	st.view = view
	st.lastOK = now
	st.lastErr = nil
	st.mu.Unlock()

	spreads := len(view.Spreads.Calls) + len(view.Spreads.Puts)
	underlying := 0.0
	if snap.UnderlyingPrice.Valid {
		underlying = snap.UnderlyingPrice.Decimal.InexactFloat64()
	}
	p.metrics.SetViewStats(st.key(), len(snap.Strikes), st.history.Len(), spreads, underlying, float64(now.UnixNano())/1e9)

	p.broadcaster.Broadcast(liveserver.NewSnapshotMessage(st.key(), view))
	p.broadcaster.Broadcast(liveserver.NewStatusMessage(st.key(), p.status(st)))

	p.logger.Debug("Snapshot published",
		"target", st.key(),
		"strikes", len(snap.Strikes),
		"atm", view.ATMStrike.Decimal.String(),
		"samples", st.history.Len(),
	)
	return view, nil
}

// fail keeps the last good view and flags the target stale
func (p *Poller) fail(ctx context.Context, st *targetState, start time.Time, err error) {
	st.mu.Lock()
	st.lastErr = err
	st.mu.Unlock()

	p.metrics.RecordPoll(ctx, st.key(), msSince(p.now(), start), false)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	level := p.logger.Warn
	if errors.Is(err, apperrors.ErrAuthenticationFailed) {
		level = p.logger.Error
	}
	level("Poll failed, keeping last view", "target", st.key(), "error", err)

	p.broadcaster.Broadcast(liveserver.NewStatusMessage(st.key(), p.status(st)))
}

func (p *Poller) status(st *targetState) Status {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s := Status{Target: st.key(), Samples: st.history.Len()}
	if st.lastErr != nil {
		s.Error = st.lastErr.Error()
	}
	if !st.lastOK.IsZero() {
		t := st.lastOK
		s.LastSuccess = &t
	}
	s.Stale = st.lastErr != nil || st.lastOK.IsZero() || p.now().Sub(st.lastOK) > p.cfg.Dashboard.StaleAfter()
	return s
}

// Statuses returns the status of every target in configuration order
func (p *Poller) Statuses() []Status {
	out := make([]Status, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.status(p.targets[key]))
	}
	return out
}

// Greeting is sent to new WebSocket clients: the current view and status of
// the subscribed target, or of every target.
func (p *Poller) Greeting(target string) []liveserver.Message {
	var msgs []liveserver.Message
	for _, key := range p.order {
		if target != "" && target != key {
			continue
		}
		st := p.targets[key]
		if _, view := st.current(); view != nil {
			msgs = append(msgs, liveserver.NewSnapshotMessage(key, view))
		}
		msgs = append(msgs, liveserver.NewStatusMessage(key, p.status(st)))
	}
	return msgs
}

func msSince(now, start time.Time) float64 {
	return float64(now.Sub(start).Microseconds()) / 1000
}
