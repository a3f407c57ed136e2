package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPollsTotal         = "chainwatch_polls_total"
	MetricPollFailuresTotal  = "chainwatch_poll_failures_total"
	MetricPollDuration       = "chainwatch_poll_duration_ms"
	MetricSnapshotAge        = "chainwatch_snapshot_age_seconds"
	MetricStrikesTracked     = "chainwatch_strikes_tracked"
	MetricHistorySamples     = "chainwatch_history_samples"
	MetricSpreadCandidates   = "chainwatch_spread_candidates"
	MetricUnderlyingPrice    = "chainwatch_underlying_price"
	MetricMalformedSnapshots = "chainwatch_malformed_snapshots_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	PollsTotal         metric.Int64Counter
	PollFailuresTotal  metric.Int64Counter
	MalformedSnapshots metric.Int64Counter
	PollDuration       metric.Float64Histogram
	SnapshotAge        metric.Float64ObservableGauge
	StrikesTracked     metric.Int64ObservableGauge
	HistorySamples     metric.Int64ObservableGauge
	SpreadCandidates   metric.Int64ObservableGauge
	UnderlyingPrice    metric.Float64ObservableGauge

	// State for observable gauges, keyed by watch target
	mu              sync.RWMutex
	lastSuccessMap  map[string]float64 // unix seconds
	strikesMap      map[string]int64
	samplesMap      map[string]int64
	spreadsMap      map[string]int64
	underlyingMap   map[string]float64
	nowUnixSecondsF func() float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = newMetricsHolder()
	})
	return globalMetrics
}

func newMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		lastSuccessMap:  make(map[string]float64),
		strikesMap:      make(map[string]int64),
		samplesMap:      make(map[string]int64),
		spreadsMap:      make(map[string]int64),
		underlyingMap:   make(map[string]float64),
		nowUnixSecondsF: nowUnixSeconds,
	}
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PollsTotal, err = meter.Int64Counter(MetricPollsTotal, metric.WithDescription("Chain polls attempted"))
	if err != nil {
		return err
	}

	m.PollFailuresTotal, err = meter.Int64Counter(MetricPollFailuresTotal, metric.WithDescription("Chain polls that kept the previous view"))
	if err != nil {
		return err
	}

	m.MalformedSnapshots, err = meter.Int64Counter(MetricMalformedSnapshots, metric.WithDescription("Snapshots rejected by the normalizer"))
	if err != nil {
		return err
	}

	m.PollDuration, err = meter.Float64Histogram(MetricPollDuration, metric.WithDescription("Fetch plus aggregation time per poll"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.SnapshotAge, err = meter.Float64ObservableGauge(MetricSnapshotAge, metric.WithDescription("Seconds since the last good snapshot"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			now := m.nowUnixSecondsF()
			for target, last := range m.lastSuccessMap {
				obs.Observe(now-last, metric.WithAttributes(attribute.String("target", target)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.StrikesTracked, err = meter.Int64ObservableGauge(MetricStrikesTracked, metric.WithDescription("Strikes in the current view"),
		metric.WithInt64Callback(m.observeInt(func() map[string]int64 { return m.strikesMap })))
	if err != nil {
		return err
	}

	m.HistorySamples, err = meter.Int64ObservableGauge(MetricHistorySamples, metric.WithDescription("Volume samples held for hot strikes"),
		metric.WithInt64Callback(m.observeInt(func() map[string]int64 { return m.samplesMap })))
	if err != nil {
		return err
	}

	m.SpreadCandidates, err = meter.Int64ObservableGauge(MetricSpreadCandidates, metric.WithDescription("Credit spreads inside the band"),
		metric.WithInt64Callback(m.observeInt(func() map[string]int64 { return m.spreadsMap })))
	if err != nil {
		return err
	}

	m.UnderlyingPrice, err = meter.Float64ObservableGauge(MetricUnderlyingPrice, metric.WithDescription("Last underlying price"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for target, val := range m.underlyingMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("target", target)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) observeInt(values func() map[string]int64) metric.Int64Callback {
	return func(ctx context.Context, obs metric.Int64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for target, val := range values() {
			obs.Observe(val, metric.WithAttributes(attribute.String("target", target)))
		}
		return nil
	}
}

// Helpers to update observable state

// RecordPoll counts one poll and its latency. Instruments are optional so
// tests and tools can run without InitMetrics.
func (m *MetricsHolder) RecordPoll(ctx context.Context, target string, durationMs float64, ok bool) {
	attrs := metric.WithAttributes(attribute.String("target", target))
	if m.PollsTotal != nil {
		m.PollsTotal.Add(ctx, 1, attrs)
	}
	if !ok && m.PollFailuresTotal != nil {
		m.PollFailuresTotal.Add(ctx, 1, attrs)
	}
	if m.PollDuration != nil {
		m.PollDuration.Record(ctx, durationMs, attrs)
	}
}

func (m *MetricsHolder) RecordMalformed(ctx context.Context, target string) {
	if m.MalformedSnapshots != nil {
		m.MalformedSnapshots.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
	}
}

// SetViewStats records the gauges of a freshly aggregated view.
func (m *MetricsHolder) SetViewStats(target string, strikes, samples, spreads int, underlying float64, atUnixSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSuccessMap[target] = atUnixSeconds
	m.strikesMap[target] = int64(strikes)
	m.samplesMap[target] = int64(samples)
	m.spreadsMap[target] = int64(spreads)
	if underlying > 0 {
		m.underlyingMap[target] = underlying
	}
}

func (m *MetricsHolder) GetStrikesTracked() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.strikesMap))
	for k, v := range m.strikesMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetLastSuccess() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.lastSuccessMap))
	for k, v := range m.lastSuccessMap {
		res[k] = v
	}
	return res
}

func nowUnixSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
