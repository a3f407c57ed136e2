package chain

import (
	"sort"
	"sync"
	"time"
)

// VolumeSample is the per-strike session volume of one snapshot at one moment.
// Keys are canonical strike strings.
type VolumeSample struct {
	TakenAt time.Time        `json:"taken_at"`
	Calls   map[string]int64 `json:"calls"`
	Puts    map[string]int64 `json:"puts"`
}

// SampleFromSnapshot captures the call and put volumes of every strike.
func SampleFromSnapshot(s *ChainSnapshot, takenAt time.Time) VolumeSample {
	sample := VolumeSample{
		TakenAt: takenAt,
		Calls:   make(map[string]int64, len(s.Strikes)),
		Puts:    make(map[string]int64, len(s.Strikes)),
	}
	for _, r := range s.Strikes {
		key := strikeKey(r.Strike)
		sample.Calls[key] = r.CallVol
		sample.Puts[key] = r.PutVol
	}
	return sample
}

func (v VolumeSample) volume(side Side, key string) (int64, bool) {
	m := v.Calls
	if side == Put {
		m = v.Puts
	}
	n, ok := m[key]
	return n, ok
}

// HistoryOptions bounds the history buffer.
type HistoryOptions struct {
	Retention  time.Duration
	MaxSamples int
}

func DefaultHistoryOptions() HistoryOptions {
	return HistoryOptions{Retention: 20 * time.Minute, MaxSamples: 512}
}

// HistoryBuffer is a bounded, time-ordered ring of volume samples for one
// watch target. It is safe for concurrent use.
type HistoryBuffer struct {
	mu      sync.RWMutex
	samples []VolumeSample
	opts    HistoryOptions
}

func NewHistoryBuffer(opts HistoryOptions) *HistoryBuffer {
	def := DefaultHistoryOptions()
	if opts.Retention <= 0 {
		opts.Retention = def.Retention
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = def.MaxSamples
	}
	return &HistoryBuffer{opts: opts}
}

// Record stores a sample, keeping samples ordered by TakenAt, then evicts
// samples older than the retention window or beyond the sample cap.
func (h *HistoryBuffer) Record(sample VolumeSample) {
	sample = sample.clone()

	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.samples), func(i int) bool {
		return h.samples[i].TakenAt.After(sample.TakenAt)
	})
	// copy on write: slices handed out by notAfter share the old array
	next := make([]VolumeSample, 0, len(h.samples)+1)
	next = append(next, h.samples[:i]...)
	next = append(next, sample)
	next = append(next, h.samples[i:]...)
	h.samples = next

	h.evictLocked()
}

// Restore replaces the buffer contents, e.g. with samples loaded from a store.
func (h *HistoryBuffer) Restore(samples []VolumeSample) {
	cp := make([]VolumeSample, 0, len(samples))
	for _, s := range samples {
		cp = append(cp, s.clone())
	}
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].TakenAt.Before(cp[j].TakenAt) })

	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = cp
	h.evictLocked()
}

func (h *HistoryBuffer) evictLocked() {
	if len(h.samples) == 0 {
		return
	}
	cutoff := h.samples[len(h.samples)-1].TakenAt.Add(-h.opts.Retention)
	drop := sort.Search(len(h.samples), func(i int) bool {
		return !h.samples[i].TakenAt.Before(cutoff)
	})
	if over := len(h.samples) - drop - h.opts.MaxSamples; over > 0 {
		drop += over
	}
	if drop > 0 {
		h.samples = append(h.samples[:0:0], h.samples[drop:]...)
	}
}

func (h *HistoryBuffer) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

// Samples returns the buffered samples, oldest first.
func (h *HistoryBuffer) Samples() []VolumeSample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]VolumeSample(nil), h.samples...)
}

func (h *HistoryBuffer) Options() HistoryOptions {
	return h.opts
}

// notAfter returns the samples taken at or before cutoff, oldest first.
// The backing array is never written after publication, so callers may read
// the result without holding the lock.
func (h *HistoryBuffer) notAfter(cutoff time.Time) []VolumeSample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := sort.Search(len(h.samples), func(i int) bool {
		return h.samples[i].TakenAt.After(cutoff)
	})
	return h.samples[:n:n]
}

func (v VolumeSample) clone() VolumeSample {
	out := VolumeSample{
		TakenAt: v.TakenAt,
		Calls:   make(map[string]int64, len(v.Calls)),
		Puts:    make(map[string]int64, len(v.Puts)),
	}
	for k, n := range v.Calls {
		out.Calls[k] = n
	}
	for k, n := range v.Puts {
		out.Puts[k] = n
	}
	return out
}
