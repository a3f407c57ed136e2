package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chainwatch/internal/chain"
	"chainwatch/internal/config"
	"chainwatch/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ core.ISampleStore = (*MemoryStore)(nil)
	_ core.ISampleStore = (*SQLiteStore)(nil)
	_ core.ISampleStore = (*RedisStore)(nil)
)

var t0 = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

func sampleAt(minute int, call6000 int64) chain.VolumeSample {
	return chain.VolumeSample{
		TakenAt: t0.Add(time.Duration(minute) * time.Minute),
		Calls:   map[string]int64{"6000": call6000, "6002.5": 7},
		Puts:    map[string]int64{"6000": 2 * call6000},
	}
}

// exerciseStore runs the behavior every store must share.
func exerciseStore(t *testing.T, s core.ISampleStore) {
	ctx := context.Background()
	const target = "SPX:dte0"

	// out of order on purpose
	require.NoError(t, s.Append(ctx, target, sampleAt(5, 150)))
	require.NoError(t, s.Append(ctx, target, sampleAt(0, 100)))
	require.NoError(t, s.Append(ctx, target, sampleAt(10, 220)))
	require.NoError(t, s.Append(ctx, "QQQ:dte0", sampleAt(1, 1)))

	all, err := s.Load(ctx, target, t0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].TakenAt.Equal(t0))
	assert.Equal(t, int64(150), all[1].Calls["6000"])
	assert.Equal(t, int64(7), all[2].Calls["6002.5"])
	assert.Equal(t, int64(440), all[2].Puts["6000"])

	recent, err := s.Load(ctx, target, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	// Re-appending the same instant replaces the sample
	require.NoError(t, s.Append(ctx, target, sampleAt(10, 230)))
	all, err = s.Load(ctx, target, t0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(230), all[2].Calls["6000"])

	require.NoError(t, s.Prune(ctx, target, t0.Add(5*time.Minute)))
	left, err := s.Load(ctx, target, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, left)
	assert.True(t, left[0].TakenAt.Equal(t0.Add(5*time.Minute)))

	other, err := s.Load(ctx, "QQQ:dte0", time.Time{})
	require.NoError(t, err)
	assert.Len(t, other, 1, "prune must not touch other targets")

	none, err := s.Load(ctx, "NDX:dte0", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore_WALMode(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestSQLiteStore_SkipsCorruptRows(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "SPX:dte0", sampleAt(0, 100)))
	require.NoError(t, s.Append(ctx, "SPX:dte0", sampleAt(1, 110)))
	_, err = s.db.Exec(`UPDATE volume_samples SET checksum = x'00' WHERE taken_at = ?`, t0.UnixNano())
	require.NoError(t, err)

	got, err := s.Load(ctx, "SPX:dte0", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(110), got[0].Calls["6000"])
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), "SPX:dte0", sampleAt(0, 100)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(context.Background(), "SPX:dte0", time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	prefix := "chainwatch-test-" + time.Now().Format("150405.000000")
	s, err := NewRedisStore(context.Background(), url, prefix, time.Minute)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.HistoryConfig{Store: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.HistoryConfig{Store: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "nested", "h.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.HistoryConfig{Store: "redis", RedisURL: "not a url"})
	assert.Error(t, err)

	_, err = Open(ctx, config.HistoryConfig{Store: "etcd"})
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	in := sampleAt(3, 42)
	blob, err := encodeSample(in)
	require.NoError(t, err)
	out, err := decodeSample(blob)
	require.NoError(t, err)
	assert.True(t, in.TakenAt.Equal(out.TakenAt))
	assert.Equal(t, in.Calls, out.Calls)
	assert.Equal(t, in.Puts, out.Puts)

	_, err = decodeSample([]byte("plain"))
	assert.Error(t, err)
}
