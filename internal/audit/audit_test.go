package audit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func newMemSink() *memSink {
	return &memSink{entries: map[string]Entry{}}
}

func (m *memSink) Insert(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.EventID]; !ok {
		m.entries[e.EventID] = e
	}
	return nil
}

func (m *memSink) Recent(ctx context.Context, gameID int64, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Entry{}
	for _, e := range m.entries {
		if e.GameID == gameID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func encode(t *testing.T, eventType string, event comm.GameEvent) []byte {
	t.Helper()
	raw, err := comm.Encode(eventType, event)
	require.NoError(t, err)
	return raw
}

func TestRecordSetsExpiry(t *testing.T) {
	sink := newMemSink()
	r := NewRecorder(sink, 24*time.Hour)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	err := r.Record(context.Background(), encode(t, comm.EventGameDrift, comm.GameEvent{
		EventID: "e1", GameID: 4, Name: "demo", CreatorID: 1, Reason: "container missing", At: at,
	}))
	require.NoError(t, err)

	entries, err := sink.Recent(context.Background(), 4, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, comm.EventGameDrift, e.Type)
	assert.Equal(t, "container missing", e.Reason)
	assert.Equal(t, at.Add(24*time.Hour), e.ExpiresAt)
}

func TestRecordIgnoresRedelivery(t *testing.T) {
	sink := newMemSink()
	r := NewRecorder(sink, time.Hour)
	raw := encode(t, comm.EventGameStarted, comm.GameEvent{EventID: "e1", GameID: 4, At: time.Now()})

	require.NoError(t, r.Record(context.Background(), raw))
	require.NoError(t, r.Record(context.Background(), raw))

	entries, _ := sink.Recent(context.Background(), 4, 10)
	assert.Len(t, entries, 1)
}

func TestRecordRejectsBadMessages(t *testing.T) {
	r := NewRecorder(newMemSink(), time.Hour)

	assert.Error(t, r.Record(context.Background(), []byte("{")))
	assert.Error(t, r.Record(context.Background(), encode(t, comm.EventGameStarted, comm.GameEvent{GameID: 1})))
}
