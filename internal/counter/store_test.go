package counter

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/tally/internal/counter/mixture"
	"github.com/HerbHall/tally/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T) *JournalStore {
	t.Helper()
	db, err := store.New(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background(), "counter", migrations()))
	return NewJournalStore(db.DB())
}

func TestJournalStore_RoundTrip(t *testing.T) {
	js := newJournal(t)
	ctx := context.Background()
	score := 0.42
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, js.Insert(ctx, "s1", &Delta{
		Value: 9.9, Baseline: 5.76, Action: mixture.ActionMatched,
		CategoryID: 3, Estimate: 2, Score: &score, Total: 19.9,
	}, at))
	require.NoError(t, js.Insert(ctx, "s1", &Delta{
		Value: -30, Action: mixture.ActionReset,
	}, at.Add(time.Second)))

	entries, err := js.List(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	reset, matched := entries[0], entries[1]
	assert.Equal(t, mixture.ActionReset, reset.Action)
	assert.Zero(t, reset.CategoryID)
	assert.Nil(t, reset.Score)

	assert.Equal(t, 3, matched.CategoryID)
	assert.Equal(t, 2.0, matched.Estimate)
	require.NotNil(t, matched.Score)
	assert.InDelta(t, 0.42, *matched.Score, 1e-12)
	assert.True(t, at.Equal(matched.CreatedAt), "created_at = %v", matched.CreatedAt)
}

func TestJournalStore_DeleteBefore(t *testing.T) {
	js := newJournal(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		d := &Delta{Value: 5, Action: mixture.ActionCreated}
		require.NoError(t, js.Insert(ctx, "s", d, now.Add(-time.Duration(i)*time.Hour)))
	}

	deleted, err := js.DeleteBefore(ctx, now.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := js.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
