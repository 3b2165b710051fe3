package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tagask/internal/storage"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestAwardAccumulates(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	require.NoError(t, l.Award(ctx, "u1", "Ann", 1))
	require.NoError(t, l.Award(ctx, "u1", "Ann", 1))

	all, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].Points)
}

func TestAwardKeepsKnownName(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	require.NoError(t, l.Award(ctx, "u1", "Ann", 1))
	require.NoError(t, l.Award(ctx, "u1", "", 1))
	require.NoError(t, l.Award(ctx, "u2", "", 1))

	all, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ann", all[0].DisplayName)
	assert.Equal(t, "", all[1].DisplayName)

	require.NoError(t, l.Award(ctx, "u1", "Ann B.", 1))
	all, err = l.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ann B.", all[0].DisplayName)
}

func TestAwardRejectsNonPositive(t *testing.T) {
	l := newLedger(t)
	assert.ErrorIs(t, l.Award(context.Background(), "u1", "Ann", 0), ErrInvalidDelta)
	assert.ErrorIs(t, l.Award(context.Background(), "u1", "Ann", -3), ErrInvalidDelta)
}

func TestListOrdersByPointsThenInsertion(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	// Insertion order: zed, amy, bob. Names sort differently on purpose.
	require.NoError(t, l.Award(ctx, "zed", "Zed", 1))
	require.NoError(t, l.Award(ctx, "amy", "Amy", 1))
	require.NoError(t, l.Award(ctx, "bob", "Bob", 3))

	all, err := l.List(ctx)
	require.NoError(t, err)
	var ids []string
	for _, e := range all {
		ids = append(ids, e.UserID)
	}
	assert.Equal(t, []string{"bob", "zed", "amy"}, ids)
}

func TestListEmpty(t *testing.T) {
	all, err := newLedger(t).List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestConcurrentAwardsNotLost(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				assert.NoError(t, l.Award(ctx, "shared", fmt.Sprintf("w%d", w), 1))
			}
		}()
	}
	wg.Wait()

	all, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, workers*perWorker, all[0].Points)
}

// TestAwardsAcrossStoresNotLost runs two ledgers on separate handles to one
// database file, the way "tagask start" and "tagask mcp" share a data dir.
func TestAwardsAcrossStoresNotLost(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var ledgers []*Ledger
	for range 2 {
		s, err := storage.Open(dir)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		ledgers = append(ledgers, New(s))
	}

	const perLedger = 100
	var wg sync.WaitGroup
	for _, l := range ledgers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perLedger {
				assert.NoError(t, l.Award(ctx, "u1", "Ann", 1))
			}
		}()
	}
	wg.Wait()

	all, err := ledgers[0].List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2*perLedger, all[0].Points)
	assert.Equal(t, "Ann", all[0].DisplayName)
}

type failingStore struct{ Store }

func (failingStore) AddLeaderboardPoints(context.Context, string, string, int) error {
	return errors.New("disk on fire")
}

func TestAwardSurfacesStoreErrors(t *testing.T) {
	l := New(failingStore{})
	err := l.Award(context.Background(), "u1", "Ann", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}
