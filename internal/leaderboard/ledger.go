// Package leaderboard keeps the points people earn for answering questions.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kalambet/tagask/internal/storage"
)

// ErrInvalidDelta is returned for a non-positive award.
var ErrInvalidDelta = errors.New("leaderboard: delta must be positive")

// Store is the persistence the ledger needs.
type Store interface {
	// AddLeaderboardPoints must apply the increment atomically: several
	// processes may award points against one store.
	AddLeaderboardPoints(ctx context.Context, userID, displayName string, delta int) error
	ListLeaderboard(ctx context.Context) ([]storage.LeaderboardEntry, error)
}

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Award adds delta points to userID, creating the entry on first award. A
// non-empty displayName replaces the stored one; an empty one never blanks it.
func (l *Ledger) Award(ctx context.Context, userID, displayName string, delta int) error {
	if delta <= 0 {
		return ErrInvalidDelta
	}
	if userID == "" {
		return errors.New("leaderboard: user id is required")
	}

	if err := l.store.AddLeaderboardPoints(ctx, userID, displayName, delta); err != nil {
		return fmt.Errorf("awarding %s: %w", userID, err)
	}
	return nil
}

// List returns every entry by points descending; equal points keep
// insertion order.
func (l *Ledger) List(ctx context.Context) ([]storage.LeaderboardEntry, error) {
	entries, err := l.store.ListLeaderboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing leaderboard: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].Seq < entries[j].Seq
	})
	if entries == nil {
		entries = []storage.LeaderboardEntry{}
	}
	return entries, nil
}
