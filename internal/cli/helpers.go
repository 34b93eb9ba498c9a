package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/abacus-exp/abacus/internal/store"
)

// now is the clock used for run time and recommendations.
var now = time.Now

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// loadSnapshot finds an experiment by numeric id or by name and loads it
// with its metrics and analyses.
func loadSnapshot(ctx context.Context, s store.Store, ref string) (*schemas.Snapshot, error) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		e, err := s.GetExperimentByName(ctx, ref)
		if err != nil {
			return nil, notFound(ref, err)
		}
		id = e.ExperimentID
	}

	snap, err := s.GetSnapshot(ctx, id)
	if err != nil {
		return nil, notFound(ref, err)
	}
	return snap, nil
}

func notFound(ref string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("experiment '%s' not found", ref)
	}
	return fmt.Errorf("failed to get experiment: %w", err)
}
