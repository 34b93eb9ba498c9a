package store

import (
	"context"

	"github.com/abacus-exp/abacus/internal/schemas"
)

// Store defines the interface for experiment storage operations
type Store interface {
	// Experiment operations
	SaveSnapshot(ctx context.Context, snap *schemas.Snapshot) error
	GetExperiment(ctx context.Context, id int64) (*schemas.Experiment, error)
	GetExperimentByName(ctx context.Context, name string) (*schemas.Experiment, error)
	ListExperiments(ctx context.Context) ([]*schemas.Experiment, error)
	ConcludeExperiment(ctx context.Context, id int64, deployedVariationID *int64, endReason, conclusionURL string) (*schemas.Experiment, error)
	DeleteExperiment(ctx context.Context, id int64) error
	CountExperiments(ctx context.Context) (int, error)

	// Metric and analysis operations
	GetMetric(ctx context.Context, id int64) (*schemas.Metric, error)
	ListAnalyses(ctx context.Context, experimentID int64) ([]schemas.Analysis, error)
	GetSnapshot(ctx context.Context, experimentID int64) (*schemas.Snapshot, error)

	// Lifecycle
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
