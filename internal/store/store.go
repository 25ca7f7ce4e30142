package store

import (
	"context"

	"github.com/geolavoura/carcalc/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Parcel string          `json:"parcel,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the calculation pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, parcel model.Parcel, biome model.Biome) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Computed layers
	SaveZones(ctx context.Context, runID string, zones model.ZoneCollection) error
	ListZones(ctx context.Context, runID string) ([]model.ProtectionZone, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
