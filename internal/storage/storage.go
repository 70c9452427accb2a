package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/revlift/revlift/internal/storage/sqlite"
	"github.com/revlift/revlift/internal/types"
)

// Storage defines the interface for the authoritative opportunity store.
// Every invariant (dedup, cascade, fan-in promotion, expiry) is enforced
// by the backend via atomic read-modify-write transactions; callers never
// need in-process locks.
type Storage interface {
	// Opportunities
	CreateOpportunity(ctx context.Context, input *types.CreateOpportunityInput, actor string) (id string, created bool, err error)
	GetOpportunity(ctx context.Context, id string) (*types.Opportunity, error)
	GetPendingOpportunities(ctx context.Context, limit int) ([]*types.Opportunity, error)
	GetImplementedOpportunities(ctx context.Context, limit int) ([]*types.Opportunity, error)
	ApproveOpportunity(ctx context.Context, id, approvedBy string) error
	RejectOpportunity(ctx context.Context, id, rejectedBy, reason string) error
	ExpireOldOpportunities(ctx context.Context, daysOld int) (int, error)
	GetQueueStats(ctx context.Context) (*types.QueueStats, error)

	// Actions
	GetAction(ctx context.Context, id string) (*types.Action, error)
	GetApprovedActions(ctx context.Context) ([]*types.ApprovedAction, error)
	MarkActionExecuted(ctx context.Context, id string, preMetrics, postMetrics []byte) (promoted bool, err error)
	GetUntrackedExecutedActions(ctx context.Context) ([]string, error)

	// Measurements
	CreateMeasurement(ctx context.Context, m *types.Measurement) error
	GetMeasurement(ctx context.Context, id string) (*types.Measurement, error)
	GetMeasurementByAction(ctx context.Context, actionID string) (*types.Measurement, error)
	GetDueMeasurements(ctx context.Context, now time.Time) ([]*types.Measurement, error)
	CompleteMeasurement(ctx context.Context, m *types.Measurement) error
	FailMeasurement(ctx context.Context, id, notes string) error
	GetImpactSummary(ctx context.Context) (*types.ImpactSummary, error)
	GetRecentMeasurements(ctx context.Context, limit int) ([]*types.Measurement, error)

	// Page metrics (populated by an external connector; the core only reads)
	UpsertPageMetrics(ctx context.Context, rows []*types.PageMetrics) error
	AggregatePageMetric(ctx context.Context, pageURL string, metric types.MetricType, start, end time.Time) (decimal.Decimal, error)

	// Audit trail
	GetEvents(ctx context.Context, opportunityID string, limit int) ([]*types.Event, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Default: ".revlift/revlift.db"
	Path string

	// BusyTimeout bounds how long a writer waits for the database lock
	// before failing. Bursts of concurrent callers degrade by queuing
	// rather than deadlocking.
	// Default: 10s
	BusyTimeout time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path:        ".revlift/revlift.db",
		BusyTimeout: 10 * time.Second,
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".revlift/revlift.db"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 10 * time.Second
	}
	return sqlite.New(cfg.Path, cfg.BusyTimeout)
}
