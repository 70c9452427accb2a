// Package tracker implements the impact tracker: it closes the loop on
// executed actions by capturing a pre-execution baseline, waiting out a
// measurement window, and comparing the observed delta against the
// revenue impact the detector originally predicted.
package tracker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/revlift/revlift/internal/config"
	"github.com/revlift/revlift/internal/metrics"
	"github.com/revlift/revlift/internal/storage"
	"github.com/revlift/revlift/internal/types"
)

// Tracker is the impact measurement component
type Tracker struct {
	store   storage.Storage
	windows config.MeasurementConfigs
	cfg     config.QueueConfig
	log     *zap.Logger
	m       *metrics.Metrics

	// now is swappable for tests
	now func() time.Time
}

// New creates a tracker. log and m may be nil; they default to no-ops.
func New(store storage.Storage, windows config.MeasurementConfigs, cfg config.QueueConfig, log *zap.Logger, m *metrics.Metrics) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if err := windows.Validate(); err != nil {
		return nil, fmt.Errorf("invalid measurement configs: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		store:   store,
		windows: windows,
		cfg:     cfg,
		log:     log.Named("tracker"),
		m:       m,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// StartTracking begins impact measurement for an executed action: it
// captures the baseline over the window preceding execution and schedules
// the post-execution measurement. Returns ("", nil) when the action is
// not yet eligible (not executed); that is an expected signal, not a
// fault. When the action already has a measurement, that measurement's
// id is returned; history is never reopened.
func (t *Tracker) StartTracking(ctx context.Context, actionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OperationTimeout)
	defer cancel()

	action, err := t.store.GetAction(ctx, actionID)
	if err != nil {
		return "", err
	}
	if action == nil {
		return "", fmt.Errorf("action not found: %s", actionID)
	}
	if action.Status != types.ActionExecuted || action.ExecutedAt == nil {
		return "", nil
	}

	if existing, err := t.store.GetMeasurementByAction(ctx, actionID); err != nil {
		return "", err
	} else if existing != nil {
		return existing.ID, nil
	}

	opp, err := t.store.GetOpportunity(ctx, action.OpportunityID)
	if err != nil {
		return "", err
	}
	if opp == nil {
		return "", fmt.Errorf("opportunity not found: %s", action.OpportunityID)
	}

	window := t.windows.ForActionType(action.ActionType)
	executedAt := action.ExecutedAt.UTC()
	baselineStart := executedAt.AddDate(0, 0, -window.BaselineWindowDays)
	startDate := executedAt
	endDate := executedAt.AddDate(0, 0, window.MeasurementWindowDays)

	baseline, err := t.store.AggregatePageMetric(ctx, opp.PageURL, window.Metric, baselineStart, executedAt)
	if err != nil {
		return "", fmt.Errorf("failed to aggregate baseline: %w", err)
	}

	// A summed baseline over a window of a different length is scaled to
	// the measurement window, so the delta always compares like spans.
	// Rates are already span-independent.
	if !window.Metric.IsRate() && window.BaselineWindowDays != window.MeasurementWindowDays {
		baseline = baseline.
			Div(decimal.NewFromInt(int64(window.BaselineWindowDays))).
			Mul(decimal.NewFromInt(int64(window.MeasurementWindowDays)))
	}

	// Snapshot the prediction now; later edits to the opportunity must not
	// move the goalposts on a measurement already in flight.
	estimated := decimal.Zero
	if opp.EstimatedRevenueImpact != nil {
		estimated = *opp.EstimatedRevenueImpact
	}

	m := &types.Measurement{
		ID:                    uuid.NewString(),
		ActionID:              actionID,
		PageURL:               opp.PageURL,
		Metric:                window.Metric,
		WindowDays:            window.MeasurementWindowDays,
		StartDate:             startDate,
		EndDate:               endDate,
		BaselineValue:         baseline,
		BaselineStart:         baselineStart,
		BaselineEnd:           executedAt,
		EstimatedImpact:       estimated,
		AttributionConfidence: window.AttributionConfidence,
	}
	if err := t.store.CreateMeasurement(ctx, m); err != nil {
		return "", err
	}

	if t.m != nil {
		t.m.MeasurementsStarted.Inc()
	}
	t.log.Info("impact tracking started",
		zap.String("measurement_id", m.ID),
		zap.String("action_id", actionID),
		zap.String("metric", string(window.Metric)),
		zap.Time("end_date", endDate))

	return m.ID, nil
}

// TrackExecutedActions starts tracking for every executed action that has
// no measurement yet, so a missed tracking call cannot orphan an action.
// Returns the number of measurements started.
func (t *Tracker) TrackExecutedActions(ctx context.Context) (int, error) {
	ids, err := t.store.GetUntrackedExecutedActions(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, id := range ids {
		measurementID, err := t.StartTracking(ctx, id)
		if err != nil {
			t.log.Warn("failed to start tracking", zap.String("action_id", id), zap.Error(err))
			continue
		}
		if measurementID != "" {
			started++
		}
	}
	return started, nil
}

// ProcessPendingMeasurements finalizes every pending measurement whose
// window has closed. Measurements are processed independently under a
// bounded worker group: one row's failure marks that row inconclusive
// (with the error recorded) and never aborts its siblings. Reprocessing is
// excluded by the pending-status filter, so the sweep is idempotent
// against itself and safe on any schedule. Returns the number processed.
func (t *Tracker) ProcessPendingMeasurements(ctx context.Context) (int, error) {
	start := t.now()
	due, err := t.store.GetDueMeasurements(ctx, start)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.SweepWorkers)

	for _, m := range due {
		m := m
		g.Go(func() error {
			if err := t.finalize(gctx, m); err != nil {
				t.log.Warn("measurement processing failed",
					zap.String("measurement_id", m.ID), zap.Error(err))
				if failErr := t.store.FailMeasurement(gctx, m.ID, err.Error()); failErr != nil {
					t.log.Error("failed to record measurement failure",
						zap.String("measurement_id", m.ID), zap.Error(failErr))
					return nil
				}
				if t.m != nil {
					t.m.MeasurementsFinalized.WithLabelValues(string(types.MeasurementInconclusive)).Inc()
				}
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if t.m != nil {
		t.m.SweepDuration.Observe(t.now().Sub(start).Seconds())
	}
	t.log.Info("measurement sweep finished",
		zap.Int("due", len(due)), zap.Int64("processed", processed.Load()))

	return int(processed.Load()), nil
}

// finalize computes one due measurement's results and persists them
func (t *Tracker) finalize(ctx context.Context, m *types.Measurement) error {
	measured, err := t.store.AggregatePageMetric(ctx, m.PageURL, m.Metric, m.StartDate, m.EndDate)
	if err != nil {
		return fmt.Errorf("failed to aggregate measurement window: %w", err)
	}

	impact := CalculateImpact(m.BaselineValue, measured)
	monthly := ExtrapolateMonthly(impact.Absolute, m.WindowDays)
	predErr := PredictionError(monthly, m.EstimatedImpact)

	m.MeasuredValue = measured
	m.AbsoluteImpact = impact.Absolute
	m.PercentImpact = impact.Percent
	m.RevenueImpact = monthly
	m.PredictionError = predErr
	m.PredictionAccuracy = PredictionAccuracy(predErr)

	// A window with literally zero observed value is inconclusive, not a
	// -100% impact: the likelier cause is missing data, not a real effect.
	if measured.GreaterThan(decimal.Zero) {
		m.Status = types.MeasurementComplete
	} else {
		m.Status = types.MeasurementInconclusive
		m.AttributionNotes = "no metric data observed in measurement window"
	}

	if err := t.store.CompleteMeasurement(ctx, m); err != nil {
		return err
	}

	if t.m != nil {
		t.m.MeasurementsFinalized.WithLabelValues(string(m.Status)).Inc()
	}
	t.log.Info("measurement finalized",
		zap.String("measurement_id", m.ID),
		zap.String("status", string(m.Status)),
		zap.String("measured", measured.String()),
		zap.String("monthly_impact", monthly.String()))

	return nil
}

// GetImpactSummary returns aggregate measurement results; zero-valued for
// an empty store
func (t *Tracker) GetImpactSummary(ctx context.Context) (*types.ImpactSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OperationTimeout)
	defer cancel()
	return t.store.GetImpactSummary(ctx)
}

// GetRecentMeasurements returns the latest measurements, newest first
func (t *Tracker) GetRecentMeasurements(ctx context.Context, limit int) ([]*types.Measurement, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OperationTimeout)
	defer cancel()
	return t.store.GetRecentMeasurements(ctx, limit)
}
