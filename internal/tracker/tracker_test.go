package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revlift/revlift/internal/config"
	"github.com/revlift/revlift/internal/storage"
	"github.com/revlift/revlift/internal/types"
)

func setupTracker(t *testing.T) (*Tracker, storage.Storage) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewStorage(ctx, &storage.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tr, err := New(store, config.DefaultMeasurementConfigs(), config.DefaultQueueConfig(), nil, nil)
	require.NoError(t, err)
	return tr, store
}

// executedAction creates, approves and executes a single-action opportunity
func executedAction(t *testing.T, store storage.Storage, actionType, pageURL string, estimate *decimal.Decimal) string {
	t.Helper()
	ctx := context.Background()

	id, created, err := store.CreateOpportunity(ctx, &types.CreateOpportunityInput{
		OpportunityType:        actionType,
		Title:                  "Test opportunity",
		Confidence:             decimal.RequireFromString("0.8"),
		PageURL:                pageURL,
		EstimatedRevenueImpact: estimate,
		Actions:                []types.ActionInput{{ActionType: actionType}},
	}, "test-actor")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, store.ApproveOpportunity(ctx, id, "reviewer"))

	opp, err := store.GetOpportunity(ctx, id)
	require.NoError(t, err)
	require.Len(t, opp.Actions, 1)

	_, err = store.MarkActionExecuted(ctx, opp.Actions[0].ID, nil, nil)
	require.NoError(t, err)
	return opp.Actions[0].ID
}

// seedDailyClicks writes one page_metrics row per day over [from, to)
func seedDailyClicks(t *testing.T, store storage.Storage, pageURL string, from, to time.Time, clicksPerDay int64) {
	t.Helper()
	var rows []*types.PageMetrics
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		rows = append(rows, &types.PageMetrics{
			PageURL:         pageURL,
			Day:             day,
			Pageviews:       1000,
			AffiliateClicks: clicksPerDay,
			AdRevenue:       decimal.RequireFromString("5"),
			RPM:             decimal.RequireFromString("4"),
		})
	}
	require.NoError(t, store.UpsertPageMetrics(context.Background(), rows))
}

func TestStartTracking(t *testing.T) {
	tr, store := setupTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// 14 baseline days at 5 clicks/day before execution.
	seedDailyClicks(t, store, "https://example.com/page", now.AddDate(0, 0, -14), now, 5)

	estimate := decimal.RequireFromString("150")
	actionID := executedAction(t, store, "add_affiliate_link", "https://example.com/page", &estimate)

	measurementID, err := tr.StartTracking(ctx, actionID)
	require.NoError(t, err)
	require.NotEmpty(t, measurementID)

	m, err := store.GetMeasurement(ctx, measurementID)
	require.NoError(t, err)
	require.NotNil(t, m)

	// Window geometry comes from the add_affiliate_link config: 14/14 days
	// anchored on the execution time.
	action, err := store.GetAction(ctx, actionID)
	require.NoError(t, err)
	executedAt := action.ExecutedAt.UTC()

	assert.Equal(t, types.MetricAffiliateClicks, m.Metric)
	assert.Equal(t, 14, m.WindowDays)
	assert.True(t, m.StartDate.Equal(executedAt), "start = %s, want %s", m.StartDate, executedAt)
	assert.True(t, m.EndDate.Equal(executedAt.AddDate(0, 0, 14)), "end = %s", m.EndDate)
	assert.True(t, m.BaselineStart.Equal(executedAt.AddDate(0, 0, -14)), "baseline start = %s", m.BaselineStart)
	assert.True(t, m.BaselineEnd.Equal(executedAt), "baseline end = %s", m.BaselineEnd)

	assert.True(t, m.BaselineValue.Equal(decimal.RequireFromString("70")),
		"baseline = %s, want 70", m.BaselineValue)
	// The prediction is snapshotted at tracking time.
	assert.True(t, m.EstimatedImpact.Equal(estimate), "estimate = %s", m.EstimatedImpact)
	assert.True(t, m.AttributionConfidence.Equal(decimal.RequireFromString("0.7")))
	assert.Equal(t, types.MeasurementPending, m.Status)

	// Tracking again returns the same measurement; history never reopens.
	again, err := tr.StartTracking(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, measurementID, again)
}

func TestStartTrackingNotEligible(t *testing.T) {
	tr, store := setupTracker(t)
	ctx := context.Background()

	// Unknown actions are a caller error.
	_, err := tr.StartTracking(ctx, "no-such-action")
	assert.Error(t, err)

	// A not-yet-executed action is an expected no-op, not a fault.
	id, created, err := store.CreateOpportunity(ctx, &types.CreateOpportunityInput{
		OpportunityType: "add_affiliate_link",
		Title:           "Pending opportunity",
		Confidence:      decimal.RequireFromString("0.8"),
		Actions:         []types.ActionInput{{ActionType: "add_affiliate_link"}},
	}, "test-actor")
	require.NoError(t, err)
	require.True(t, created)
	opp, err := store.GetOpportunity(ctx, id)
	require.NoError(t, err)

	measurementID, err := tr.StartTracking(ctx, opp.Actions[0].ID)
	require.NoError(t, err)
	assert.Empty(t, measurementID)
}

func TestStartTrackingUnknownActionType(t *testing.T) {
	tr, store := setupTracker(t)
	ctx := context.Background()

	// An action type with no config of its own gets the default window:
	// ad_revenue over 30 days.
	actionID := executedAction(t, store, "swap_theme", "https://example.com/page", nil)

	measurementID, err := tr.StartTracking(ctx, actionID)
	require.NoError(t, err)

	m, err := store.GetMeasurement(ctx, measurementID)
	require.NoError(t, err)
	assert.Equal(t, types.MetricAdRevenue, m.Metric)
	assert.Equal(t, 30, m.WindowDays)
	// No estimate on the opportunity snapshots as zero.
	assert.True(t, m.EstimatedImpact.IsZero())
}

func TestTrackExecutedActions(t *testing.T) {
	tr, store := setupTracker(t)
	ctx := context.Background()

	a := executedAction(t, store, "add_affiliate_link", "https://example.com/a", nil)
	b := executedAction(t, store, "add_ad_placement", "https://example.com/b", nil)

	started, err := tr.TrackExecutedActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, started)

	for _, id := range []string{a, b} {
		m, err := store.GetMeasurementByAction(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, m, "action %s has no measurement", id)
	}

	// Already-tracked actions are not picked up again.
	started, err = tr.TrackExecutedActions(ctx)
	require.NoError(t, err)
	assert.Zero(t, started)
}

func TestProcessPendingMeasurementsComplete(t *testing.T) {
	tr, store := setupTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Baseline: 5 clicks/day. Measured window: 10 clicks/day.
	seedDailyClicks(t, store, "https://example.com/page", now.AddDate(0, 0, -14), now, 5)
	seedDailyClicks(t, store, "https://example.com/page", now, now.AddDate(0, 0, 14), 10)

	estimate := decimal.RequireFromString("150")
	actionID := executedAction(t, store, "add_affiliate_link", "https://example.com/page", &estimate)
	measurementID, err := tr.StartTracking(ctx, actionID)
	require.NoError(t, err)

	// Nothing due while the window is open.
	processed, err := tr.ProcessPendingMeasurements(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)

	// Jump the sweep clock past the window.
	tr.now = func() time.Time { return now.AddDate(0, 0, 15) }

	processed, err = tr.ProcessPendingMeasurements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	m, err := store.GetMeasurement(ctx, measurementID)
	require.NoError(t, err)
	require.Equal(t, types.MeasurementComplete, m.Status)

	// 70 -> 140 clicks over 14 days: +70 absolute, +100%, 150/month
	// extrapolated, exactly matching the 150 estimate.
	assert.True(t, m.MeasuredValue.Equal(decimal.RequireFromString("140")), "measured = %s", m.MeasuredValue)
	assert.True(t, m.AbsoluteImpact.Equal(decimal.RequireFromString("70")), "absolute = %s", m.AbsoluteImpact)
	assert.True(t, m.PercentImpact.Equal(decimal.RequireFromString("100")), "percent = %s", m.PercentImpact)
	assert.True(t, m.RevenueImpact.Equal(decimal.RequireFromString("150")), "monthly = %s", m.RevenueImpact)
	assert.True(t, m.PredictionError.IsZero(), "error = %s", m.PredictionError)
	assert.True(t, m.PredictionAccuracy.Equal(decimal.NewFromInt(1)), "accuracy = %s", m.PredictionAccuracy)
	assert.NotNil(t, m.CompletedAt)

	// The verified impact lands on the action.
	action, err := store.GetAction(ctx, actionID)
	require.NoError(t, err)
	require.NotNil(t, action.VerifiedImpact)
	assert.True(t, action.VerifiedImpact.Equal(decimal.RequireFromString("150")))

	// The sweep is idempotent: finalized rows are never reprocessed.
	processed, err = tr.ProcessPendingMeasurements(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestProcessPendingMeasurementsInconclusive(t *testing.T) {
	tr, store := setupTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Baseline data exists, but the measurement window has none at all.
	seedDailyClicks(t, store, "https://example.com/page", now.AddDate(0, 0, -14), now, 5)

	actionID := executedAction(t, store, "add_affiliate_link", "https://example.com/page", nil)
	measurementID, err := tr.StartTracking(ctx, actionID)
	require.NoError(t, err)

	tr.now = func() time.Time { return now.AddDate(0, 0, 15) }
	processed, err := tr.ProcessPendingMeasurements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	m, err := store.GetMeasurement(ctx, measurementID)
	require.NoError(t, err)
	assert.Equal(t, types.MeasurementInconclusive, m.Status)
	assert.True(t, m.MeasuredValue.IsZero())
	assert.Equal(t, "no metric data observed in measurement window", m.AttributionNotes)

	// Inconclusive results never verify impact on the action.
	action, err := store.GetAction(ctx, actionID)
	require.NoError(t, err)
	assert.Nil(t, action.VerifiedImpact)
}

// brokenMetricsStore errors on metric aggregation for one page, standing
// in for a metrics backend outage scoped to part of the data
type brokenMetricsStore struct {
	storage.Storage
	brokenPage string
}

func (s *brokenMetricsStore) AggregatePageMetric(ctx context.Context, pageURL string, metric types.MetricType, start, end time.Time) (decimal.Decimal, error) {
	if pageURL == s.brokenPage {
		return decimal.Zero, fmt.Errorf("metrics backend unavailable")
	}
	return s.Storage.AggregatePageMetric(ctx, pageURL, metric, start, end)
}

func TestProcessPendingMeasurementsIsolatesFailures(t *testing.T) {
	tr, store := setupTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, page := range []string{"https://example.com/good", "https://example.com/bad"} {
		seedDailyClicks(t, store, page, now.AddDate(0, 0, -14), now.AddDate(0, 0, 14), 5)
	}

	goodAction := executedAction(t, store, "add_affiliate_link", "https://example.com/good", nil)
	badAction := executedAction(t, store, "update_affiliate_link", "https://example.com/bad", nil)
	goodID, err := tr.StartTracking(ctx, goodAction)
	require.NoError(t, err)
	badID, err := tr.StartTracking(ctx, badAction)
	require.NoError(t, err)

	// Sweep through a store whose aggregation fails for the bad page only.
	broken, err := New(&brokenMetricsStore{Storage: store, brokenPage: "https://example.com/bad"},
		config.DefaultMeasurementConfigs(), config.DefaultQueueConfig(), nil, nil)
	require.NoError(t, err)
	broken.now = func() time.Time { return now.AddDate(0, 0, 15) }

	processed, err := broken.ProcessPendingMeasurements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	// The healthy row finalizes normally despite its sibling's failure.
	good, err := store.GetMeasurement(ctx, goodID)
	require.NoError(t, err)
	assert.Equal(t, types.MeasurementComplete, good.Status)

	// The failed row is marked inconclusive with the error recorded, and
	// never verifies impact on its action.
	bad, err := store.GetMeasurement(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, types.MeasurementInconclusive, bad.Status)
	assert.Contains(t, bad.AttributionNotes, "metrics backend unavailable")

	action, err := store.GetAction(ctx, badAction)
	require.NoError(t, err)
	assert.Nil(t, action.VerifiedImpact)

	// The failed row is terminal; the next sweep does not retry it.
	processed, err = broken.ProcessPendingMeasurements(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestStartTrackingScalesUnequalBaselineWindow(t *testing.T) {
	_, store := setupTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	configs := config.DefaultMeasurementConfigs()
	affiliate := configs["add_affiliate_link"]
	affiliate.BaselineWindowDays = 7
	configs["add_affiliate_link"] = affiliate
	ads := configs["add_ad_placement"]
	ads.BaselineWindowDays = 7
	configs["add_ad_placement"] = ads

	tr, err := New(store, configs, config.DefaultQueueConfig(), nil, nil)
	require.NoError(t, err)

	seedDailyClicks(t, store, "https://example.com/page", now.AddDate(0, 0, -7), now, 5)

	// A 7-day click sum of 35 compares against a 14-day window, so the
	// stored baseline is scaled to 70.
	actionID := executedAction(t, store, "add_affiliate_link", "https://example.com/page", nil)
	measurementID, err := tr.StartTracking(ctx, actionID)
	require.NoError(t, err)

	m, err := store.GetMeasurement(ctx, measurementID)
	require.NoError(t, err)
	assert.True(t, m.BaselineValue.Equal(decimal.RequireFromString("70")),
		"baseline = %s, want 70", m.BaselineValue)
	executedAt := m.BaselineEnd.UTC()
	assert.True(t, m.BaselineStart.Equal(executedAt.AddDate(0, 0, -7)), "baseline start = %s", m.BaselineStart)

	// RPM is a daily average, so it needs no scaling across window lengths.
	rpmAction := executedAction(t, store, "add_ad_placement", "https://example.com/page", nil)
	rpmID, err := tr.StartTracking(ctx, rpmAction)
	require.NoError(t, err)

	rpm, err := store.GetMeasurement(ctx, rpmID)
	require.NoError(t, err)
	assert.True(t, rpm.BaselineValue.Equal(decimal.RequireFromString("4")),
		"rpm baseline = %s, want 4", rpm.BaselineValue)
}

func TestProcessPendingMeasurementsSiteWide(t *testing.T) {
	tr, store := setupTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// No page URL: nothing observable, so both baseline and measurement
	// aggregate to zero and the result is inconclusive.
	actionID := executedAction(t, store, "update_content", "", nil)
	measurementID, err := tr.StartTracking(ctx, actionID)
	require.NoError(t, err)

	m, err := store.GetMeasurement(ctx, measurementID)
	require.NoError(t, err)
	assert.True(t, m.BaselineValue.IsZero())

	tr.now = func() time.Time { return now.AddDate(0, 0, 31) }
	processed, err := tr.ProcessPendingMeasurements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	m, err = store.GetMeasurement(ctx, measurementID)
	require.NoError(t, err)
	assert.Equal(t, types.MeasurementInconclusive, m.Status)
}
