package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/revlift/revlift/internal/types"
)

// dayFormat is the storage layout of the page_metrics day column
const dayFormat = "2006-01-02"

// UpsertPageMetrics writes per-page daily aggregates. Ingestion belongs to
// the external sync connector; this surface exists for it (and for tests).
func (s *SQLiteStorage) UpsertPageMetrics(ctx context.Context, metrics []*types.PageMetrics) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, pm := range metrics {
		if pm.PageURL == "" {
			return fmt.Errorf("page_url is required")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO page_metrics (page_url, day, pageviews, affiliate_clicks, ad_revenue, rpm)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (page_url, day) DO UPDATE SET
				pageviews = excluded.pageviews,
				affiliate_clicks = excluded.affiliate_clicks,
				ad_revenue = excluded.ad_revenue,
				rpm = excluded.rpm
		`, pm.PageURL, pm.Day.UTC().Format(dayFormat), pm.Pageviews, pm.AffiliateClicks,
			pm.AdRevenue.String(), pm.RPM.String())
		if err != nil {
			return fmt.Errorf("failed to upsert page metrics for %s: %w", pm.PageURL, err)
		}
	}

	return tx.Commit()
}

// AggregatePageMetric aggregates one metric for one page over an
// inclusive-start/exclusive-end date range. Count-like metrics
// (pageviews, affiliate clicks, ad revenue) are summed; rpm, a rate, is
// averaged. Missing data aggregates to zero, which is an expected outcome
// rather than an error.
func (s *SQLiteStorage) AggregatePageMetric(ctx context.Context, pageURL string, metric types.MetricType, start, end time.Time) (decimal.Decimal, error) {
	if !metric.IsValid() {
		return decimal.Zero, fmt.Errorf("invalid metric type: %s", metric)
	}
	if pageURL == "" {
		// Site-wide change with no page to observe: nothing to aggregate.
		return decimal.Zero, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pageviews, affiliate_clicks, ad_revenue, rpm
		FROM page_metrics
		WHERE page_url = ? AND day >= ? AND day < ?
	`, pageURL, start.UTC().Format(dayFormat), end.UTC().Format(dayFormat))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query page metrics: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	days := 0
	for rows.Next() {
		var pageviews, clicks int64
		var adRevenue, rpm sql.NullString
		if err := rows.Scan(&pageviews, &clicks, &adRevenue, &rpm); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan page metrics: %w", err)
		}

		var v decimal.Decimal
		switch metric {
		case types.MetricPageviews:
			v = decimal.NewFromInt(pageviews)
		case types.MetricAffiliateClicks:
			v = decimal.NewFromInt(clicks)
		case types.MetricAdRevenue:
			if v, err = scanDecimal(adRevenue); err != nil {
				return decimal.Zero, err
			}
		case types.MetricRPM:
			if v, err = scanDecimal(rpm); err != nil {
				return decimal.Zero, err
			}
		}
		total = total.Add(v)
		days++
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to read page metrics: %w", err)
	}

	if metric.IsRate() && days > 0 {
		return total.Div(decimal.NewFromInt(int64(days))), nil
	}
	return total, nil
}
