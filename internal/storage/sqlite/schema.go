package sqlite

const schema = `
-- Opportunities table
CREATE TABLE IF NOT EXISTS opportunities (
    id TEXT PRIMARY KEY,
    opportunity_type TEXT NOT NULL,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'approved', 'rejected', 'implemented', 'expired')),
    priority INTEGER NOT NULL DEFAULT 5 CHECK(priority >= 1 AND priority <= 10),
    confidence TEXT NOT NULL DEFAULT '0',
    page_url TEXT,
    mod_id TEXT,
    category TEXT,
    estimated_revenue_impact TEXT,
    estimated_rpm_increase TEXT,
    expires_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    approved_at DATETIME,
    approved_by TEXT,
    rejected_at DATETIME,
    rejected_by TEXT,
    rejection_reason TEXT,
    implemented_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);
CREATE INDEX IF NOT EXISTS idx_opportunities_page_type ON opportunities(page_url, opportunity_type, status);
CREATE INDEX IF NOT EXISTS idx_opportunities_created_at ON opportunities(created_at);
CREATE INDEX IF NOT EXISTS idx_opportunities_expires_at ON opportunities(expires_at);

-- Actions table
CREATE TABLE IF NOT EXISTS actions (
    id TEXT PRIMARY KEY,
    opportunity_id TEXT NOT NULL,
    action_type TEXT NOT NULL,
    action_data TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'approved', 'rejected', 'executed')),
    approved_at DATETIME,
    approved_by TEXT,
    rejected_at DATETIME,
    rejected_by TEXT,
    executed_at DATETIME,
    pre_execution_metrics TEXT,
    post_execution_metrics TEXT,
    verified_impact TEXT,
    verified_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (opportunity_id) REFERENCES opportunities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_actions_opportunity ON actions(opportunity_id);
CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);

-- Impact measurements table
CREATE TABLE IF NOT EXISTS measurements (
    id TEXT PRIMARY KEY,
    action_id TEXT NOT NULL,
    page_url TEXT NOT NULL DEFAULT '',
    metric TEXT NOT NULL CHECK(metric IN ('pageviews', 'affiliate_clicks', 'rpm', 'ad_revenue')),
    window_days INTEGER NOT NULL,
    start_date DATETIME NOT NULL,
    end_date DATETIME NOT NULL,
    baseline_value TEXT NOT NULL DEFAULT '0',
    baseline_start DATETIME NOT NULL,
    baseline_end DATETIME NOT NULL,
    measured_value TEXT,
    absolute_impact TEXT,
    percent_impact TEXT,
    estimated_impact TEXT NOT NULL DEFAULT '0',
    revenue_impact TEXT,
    prediction_error TEXT,
    prediction_accuracy TEXT,
    attribution_confidence TEXT NOT NULL DEFAULT '0.7',
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'complete', 'inconclusive')),
    completed_at DATETIME,
    attribution_notes TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (action_id) REFERENCES actions(id) ON DELETE CASCADE
);

-- One active measurement per tracked action
CREATE UNIQUE INDEX IF NOT EXISTS idx_measurements_action_pending
    ON measurements(action_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_measurements_status ON measurements(status);
CREATE INDEX IF NOT EXISTS idx_measurements_end_date ON measurements(end_date);

-- Per-page daily metrics, written by the external sync connector.
-- day is stored as 'YYYY-MM-DD'.
CREATE TABLE IF NOT EXISTS page_metrics (
    page_url TEXT NOT NULL,
    day TEXT NOT NULL,
    pageviews INTEGER NOT NULL DEFAULT 0,
    affiliate_clicks INTEGER NOT NULL DEFAULT 0,
    ad_revenue TEXT NOT NULL DEFAULT '0',
    rpm TEXT NOT NULL DEFAULT '0',
    PRIMARY KEY (page_url, day)
);

CREATE INDEX IF NOT EXISTS idx_page_metrics_day ON page_metrics(day);

-- Events table (audit trail)
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    opportunity_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    comment TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (opportunity_id) REFERENCES opportunities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_opportunity ON events(opportunity_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
`
