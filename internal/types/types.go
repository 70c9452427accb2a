package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity represents a detected, unexecuted candidate for a
// monetization change. Opportunities are historical record: once created
// they are retired (expired/implemented), never deleted.
type Opportunity struct {
	ID                     string            `json:"id"`
	OpportunityType        string            `json:"opportunity_type"`
	Title                  string            `json:"title"`
	Description            string            `json:"description"`
	Status                 OpportunityStatus `json:"status"`
	Priority               int               `json:"priority"`
	Confidence             decimal.Decimal   `json:"confidence"`
	PageURL                string            `json:"page_url,omitempty"`
	ModID                  string            `json:"mod_id,omitempty"`
	Category               string            `json:"category,omitempty"`
	EstimatedRevenueImpact *decimal.Decimal  `json:"estimated_revenue_impact,omitempty"`
	EstimatedRPMIncrease   *decimal.Decimal  `json:"estimated_rpm_increase,omitempty"`
	ExpiresAt              *time.Time        `json:"expires_at,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
	ApprovedAt             *time.Time        `json:"approved_at,omitempty"`
	ApprovedBy             string            `json:"approved_by,omitempty"`
	RejectedAt             *time.Time        `json:"rejected_at,omitempty"`
	RejectedBy             string            `json:"rejected_by,omitempty"`
	RejectionReason        string            `json:"rejection_reason,omitempty"`
	ImplementedAt          *time.Time        `json:"implemented_at,omitempty"`
	Actions                []*Action         `json:"actions,omitempty"`
}

// OpportunityStatus represents the current state of an opportunity
type OpportunityStatus string

const (
	OpportunityPending     OpportunityStatus = "pending"
	OpportunityApproved    OpportunityStatus = "approved"
	OpportunityRejected    OpportunityStatus = "rejected"
	OpportunityImplemented OpportunityStatus = "implemented"
	OpportunityExpired     OpportunityStatus = "expired"
)

// IsValid checks if the status value is valid
func (s OpportunityStatus) IsValid() bool {
	switch s {
	case OpportunityPending, OpportunityApproved, OpportunityRejected,
		OpportunityImplemented, OpportunityExpired:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a retired state
func (s OpportunityStatus) IsTerminal() bool {
	switch s {
	case OpportunityRejected, OpportunityImplemented, OpportunityExpired:
		return true
	}
	return false
}

// ValidTransitions defines the opportunity state machine. Transitions are
// monotonic: once an opportunity leaves pending it never returns.
//
//	pending → approved → implemented
//	pending → rejected
//	pending → expired
func (s OpportunityStatus) ValidTransitions() []OpportunityStatus {
	switch s {
	case OpportunityPending:
		return []OpportunityStatus{OpportunityApproved, OpportunityRejected, OpportunityExpired}
	case OpportunityApproved:
		return []OpportunityStatus{OpportunityImplemented}
	default:
		return []OpportunityStatus{} // Terminal states
	}
}

// CanTransitionTo checks if a transition from this status to the target is valid
func (s OpportunityStatus) CanTransitionTo(target OpportunityStatus) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// Action is one concrete, executable step belonging to an opportunity.
// An opportunity owns 1..N actions; an action belongs to exactly one
// opportunity. ActionData is an opaque payload the core never interprets;
// its schema is a private contract between a detector and its executor.
type Action struct {
	ID                   string           `json:"id"`
	OpportunityID        string           `json:"opportunity_id"`
	ActionType           string           `json:"action_type"`
	ActionData           json.RawMessage  `json:"action_data,omitempty"`
	Status               ActionStatus     `json:"status"`
	ApprovedAt           *time.Time       `json:"approved_at,omitempty"`
	ApprovedBy           string           `json:"approved_by,omitempty"`
	RejectedAt           *time.Time       `json:"rejected_at,omitempty"`
	RejectedBy           string           `json:"rejected_by,omitempty"`
	ExecutedAt           *time.Time       `json:"executed_at,omitempty"`
	PreExecutionMetrics  json.RawMessage  `json:"pre_execution_metrics,omitempty"`
	PostExecutionMetrics json.RawMessage  `json:"post_execution_metrics,omitempty"`
	VerifiedImpact       *decimal.Decimal `json:"verified_impact,omitempty"`
	VerifiedAt           *time.Time       `json:"verified_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// ActionStatus mirrors the parent opportunity's approval decision plus an
// independent executed terminal state
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionApproved ActionStatus = "approved"
	ActionRejected ActionStatus = "rejected"
	ActionExecuted ActionStatus = "executed"
)

// IsValid checks if the status value is valid
func (s ActionStatus) IsValid() bool {
	switch s {
	case ActionPending, ActionApproved, ActionRejected, ActionExecuted:
		return true
	}
	return false
}

// ApprovedAction is an approved, not-yet-executed action together with a
// summary of its parent opportunity. This is the executor poll surface.
type ApprovedAction struct {
	Action
	OpportunityType  string `json:"opportunity_type"`
	OpportunityTitle string `json:"opportunity_title"`
	PageURL          string `json:"page_url,omitempty"`
	Priority         int    `json:"priority"`
}

// MetricType identifies which per-page daily metric a measurement observes
type MetricType string

const (
	MetricPageviews       MetricType = "pageviews"
	MetricAffiliateClicks MetricType = "affiliate_clicks"
	MetricRPM             MetricType = "rpm"
	MetricAdRevenue       MetricType = "ad_revenue"
)

// IsValid checks if the metric type value is valid
func (m MetricType) IsValid() bool {
	switch m {
	case MetricPageviews, MetricAffiliateClicks, MetricRPM, MetricAdRevenue:
		return true
	}
	return false
}

// IsRate reports whether the metric is a rate, aggregated by averaging
// over observed days rather than summing
func (m MetricType) IsRate() bool {
	return m == MetricRPM
}

// MeasurementStatus represents the measurement lifecycle state.
// pending → {complete, inconclusive}; both are terminal and never reopen.
type MeasurementStatus string

const (
	MeasurementPending      MeasurementStatus = "pending"
	MeasurementComplete     MeasurementStatus = "complete"
	MeasurementInconclusive MeasurementStatus = "inconclusive"
)

// IsValid checks if the status value is valid
func (s MeasurementStatus) IsValid() bool {
	switch s {
	case MeasurementPending, MeasurementComplete, MeasurementInconclusive:
		return true
	}
	return false
}

// Measurement tracks the real before/after metric delta for one executed
// action against the original prediction. Baseline and measurement windows
// never overlap: BaselineEnd <= executedAt <= StartDate.
type Measurement struct {
	ID                    string            `json:"id"`
	ActionID              string            `json:"action_id"`
	PageURL               string            `json:"page_url,omitempty"`
	Metric                MetricType        `json:"metric"`
	WindowDays            int               `json:"window_days"`
	StartDate             time.Time         `json:"start_date"`
	EndDate               time.Time         `json:"end_date"`
	BaselineValue         decimal.Decimal   `json:"baseline_value"`
	BaselineStart         time.Time         `json:"baseline_start"`
	BaselineEnd           time.Time         `json:"baseline_end"`
	MeasuredValue         decimal.Decimal   `json:"measured_value"`
	AbsoluteImpact        decimal.Decimal   `json:"absolute_impact"`
	PercentImpact         decimal.Decimal   `json:"percent_impact"`
	EstimatedImpact       decimal.Decimal   `json:"estimated_impact"`
	RevenueImpact         decimal.Decimal   `json:"revenue_impact"`
	PredictionError       decimal.Decimal   `json:"prediction_error"`
	PredictionAccuracy    decimal.Decimal   `json:"prediction_accuracy"`
	AttributionConfidence decimal.Decimal   `json:"attribution_confidence"`
	Status                MeasurementStatus `json:"status"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
	AttributionNotes      string            `json:"attribution_notes,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

// PageMetrics is one page's aggregate for one day, supplied by an external
// connector. The core only reads these rows.
type PageMetrics struct {
	PageURL         string          `json:"page_url"`
	Day             time.Time       `json:"day"`
	Pageviews       int64           `json:"pageviews"`
	AffiliateClicks int64           `json:"affiliate_clicks"`
	AdRevenue       decimal.Decimal `json:"ad_revenue"`
	RPM             decimal.Decimal `json:"rpm"`
}

// CreateOpportunityInput is the detector-facing payload for creating an
// opportunity together with all of its actions
type CreateOpportunityInput struct {
	OpportunityType        string           `json:"opportunity_type"`
	Title                  string           `json:"title"`
	Description            string           `json:"description"`
	Priority               int              `json:"priority"`
	Confidence             decimal.Decimal  `json:"confidence"`
	PageURL                string           `json:"page_url,omitempty"`
	ModID                  string           `json:"mod_id,omitempty"`
	Category               string           `json:"category,omitempty"`
	EstimatedRevenueImpact *decimal.Decimal `json:"estimated_revenue_impact,omitempty"`
	EstimatedRPMIncrease   *decimal.Decimal `json:"estimated_rpm_increase,omitempty"`
	ExpiresAt              *time.Time       `json:"expires_at,omitempty"`
	Actions                []ActionInput    `json:"actions"`
}

// ActionInput is one action within a create request
type ActionInput struct {
	ActionType string          `json:"action_type"`
	ActionData json.RawMessage `json:"action_data,omitempty"`
}

// Validate checks the create input. A failed validation rejects the whole
// create; nothing is persisted.
func (in *CreateOpportunityInput) Validate() error {
	if in.OpportunityType == "" {
		return fmt.Errorf("opportunity_type is required")
	}
	if len(in.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(in.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(in.Title))
	}
	// Priority 0 means "not set"; the queue substitutes the default (5).
	if in.Priority < 0 || in.Priority > 10 {
		return fmt.Errorf("priority must be between 1 and 10 (got %d)", in.Priority)
	}
	if in.Confidence.IsNegative() || in.Confidence.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("confidence must be between 0 and 1 (got %s)", in.Confidence)
	}
	if len(in.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	for i, a := range in.Actions {
		if a.ActionType == "" {
			return fmt.Errorf("actions[%d]: action_type is required", i)
		}
		if len(a.ActionData) > 0 && !json.Valid(a.ActionData) {
			return fmt.Errorf("actions[%d]: action_data must be valid JSON", i)
		}
	}
	return nil
}

// QueueStats provides aggregate counts over the queue plus the summed
// revenue estimate of everything still awaiting review
type QueueStats struct {
	Pending                 int             `json:"pending"`
	Approved                int             `json:"approved"`
	Rejected                int             `json:"rejected"`
	Implemented             int             `json:"implemented"`
	Expired                 int             `json:"expired"`
	PendingEstimatedRevenue decimal.Decimal `json:"pending_estimated_revenue"`
}

// Total returns the total number of opportunities across all statuses
func (s *QueueStats) Total() int {
	return s.Pending + s.Approved + s.Rejected + s.Implemented + s.Expired
}

// ImpactSummary aggregates finalized measurements for dashboards.
// An empty store yields a zero-valued summary, not an error.
type ImpactSummary struct {
	TotalMeasurements  int             `json:"total_measurements"`
	Pending            int             `json:"pending"`
	Complete           int             `json:"complete"`
	Inconclusive       int             `json:"inconclusive"`
	TotalRevenueImpact decimal.Decimal `json:"total_revenue_impact"`
	AverageAccuracy    decimal.Decimal `json:"average_accuracy"`
}

// Event represents an audit trail entry for an opportunity
type Event struct {
	ID            int64     `json:"id"`
	OpportunityID string    `json:"opportunity_id"`
	EventType     EventType `json:"event_type"`
	Actor         string    `json:"actor"`
	OldValue      *string   `json:"old_value,omitempty"`
	NewValue      *string   `json:"new_value,omitempty"`
	Comment       *string   `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// EventType categorizes audit trail events
type EventType string

const (
	EventCreated     EventType = "created"
	EventUpdated     EventType = "updated"
	EventApproved    EventType = "approved"
	EventRejected    EventType = "rejected"
	EventExecuted    EventType = "executed"
	EventImplemented EventType = "implemented"
	EventExpired     EventType = "expired"
	EventTracked     EventType = "measurement_started"
	EventMeasured    EventType = "measurement_finalized"
)
