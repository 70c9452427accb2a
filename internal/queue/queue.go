// Package queue implements the action queue: a human-gated approval
// lifecycle over detected monetization opportunities and their actions.
// The queue holds no in-process state; every invariant is enforced by the
// injected transactional store, so construction is cheap and tests run
// against a fresh store each.
package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/revlift/revlift/internal/config"
	"github.com/revlift/revlift/internal/metrics"
	"github.com/revlift/revlift/internal/storage"
	"github.com/revlift/revlift/internal/types"
)

// Queue is the approval-lifecycle component
type Queue struct {
	store storage.Storage
	cfg   config.QueueConfig
	log   *zap.Logger
	m     *metrics.Metrics
}

// New creates a queue. log and m may be nil; they default to no-ops.
func New(store storage.Storage, cfg config.QueueConfig, log *zap.Logger, m *metrics.Metrics) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{store: store, cfg: cfg, log: log.Named("queue"), m: m}, nil
}

// CreateOpportunity creates an opportunity with all of its actions as one
// atomic unit, deduplicating against an existing pending opportunity for
// the same (pageUrl, opportunityType). Returns the id of the row that now
// represents the detection, whether freshly inserted or pre-existing.
func (q *Queue) CreateOpportunity(ctx context.Context, input *types.CreateOpportunityInput, actor string) (string, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	id, created, err := q.store.CreateOpportunity(ctx, input, actor)
	if err != nil {
		return "", err
	}

	if created {
		if q.m != nil {
			q.m.OpportunitiesCreated.Inc()
		}
		q.log.Info("opportunity created",
			zap.String("id", id),
			zap.String("type", input.OpportunityType),
			zap.String("page_url", input.PageURL),
			zap.Int("actions", len(input.Actions)))
	} else {
		if q.m != nil {
			q.m.DedupHits.Inc()
		}
		q.log.Debug("duplicate detection folded into existing opportunity",
			zap.String("id", id),
			zap.String("type", input.OpportunityType),
			zap.String("page_url", input.PageURL))
	}

	return id, nil
}

// GetOpportunity returns one opportunity with its actions, or nil
func (q *Queue) GetOpportunity(ctx context.Context, id string) (*types.Opportunity, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()
	return q.store.GetOpportunity(ctx, id)
}

// GetPendingOpportunities returns the review queue: non-expired pending
// opportunities, highest ranked first
func (q *Queue) GetPendingOpportunities(ctx context.Context, limit int) ([]*types.Opportunity, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()
	return q.store.GetPendingOpportunities(ctx, limit)
}

// GetImplementedOpportunities returns fully executed opportunities,
// newest first
func (q *Queue) GetImplementedOpportunities(ctx context.Context, limit int) ([]*types.Opportunity, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()
	return q.store.GetImplementedOpportunities(ctx, limit)
}

// ApproveOpportunity approves a pending opportunity, cascading to all of
// its actions in one transaction
func (q *Queue) ApproveOpportunity(ctx context.Context, id, approvedBy string) error {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	if err := q.store.ApproveOpportunity(ctx, id, approvedBy); err != nil {
		return err
	}
	if q.m != nil {
		q.m.Decisions.WithLabelValues("approved").Inc()
	}
	q.log.Info("opportunity approved", zap.String("id", id), zap.String("by", approvedBy))
	return nil
}

// RejectOpportunity rejects a pending opportunity, cascading to all of
// its actions in one transaction
func (q *Queue) RejectOpportunity(ctx context.Context, id, rejectedBy, reason string) error {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	if err := q.store.RejectOpportunity(ctx, id, rejectedBy, reason); err != nil {
		return err
	}
	if q.m != nil {
		q.m.Decisions.WithLabelValues("rejected").Inc()
	}
	q.log.Info("opportunity rejected",
		zap.String("id", id), zap.String("by", rejectedBy), zap.String("reason", reason))
	return nil
}

// GetApprovedActions is the executor poll surface: approved actions that
// have not yet been executed, with their parent summaries
func (q *Queue) GetApprovedActions(ctx context.Context) ([]*types.ApprovedAction, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()
	return q.store.GetApprovedActions(ctx)
}

// MarkActionExecuted records an executor completion callback. The fan-in
// check runs inside the store transaction; when the last sibling lands the
// parent opportunity is promoted to implemented. Returns immediately; it
// never waits on impact tracking.
func (q *Queue) MarkActionExecuted(ctx context.Context, id string, preMetrics, postMetrics []byte) error {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	promoted, err := q.store.MarkActionExecuted(ctx, id, preMetrics, postMetrics)
	if err != nil {
		return err
	}
	if q.m != nil {
		q.m.ActionsExecuted.Inc()
		if promoted {
			q.m.OpportunitiesPromoted.Inc()
		}
	}
	q.log.Info("action executed", zap.String("id", id), zap.Bool("opportunity_implemented", promoted))
	return nil
}

// ExpireOldOpportunities sweeps stale pending opportunities to expired.
// Safe to run on any schedule, any number of times.
func (q *Queue) ExpireOldOpportunities(ctx context.Context) (int, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	n, err := q.store.ExpireOldOpportunities(ctx, q.cfg.ExpireAfterDays)
	if err != nil {
		return 0, err
	}
	if q.m != nil {
		q.m.OpportunitiesExpired.Add(float64(n))
	}
	if n > 0 {
		q.log.Info("expired stale opportunities", zap.Int("count", n))
	}
	return n, nil
}

// GetQueueStats returns per-status counts and the summed revenue estimate
// over the pending backlog
func (q *Queue) GetQueueStats(ctx context.Context) (*types.QueueStats, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()
	return q.store.GetQueueStats(ctx)
}

// GetEvents returns an opportunity's audit trail, newest first
func (q *Queue) GetEvents(ctx context.Context, opportunityID string, limit int) ([]*types.Event, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()
	return q.store.GetEvents(ctx, opportunityID, limit)
}

func (q *Queue) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.cfg.OperationTimeout)
}
