package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/revlift/revlift/internal/types"
)

func TestDecisionCascadesToActions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	input := testInput(t, "add_affiliate_link", "")
	input.Actions = []types.ActionInput{
		{ActionType: "add_affiliate_link"},
		{ActionType: "update_affiliate_link"},
	}
	opp := mustCreate(t, db, input)

	if err := db.ApproveOpportunity(ctx, opp.ID, "reviewer"); err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}

	updated, err := db.GetOpportunity(ctx, opp.ID)
	if err != nil {
		t.Fatalf("Failed to get opportunity: %v", err)
	}
	for _, a := range updated.Actions {
		if a.Status != types.ActionApproved {
			t.Errorf("Action %s not cascaded: got %s", a.ID, a.Status)
		}
		if a.ApprovedBy != "reviewer" {
			t.Errorf("Action %s ApprovedBy mismatch: got %s", a.ID, a.ApprovedBy)
		}
		if a.ApprovedAt == nil {
			t.Errorf("Action %s missing ApprovedAt", a.ID)
		}
	}

	// Rejection cascades the same way.
	r := mustCreate(t, db, testInput(t, "add_ad_placement", ""))
	if err := db.RejectOpportunity(ctx, r.ID, "reviewer", "no"); err != nil {
		t.Fatalf("Failed to reject: %v", err)
	}
	updated, err = db.GetOpportunity(ctx, r.ID)
	if err != nil {
		t.Fatalf("Failed to get opportunity: %v", err)
	}
	for _, a := range updated.Actions {
		if a.Status != types.ActionRejected {
			t.Errorf("Action %s not cascaded: got %s", a.ID, a.Status)
		}
	}
}

func TestGetApprovedActions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	low := testInput(t, "update_content", "https://example.com/guide")
	low.Priority = 2
	lowOpp := mustCreate(t, db, low)

	high := testInput(t, "add_affiliate_link", "https://example.com/review")
	high.Priority = 9
	highOpp := mustCreate(t, db, high)

	// Pending actions never appear on the poll surface.
	actions, err := db.GetApprovedActions(ctx)
	if err != nil {
		t.Fatalf("Failed to get approved actions: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("Expected no approved actions, got %d", len(actions))
	}

	if err := db.ApproveOpportunity(ctx, lowOpp.ID, "reviewer"); err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}
	if err := db.ApproveOpportunity(ctx, highOpp.ID, "reviewer"); err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}

	actions, err = db.GetApprovedActions(ctx)
	if err != nil {
		t.Fatalf("Failed to get approved actions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("Expected 2 approved actions, got %d", len(actions))
	}
	// Highest parent priority first.
	if actions[0].OpportunityID != highOpp.ID {
		t.Errorf("Expected %s first, got %s", highOpp.ID, actions[0].OpportunityID)
	}
	if actions[0].OpportunityTitle != "Test opportunity" || actions[0].Priority != 9 {
		t.Errorf("Parent summary mismatch: %+v", actions[0])
	}
	if actions[0].PageURL != "https://example.com/review" {
		t.Errorf("PageURL mismatch: got %s", actions[0].PageURL)
	}

	// Executed actions drop off the surface.
	if _, err := db.MarkActionExecuted(ctx, actions[0].ID, nil, nil); err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	actions, err = db.GetApprovedActions(ctx)
	if err != nil {
		t.Fatalf("Failed to get approved actions: %v", err)
	}
	if len(actions) != 1 || actions[0].OpportunityID != lowOpp.ID {
		t.Errorf("Expected only the unexecuted action, got %v", actions)
	}
}

func TestMarkActionExecutedGuards(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	opp := mustCreate(t, db, testInput(t, "add_affiliate_link", ""))
	actionID := opp.Actions[0].ID

	if _, err := db.MarkActionExecuted(ctx, "no-such-id", nil, nil); err == nil {
		t.Error("Expected error for missing action")
	}

	// A pending action cannot be executed.
	if _, err := db.MarkActionExecuted(ctx, actionID, nil, nil); err == nil {
		t.Error("Expected error executing a pending action")
	}

	if err := db.ApproveOpportunity(ctx, opp.ID, "reviewer"); err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}

	// Snapshots must be valid JSON.
	if _, err := db.MarkActionExecuted(ctx, actionID, []byte("{oops"), nil); err == nil {
		t.Error("Expected error for invalid pre-execution JSON")
	}

	promoted, err := db.MarkActionExecuted(ctx, actionID, []byte(`{"rpm":"4.2"}`), []byte(`{"rpm":"5.0"}`))
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if !promoted {
		t.Error("Expected promotion after the only action executed")
	}

	action, err := db.GetAction(ctx, actionID)
	if err != nil {
		t.Fatalf("Failed to get action: %v", err)
	}
	if action.Status != types.ActionExecuted {
		t.Errorf("Status mismatch: got %s, want executed", action.Status)
	}
	if action.ExecutedAt == nil {
		t.Error("Expected ExecutedAt to be set")
	}
	if string(action.PreExecutionMetrics) != `{"rpm":"4.2"}` {
		t.Errorf("Pre metrics mismatch: got %s", action.PreExecutionMetrics)
	}
	if string(action.PostExecutionMetrics) != `{"rpm":"5.0"}` {
		t.Errorf("Post metrics mismatch: got %s", action.PostExecutionMetrics)
	}

	// Executed is terminal.
	if _, err := db.MarkActionExecuted(ctx, actionID, nil, nil); err == nil {
		t.Error("Expected error re-executing an executed action")
	}
}

func TestFanInPromotion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	input := testInput(t, "add_affiliate_link", "")
	input.Actions = []types.ActionInput{
		{ActionType: "add_affiliate_link"},
		{ActionType: "update_affiliate_link"},
		{ActionType: "update_content"},
	}
	opp := mustCreate(t, db, input)
	if err := db.ApproveOpportunity(ctx, opp.ID, "reviewer"); err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}

	// Executing all but the last action never promotes.
	for i, a := range opp.Actions[:len(opp.Actions)-1] {
		promoted, err := db.MarkActionExecuted(ctx, a.ID, nil, nil)
		if err != nil {
			t.Fatalf("Failed to execute action %d: %v", i, err)
		}
		if promoted {
			t.Errorf("Action %d promoted with siblings remaining", i)
		}
		current, err := db.GetOpportunity(ctx, opp.ID)
		if err != nil {
			t.Fatalf("Failed to get opportunity: %v", err)
		}
		if current.Status != types.OpportunityApproved {
			t.Errorf("After action %d: got %s, want approved", i, current.Status)
		}
	}

	last := opp.Actions[len(opp.Actions)-1]
	promoted, err := db.MarkActionExecuted(ctx, last.ID, nil, nil)
	if err != nil {
		t.Fatalf("Failed to execute last action: %v", err)
	}
	if !promoted {
		t.Error("Expected promotion on the last execution")
	}

	final, err := db.GetOpportunity(ctx, opp.ID)
	if err != nil {
		t.Fatalf("Failed to get opportunity: %v", err)
	}
	if final.Status != types.OpportunityImplemented {
		t.Errorf("Status mismatch: got %s, want implemented", final.Status)
	}
	if final.ImplementedAt == nil {
		t.Error("Expected ImplementedAt to be set")
	}

	// Exactly one implemented event regardless of execution count.
	events, err := db.GetEvents(ctx, opp.ID, 0)
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	implEvents := 0
	for _, e := range events {
		if e.EventType == types.EventImplemented {
			implEvents++
		}
	}
	if implEvents != 1 {
		t.Errorf("Expected exactly 1 implemented event, got %d", implEvents)
	}
}

// TestFanInPromotionOrderIndependent verifies that promotion fires on
// whichever action happens to execute last, for every execution order.
func TestFanInPromotionOrderIndependent(t *testing.T) {
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, order := range orders {
		t.Run(fmt.Sprintf("%v", order), func(t *testing.T) {
			db := setupTestDB(t)
			ctx := context.Background()

			input := testInput(t, "add_ad_placement", "")
			input.Actions = []types.ActionInput{
				{ActionType: "add_ad_placement"},
				{ActionType: "move_ad_placement"},
				{ActionType: "update_content"},
			}
			opp := mustCreate(t, db, input)
			if err := db.ApproveOpportunity(ctx, opp.ID, "reviewer"); err != nil {
				t.Fatalf("Failed to approve: %v", err)
			}

			for step, idx := range order {
				promoted, err := db.MarkActionExecuted(ctx, opp.Actions[idx].ID, nil, nil)
				if err != nil {
					t.Fatalf("Failed to execute action %d: %v", idx, err)
				}
				wantPromoted := step == len(order)-1
				if promoted != wantPromoted {
					t.Errorf("Step %d: promoted=%v, want %v", step, promoted, wantPromoted)
				}
			}

			final, err := db.GetOpportunity(ctx, opp.ID)
			if err != nil {
				t.Fatalf("Failed to get opportunity: %v", err)
			}
			if final.Status != types.OpportunityImplemented {
				t.Errorf("Status mismatch: got %s, want implemented", final.Status)
			}
		})
	}
}

func TestGetUntrackedExecutedActions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	opp := mustCreate(t, db, testInput(t, "add_affiliate_link", "https://example.com/page"))
	actionID := opp.Actions[0].ID

	// Unexecuted actions are not untracked.
	ids, err := db.GetUntrackedExecutedActions(ctx)
	if err != nil {
		t.Fatalf("Failed to get untracked: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("Expected no untracked actions, got %v", ids)
	}

	executeAction(t, db, opp, actionID)

	ids, err = db.GetUntrackedExecutedActions(ctx)
	if err != nil {
		t.Fatalf("Failed to get untracked: %v", err)
	}
	if len(ids) != 1 || ids[0] != actionID {
		t.Fatalf("Expected [%s], got %v", actionID, ids)
	}

	// Starting a measurement removes the action from the backlog.
	m := newTestMeasurement(t, actionID, "https://example.com/page")
	if err := db.CreateMeasurement(ctx, m); err != nil {
		t.Fatalf("Failed to create measurement: %v", err)
	}
	ids, err = db.GetUntrackedExecutedActions(ctx)
	if err != nil {
		t.Fatalf("Failed to get untracked: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no untracked actions after tracking, got %v", ids)
	}
}
