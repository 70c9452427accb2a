package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/revlift/revlift/internal/types"
)

// setupTestDB creates a temporary test database
func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	// Create temp file
	tmpfile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	_ = tmpfile.Close()

	// Create storage
	storage, err := New(tmpfile.Name(), 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	// Cleanup function
	t.Cleanup(func() {
		_ = storage.Close()
		_ = os.Remove(tmpfile.Name())
	})

	return storage
}

// dec parses a decimal literal, failing the test on a typo
func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("Invalid decimal literal %q: %v", s, err)
	}
	return d
}

// decPtr is dec for optional fields
func decPtr(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d := dec(t, s)
	return &d
}

// testInput builds a minimal valid create input with one action
func testInput(t *testing.T, oppType, pageURL string) *types.CreateOpportunityInput {
	t.Helper()
	return &types.CreateOpportunityInput{
		OpportunityType: oppType,
		Title:           "Test opportunity",
		Description:     "Test description",
		Priority:        5,
		Confidence:      dec(t, "0.8"),
		PageURL:         pageURL,
		Actions: []types.ActionInput{
			{ActionType: oppType},
		},
	}
}

// mustCreate creates an opportunity and returns the full row with actions
func mustCreate(t *testing.T, db *SQLiteStorage, input *types.CreateOpportunityInput) *types.Opportunity {
	t.Helper()
	ctx := context.Background()

	id, created, err := db.CreateOpportunity(ctx, input, "test-actor")
	if err != nil {
		t.Fatalf("Failed to create opportunity: %v", err)
	}
	if !created {
		t.Fatalf("Expected a new opportunity, got duplicate %s", id)
	}

	opp, err := db.GetOpportunity(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get opportunity: %v", err)
	}
	if opp == nil {
		t.Fatalf("Opportunity %s not found after create", id)
	}
	return opp
}

// executeAction approves the parent and marks the action executed
func executeAction(t *testing.T, db *SQLiteStorage, opp *types.Opportunity, actionID string) bool {
	t.Helper()
	ctx := context.Background()

	if opp.Status == types.OpportunityPending {
		if err := db.ApproveOpportunity(ctx, opp.ID, "test-approver"); err != nil {
			t.Fatalf("Failed to approve opportunity: %v", err)
		}
	}
	promoted, err := db.MarkActionExecuted(ctx, actionID, nil, nil)
	if err != nil {
		t.Fatalf("Failed to mark action executed: %v", err)
	}
	return promoted
}
