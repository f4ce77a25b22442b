package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	databasex "github.com/tanpawarit/Chative-Task-Chat/pkg/database"
)

func newTestStore(t *testing.T) (*Store, *Ledger) {
	t.Helper()
	ctx := context.Background()
	db, err := databasex.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store, NewLedger(db)
}

func TestStoreGetOrCreateOwnership(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestStore(t)

	conv, err := store.GetOrCreate(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if conv.ID == "" || conv.UserID != "u1" || conv.Version != 0 {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	again, err := store.GetOrCreate(ctx, "u1", conv.ID)
	if err != nil {
		t.Fatalf("GetOrCreate existing failed: %v", err)
	}
	if again.ID != conv.ID {
		t.Fatalf("got conversation %s, want %s", again.ID, conv.ID)
	}

	for name, id := range map[string]string{
		"foreign":   conv.ID,
		"missing":   "2b0c8a57-4c39-4a57-9f39-1f8c4a1c2d3e",
		"malformed": "not-a-uuid",
	} {
		_, err := store.GetOrCreate(ctx, "u2", id)
		if !errors.Is(err, ErrConversationNotFound) {
			t.Fatalf("%s: expected ErrConversationNotFound, got %v", name, err)
		}
		if !errors.Is(err, contractx.ErrAccessDenied) {
			t.Fatalf("%s: expected ErrAccessDenied in chain, got %v", name, err)
		}
	}
}

func TestStoreAppendRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestStore(t)

	conv, err := store.GetOrCreate(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	user, err := store.Append(ctx, conv.ID, conv.Version, contractx.Message{
		Role:    contractx.RoleUser,
		Content: "add buy milk",
	})
	if err != nil {
		t.Fatalf("Append user failed: %v", err)
	}
	if user.Seq != 1 || user.ID == "" {
		t.Fatalf("unexpected user message: %+v", user)
	}

	calls := []contractx.ToolCallRecord{{
		InvocationID: "inv_1",
		Tool:         "add_task",
		Parameters:   map[string]any{"title": "buy milk"},
		Outcome: contractx.Outcome{
			Status: contractx.OutcomeSuccess,
			Result: map[string]any{"task": map[string]any{"id": float64(1), "title": "buy milk"}},
		},
	}, {
		InvocationID: "inv_2",
		Tool:         "complete_task",
		Parameters:   map[string]any{"task_id": float64(9999)},
		Outcome: contractx.Outcome{
			Status: contractx.OutcomeError,
			Error:  &contractx.ToolError{Kind: contractx.KindNotFoundOrDenied, Message: "task not found"},
		},
	}}
	assistant, err := store.Append(ctx, conv.ID, user.Seq, contractx.Message{
		Role:      contractx.RoleAssistant,
		Content:   "Added buy milk.",
		ToolCalls: calls,
	})
	if err != nil {
		t.Fatalf("Append assistant failed: %v", err)
	}
	if assistant.Seq != 2 {
		t.Fatalf("assistant seq = %d, want 2", assistant.Seq)
	}
	if !assistant.CreatedAt.After(user.CreatedAt) {
		t.Fatalf("created_at not increasing: %v then %v", user.CreatedAt, assistant.CreatedAt)
	}

	history, err := store.History(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	want := []contractx.Message{user, assistant}
	if diff := cmp.Diff(want, history); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	reloaded, err := store.Get(ctx, "u1", conv.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if reloaded.Version != 2 || !reloaded.UpdatedAt.Equal(assistant.CreatedAt) {
		t.Fatalf("unexpected conversation after appends: %+v", reloaded)
	}
}

func TestStoreAppendVersionConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestStore(t)

	conv, err := store.GetOrCreate(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	msg := contractx.Message{Role: contractx.RoleUser, Content: "hi"}

	if _, err := store.Append(ctx, conv.ID, 0, msg); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	_, err = store.Append(ctx, conv.ID, 0, msg)
	if !errors.Is(err, contractx.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	unchecked, err := store.Append(ctx, conv.ID, -1, msg)
	if err != nil {
		t.Fatalf("unchecked Append failed: %v", err)
	}
	if unchecked.Seq != 2 {
		t.Fatalf("unchecked seq = %d, want 2", unchecked.Seq)
	}

	history, err := store.History(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("conflicting append must not be stored, got %d messages", len(history))
	}
}

func TestStoreAppendClockSkew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestStore(t)
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return frozen }

	conv, err := store.GetOrCreate(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	var prev time.Time
	for i := 0; i < 3; i++ {
		msg, err := store.Append(ctx, conv.ID, -1, contractx.Message{Role: contractx.RoleUser, Content: fmt.Sprint(i)})
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if !msg.CreatedAt.After(prev) {
			t.Fatalf("message %d created_at %v not after %v", i, msg.CreatedAt, prev)
		}
		prev = msg.CreatedAt
	}
}

func TestStoreHistoryLimitAndValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestStore(t)

	conv, err := store.GetOrCreate(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, conv.ID, -1, contractx.Message{Role: contractx.RoleUser, Content: fmt.Sprint(i)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	history, err := store.History(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].Content != "3" || history[1].Content != "4" {
		t.Fatalf("unexpected tail: %+v", history)
	}

	_, err = store.Append(ctx, conv.ID, -1, contractx.Message{Role: "system", Content: "x"})
	if !errors.Is(err, contractx.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad role, got %v", err)
	}
	_, err = store.Append(ctx, "2b0c8a57-4c39-4a57-9f39-1f8c4a1c2d3e", -1, contractx.Message{Role: contractx.RoleUser, Content: "x"})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestLedgerFirstRecordWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, ledger := newTestStore(t)

	got, err := ledger.Lookup(ctx, "c1", "inv_a")
	if err != nil || got != nil {
		t.Fatalf("Lookup on empty ledger = %+v, %v", got, err)
	}

	first := contractx.ToolCallRecord{
		InvocationID: "inv_a",
		Tool:         "add_task",
		Parameters:   map[string]any{"title": "buy milk"},
		Outcome:      contractx.Outcome{Status: contractx.OutcomeSuccess, Result: map[string]any{"id": float64(1)}},
	}
	if err := ledger.Record(ctx, "c1", "turn-1", first); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	second := first
	second.Outcome = contractx.Outcome{Status: contractx.OutcomeSuccess, Result: map[string]any{"id": float64(2)}}
	if err := ledger.Record(ctx, "c1", "turn-1", second); err != nil {
		t.Fatalf("duplicate Record failed: %v", err)
	}

	got, err = ledger.Lookup(ctx, "c1", "inv_a")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if diff := cmp.Diff(&first, got); diff != "" {
		t.Fatalf("ledger record mismatch (-want +got):\n%s", diff)
	}

	other, err := ledger.Lookup(ctx, "c2", "inv_a")
	if err != nil || other != nil {
		t.Fatalf("ledger must be scoped by conversation, got %+v, %v", other, err)
	}
}
