package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	conversationx "github.com/tanpawarit/Chative-Task-Chat/agent/conversation"
	taskx "github.com/tanpawarit/Chative-Task-Chat/agent/task"
	toolx "github.com/tanpawarit/Chative-Task-Chat/agent/tool"
	databasex "github.com/tanpawarit/Chative-Task-Chat/pkg/database"
)

type fakeExecutor struct {
	mu     sync.Mutex
	calls  int
	params map[string]any
	result any
	err    error

	// onExecute runs after the tool "committed".
	onExecute func()
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, _ string, _ json.RawMessage) (map[string]any, any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onExecute != nil {
		f.onExecute()
	}
	return f.params, f.result, f.err
}

func (f *fakeExecutor) Specs() []contractx.ToolSpec {
	return []contractx.ToolSpec{{Name: "fake"}}
}

type fakeLedger struct {
	mu        sync.Mutex
	records   map[string]contractx.ToolCallRecord
	lookupErr error

	// honorCancel makes Record fail on a cancelled context like a real driver.
	honorCancel bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]contractx.ToolCallRecord)}
}

func (l *fakeLedger) Lookup(_ context.Context, conversationID string, invocationID string) (*contractx.ToolCallRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lookupErr != nil {
		return nil, l.lookupErr
	}
	rec, ok := l.records[conversationID+"/"+invocationID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *fakeLedger) Record(ctx context.Context, conversationID string, _ string, rec contractx.ToolCallRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.honorCancel && ctx.Err() != nil {
		return ctx.Err()
	}
	key := conversationID + "/" + rec.InvocationID
	if _, ok := l.records[key]; !ok {
		l.records[key] = rec
	}
	return nil
}

func invocation(id, tool, args string) contractx.Invocation {
	return contractx.Invocation{
		ID:             id,
		ConversationID: "conv-1",
		TurnID:         "turn-1",
		Tool:           tool,
		Arguments:      json.RawMessage(args),
	}
}

func TestDispatchReplaysRecordedOutcome(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{params: map[string]any{"title": "milk"}, result: map[string]int{"id": 1}}
	ledger := newFakeLedger()
	d, err := New(exec, ledger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	caller := contractx.Caller{UserID: "u1"}
	first := d.Dispatch(context.Background(), caller, invocation("inv_1", "add_task", `{"title":"milk"}`))
	second := d.Dispatch(context.Background(), caller, invocation("inv_1", "add_task", `{"title":"milk"}`))

	if exec.calls != 1 {
		t.Fatalf("executor called %d times, want 1", exec.calls)
	}
	if first.Replayed || !second.Replayed {
		t.Fatalf("unexpected replay flags: first=%v second=%v", first.Replayed, second.Replayed)
	}
	second.Replayed = false
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("replayed record differs (-first +second):\n%s", diff)
	}
	if first.Outcome.Result.(map[string]any)["id"] != float64(1) {
		t.Fatalf("result not normalized: %#v", first.Outcome.Result)
	}
}

func TestDispatchDeterministicErrorsAreRecorded(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		kind contractx.ErrorKind
	}{
		"invalid":   {fmt.Errorf("%w: title is required", contractx.ErrInvalidInput), contractx.KindInvalidInput},
		"not found": {fmt.Errorf("%w: task 9999", contractx.ErrNotFound), contractx.KindNotFoundOrDenied},
		"unknown":   {fmt.Errorf("%w: %q", contractx.ErrUnknownTool, "drop"), contractx.KindUnknownTool},
		"ambiguous": {&contractx.AmbiguousError{Query: "buy", Candidates: []contractx.TaskRef{{ID: 1}, {ID: 2}}}, contractx.KindAmbiguousMatch},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			exec := &fakeExecutor{params: map[string]any{}, err: tc.err}
			ledger := newFakeLedger()
			d, _ := New(exec, ledger)

			rec := d.Dispatch(context.Background(), contractx.Caller{UserID: "u1"}, invocation("inv_x", "t", `{}`))
			if rec.Outcome.OK() || rec.Outcome.Error == nil || rec.Outcome.Error.Kind != tc.kind {
				t.Fatalf("unexpected outcome: %+v", rec.Outcome)
			}
			if _, ok := ledger.records["conv-1/inv_x"]; !ok {
				t.Fatal("deterministic outcome must be recorded")
			}
			if tc.kind == contractx.KindAmbiguousMatch && len(rec.Outcome.Error.Candidates) != 2 {
				t.Fatalf("candidates missing: %+v", rec.Outcome.Error)
			}
		})
	}
}

func TestDispatchInternalErrorsAreNotRecorded(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{params: map[string]any{}, err: errors.New("pq: connection refused at 10.0.0.3")}
	ledger := newFakeLedger()
	d, _ := New(exec, ledger)

	rec := d.Dispatch(context.Background(), contractx.Caller{UserID: "u1"}, invocation("inv_y", "list_tasks", `{}`))
	if rec.Outcome.Error == nil || rec.Outcome.Error.Kind != contractx.KindInternalError {
		t.Fatalf("unexpected outcome: %+v", rec.Outcome)
	}
	if rec.Outcome.Error.Message != internalErrorMessage {
		t.Fatalf("internal details leaked: %q", rec.Outcome.Error.Message)
	}
	if len(ledger.records) != 0 {
		t.Fatal("internal errors must not be recorded")
	}

	exec.err = nil
	exec.result = map[string]any{"count": 0}
	retry := d.Dispatch(context.Background(), contractx.Caller{UserID: "u1"}, invocation("inv_y", "list_tasks", `{}`))
	if !retry.Outcome.OK() || exec.calls != 2 {
		t.Fatalf("retry must re-execute: outcome=%+v calls=%d", retry.Outcome, exec.calls)
	}
}

func TestDispatchRecordsAfterCallerCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &fakeExecutor{params: map[string]any{"title": "milk"}, result: map[string]any{"id": 1}, onExecute: cancel}
	ledger := newFakeLedger()
	ledger.honorCancel = true
	d, _ := New(exec, ledger)

	rec := d.Dispatch(ctx, contractx.Caller{UserID: "u1"}, invocation("inv_c", "add_task", `{"title":"milk"}`))
	if !rec.Outcome.OK() {
		t.Fatalf("unexpected outcome: %+v", rec.Outcome)
	}
	if _, ok := ledger.records["conv-1/inv_c"]; !ok {
		t.Fatal("outcome of a committed tool must be recorded after the caller cancels")
	}

	replayed := d.Dispatch(context.Background(), contractx.Caller{UserID: "u1"}, invocation("inv_c", "add_task", `{"title":"milk"}`))
	if !replayed.Replayed || exec.calls != 1 {
		t.Fatalf("retry must replay: replayed=%v calls=%d", replayed.Replayed, exec.calls)
	}
}

func TestDispatchLedgerOutageDoesNotExecute(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{params: map[string]any{}}
	ledger := newFakeLedger()
	ledger.lookupErr = errors.New("ledger down")
	d, _ := New(exec, ledger)

	rec := d.Dispatch(context.Background(), contractx.Caller{UserID: "u1"}, invocation("inv_z", "add_task", `{"title":"x"}`))
	if rec.Outcome.Error == nil || rec.Outcome.Error.Kind != contractx.KindInternalError {
		t.Fatalf("unexpected outcome: %+v", rec.Outcome)
	}
	if exec.calls != 0 {
		t.Fatal("executor must not run when the ledger is unreachable")
	}
}

func TestDispatchUsesCallerIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := databasex.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := taskx.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate tasks: %v", err)
	}
	store := conversationx.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate conversations: %v", err)
	}

	d, err := New(toolx.New(repo), conversationx.NewLedger(db))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := d.Dispatch(ctx, contractx.Caller{UserID: "alice"},
		invocation("inv_1", toolx.ToolAddTask, `{"title":"buy milk","user_id":"mallory"}`))
	if !rec.Outcome.OK() {
		t.Fatalf("unexpected outcome: %+v", rec.Outcome)
	}
	if _, ok := rec.Parameters["user_id"]; ok {
		t.Fatalf("parameters must not carry user_id: %#v", rec.Parameters)
	}

	mine, err := repo.ListByUser(ctx, "alice", contractx.TaskStatusAll)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	theirs, err := repo.ListByUser(ctx, "mallory", contractx.TaskStatusAll)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(mine) != 1 || len(theirs) != 0 {
		t.Fatalf("task stored for the wrong user: alice=%d mallory=%d", len(mine), len(theirs))
	}

	missing := d.Dispatch(ctx, contractx.Caller{UserID: "alice"},
		invocation("inv_2", toolx.ToolCompleteTask, `{"task_id":9999}`))
	if missing.Outcome.Error == nil || missing.Outcome.Error.Kind != contractx.KindNotFoundOrDenied {
		t.Fatalf("unexpected outcome: %+v", missing.Outcome)
	}

	replayed := d.Dispatch(ctx, contractx.Caller{UserID: "alice"},
		invocation("inv_1", toolx.ToolAddTask, `{"title":"buy milk"}`))
	if !replayed.Replayed {
		t.Fatal("expected replay from the SQL ledger")
	}
	replayed.Replayed = false
	if diff := cmp.Diff(rec, replayed); diff != "" {
		t.Fatalf("replayed record differs (-want +got):\n%s", diff)
	}
	mine, _ = repo.ListByUser(ctx, "alice", contractx.TaskStatusAll)
	if len(mine) != 1 {
		t.Fatalf("replay executed again: %d tasks", len(mine))
	}
}
