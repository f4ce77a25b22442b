package contract

import "context"

type ConversationStore interface {
	GetOrCreate(ctx context.Context, userID string, conversationID string) (*Conversation, error)
	History(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Append(ctx context.Context, conversationID string, expectedVersion int64, msg Message) (Message, error)
}

// Ledger remembers executed invocations by idempotency key.
type Ledger interface {
	Lookup(ctx context.Context, conversationID string, invocationID string) (*ToolCallRecord, error)
	Record(ctx context.Context, conversationID string, turnID string, rec ToolCallRecord) error
}

type TaskRepository interface {
	Create(ctx context.Context, userID string, title string, description *string) (*Task, error)
	ListByUser(ctx context.Context, userID string, status TaskStatus) ([]Task, error)
	MarkComplete(ctx context.Context, userID string, taskID int64) (*Task, bool, error)
	Delete(ctx context.Context, userID string, taskID int64) (*Task, error)
	Update(ctx context.Context, userID string, taskID int64, patch TaskPatch) (*Task, error)
	FindByTitle(ctx context.Context, userID string, fragment string) ([]Task, error)
}

type ModelGateway interface {
	Converse(ctx context.Context, req ConverseRequest) (ConverseResponse, error)
}

type ToolDispatcher interface {
	Dispatch(ctx context.Context, caller Caller, inv Invocation) ToolCallRecord
	Specs() []ToolSpec
}
