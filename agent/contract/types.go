package contract

import (
	"encoding/json"
	"time"
)

// Phase names a step of the per-turn state machine.
type Phase string

const (
	PhaseValidating             Phase = "VALIDATING"
	PhaseLoadingHistory         Phase = "LOADING_HISTORY"
	PhaseAwaitingModel          Phase = "AWAITING_MODEL"
	PhaseExecutingTools         Phase = "EXECUTING_TOOLS"
	PhaseAwaitingFinalNarration Phase = "AWAITING_FINAL_NARRATION"
	PhasePersisting             Phase = "PERSISTING"
	PhaseDone                   Phase = "DONE"
	PhaseErrored                Phase = "ERRORED"
)

// Caller is the authenticated identity threaded through a turn. It is the
// only source of the user id a tool may act on.
type Caller struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Seq            int64            `json:"seq"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

type ErrorKind string

const (
	KindInvalidInput     ErrorKind = "InvalidInput"
	KindNotFoundOrDenied ErrorKind = "NotFoundOrDenied"
	KindUnknownTool      ErrorKind = "UnknownTool"
	KindAmbiguousMatch   ErrorKind = "AmbiguousMatch"
	KindInternalError    ErrorKind = "InternalError"
)

// Deterministic kinds are safe to replay from the invocation ledger.
func (k ErrorKind) Deterministic() bool {
	switch k {
	case KindInvalidInput, KindNotFoundOrDenied, KindUnknownTool, KindAmbiguousMatch:
		return true
	default:
		return false
	}
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

type ToolError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Candidates []TaskRef `json:"candidates,omitempty"`
}

type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Result any           `json:"result,omitempty"`
	Error  *ToolError    `json:"error,omitempty"`
}

func (o Outcome) OK() bool {
	return o.Status == OutcomeSuccess
}

// ToolCallRecord is the normalized {tool, parameters, outcome} envelope
// persisted on assistant messages and fed back to the model.
type ToolCallRecord struct {
	InvocationID string         `json:"invocation_id"`
	Tool         string         `json:"tool"`
	Parameters   map[string]any `json:"parameters"`
	Outcome      Outcome        `json:"outcome"`
	Replayed     bool           `json:"-"`
}

// Invocation is one proposed tool call after the orchestrator assigned its
// idempotency key.
type Invocation struct {
	ID             string
	ConversationID string
	TurnID         string
	Tool           string
	Arguments      json.RawMessage
}

// Proposal is a tool call as returned by the model, before any validation.
type Proposal struct {
	CallID    string          `json:"call_id,omitempty"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// TranscriptEntry is the vendor-neutral transcript unit handed to the gateway.
type TranscriptEntry struct {
	Role      Role
	Content   string
	ToolCalls []ToolCallRecord
}

type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ConverseRequest struct {
	SystemPrompt string
	Transcript   []TranscriptEntry
	// Pending holds tool rounds executed earlier in this turn.
	Pending []ToolCallRecord
	Tools   []ToolSpec
}

type ConverseResponse struct {
	Narration string
	Proposals []Proposal
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ToolCallView struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Outcome    Outcome        `json:"outcome"`
}

type ChatResponse struct {
	Narration      string         `json:"narration"`
	ToolCalls      []ToolCallView `json:"tool_calls"`
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
}

type TaskStatus string

const (
	TaskStatusAll        TaskStatus = "all"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusIncomplete TaskStatus = "incomplete"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusAll, TaskStatusCompleted, TaskStatusIncomplete:
		return true
	default:
		return false
	}
}

type Task struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"-"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TaskRef struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// TaskPatch carries the optional fields of a rename.
type TaskPatch struct {
	Title       *string
	Description *string
}
