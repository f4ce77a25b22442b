package orchestratornode

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

type GraphInput struct {
	// Client is the request context. The graph itself runs detached so a
	// disconnect cannot abort a turn between a tool commit and its record.
	Client         context.Context
	Caller         contractx.Caller
	ConversationID string
	Text           string
}

type GraphOutput = contractx.ChatResponse

// GraphState is threaded through every node of one chat turn.
type GraphState struct {
	client         context.Context
	Caller         contractx.Caller
	ConversationID string
	Text           string
	Now            time.Time
	Phase          contractx.Phase

	Conversation *contractx.Conversation
	// History holds the messages before this turn's user message.
	History     []contractx.Message
	UserMessage contractx.Message
	Resumed     bool
	// Version is the conversation version the assistant append must match.
	Version int64

	Round       int
	Proposals   []contractx.Proposal
	Pending     []contractx.ToolCallRecord
	occurrences map[string]int
	Narration   string
	Fallback    bool

	Assistant contractx.Message
}

func ValidateRequest(in GraphInput, maxChars int, nowFn func() time.Time) (*GraphState, error) {
	if strings.TrimSpace(in.Caller.UserID) == "" {
		return nil, fmt.Errorf("%w: caller identity is missing", contractx.ErrUnauthenticated)
	}

	text := strings.TrimSpace(strings.ToValidUTF8(in.Text, ""))
	if text == "" {
		return nil, fmt.Errorf("%w: message is empty", contractx.ErrInvalidInput)
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return nil, fmt.Errorf("%w: message must be %d characters or less", contractx.ErrInvalidInput, maxChars)
	}

	return &GraphState{
		client:         in.Client,
		Caller:         in.Caller,
		ConversationID: strings.TrimSpace(in.ConversationID),
		Text:           text,
		Now:            nowFn().UTC(),
		Phase:          contractx.PhaseValidating,
	}, nil
}

// TurnError tags err with the phase the turn was in.
func TurnError(in *GraphState, phase contractx.Phase, err error) error {
	te := &contractx.TurnError{Phase: phase, Err: err}
	if in != nil && in.Conversation != nil {
		te.ConversationID = in.Conversation.ID
	}
	return te
}

// ClientErr is non-nil once the caller stopped waiting for the reply.
func (s *GraphState) ClientErr() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Err()
}

// followClient derives a context from ctx that is also cancelled when the
// client goes away.
func (s *GraphState) followClient(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	if s == nil || s.client == nil {
		return cctx, cancel
	}
	stop := context.AfterFunc(s.client, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}
