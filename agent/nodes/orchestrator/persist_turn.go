package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

const (
	FallbackNarration = "I could not finish my reply, so nothing more was done."
	fallbackPrefix    = "I could not finish my reply. Here is what happened:"
)

// PersistTurn appends the assistant message carrying every tool call of the
// turn. Once tools have run the message is written even if the client went
// away; ctx is the detached graph context.
func PersistTurn(
	ctx context.Context,
	in *GraphState,
	store contractx.ConversationStore,
	limit int,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: conversation is not loaded", contractx.ErrInternal)
	}
	in.Phase = contractx.PhasePersisting

	if err := in.ClientErr(); err != nil {
		if len(in.Pending) == 0 {
			return nil, err
		}
		in.Fallback = true
	}

	narration := strings.TrimSpace(in.Narration)
	if in.Fallback || narration == "" {
		narration = FallbackFor(in.Pending)
	}

	msg := contractx.Message{
		Role:      contractx.RoleAssistant,
		Content:   narration,
		ToolCalls: in.Pending,
	}
	for attempt := 0; ; attempt++ {
		stored, err := store.Append(ctx, in.Conversation.ID, in.Version, msg)
		if err == nil {
			in.Assistant = stored
			in.Narration = narration
			return in, nil
		}
		if !errors.Is(err, contractx.ErrConflict) || attempt > 0 {
			return nil, err
		}

		log.Ctx(ctx).Warn().Err(err).Str("conversation_id", in.Conversation.ID).Msg("conversation moved before reply was stored")
		if err := reload(ctx, in, store, limit); err != nil {
			return nil, err
		}
		in.Version = in.Conversation.Version
	}
}

// FallbackFor summarizes tool outcomes without the model.
func FallbackFor(records []contractx.ToolCallRecord) string {
	if len(records) == 0 {
		return FallbackNarration
	}

	var b strings.Builder
	b.WriteString(fallbackPrefix)
	for _, rec := range records {
		b.WriteString("\n- ")
		b.WriteString(rec.Tool)
		if rec.Outcome.OK() {
			b.WriteString(": done")
			continue
		}
		b.WriteString(": failed")
		if rec.Outcome.Error != nil && rec.Outcome.Error.Message != "" {
			b.WriteString(" (")
			b.WriteString(rec.Outcome.Error.Message)
			b.WriteString(")")
		}
	}
	return b.String()
}
