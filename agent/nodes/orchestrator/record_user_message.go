package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

// RecordUserMessage durably appends the user's message before the model is
// called. A retry of a turn that never got an answer resumes it instead of
// appending the same text twice.
func RecordUserMessage(
	ctx context.Context,
	in *GraphState,
	store contractx.ConversationStore,
	limit int,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: conversation is not loaded", contractx.ErrInternal)
	}

	for attempt := 0; ; attempt++ {
		if resumeTrailingTurn(in) {
			log.Ctx(ctx).Info().
				Str("conversation_id", in.Conversation.ID).
				Str("message_id", in.UserMessage.ID).
				Msg("resuming unanswered turn")
			return in, nil
		}

		msg, err := store.Append(ctx, in.Conversation.ID, in.Conversation.Version, contractx.Message{
			Role:    contractx.RoleUser,
			Content: in.Text,
		})
		if err == nil {
			in.UserMessage = msg
			in.Version = msg.Seq
			return in, nil
		}
		if !errors.Is(err, contractx.ErrConflict) || attempt > 0 {
			return nil, err
		}

		log.Ctx(ctx).Warn().Err(err).Str("conversation_id", in.Conversation.ID).Msg("conversation moved, reloading")
		if err := reload(ctx, in, store, limit); err != nil {
			return nil, err
		}
	}
}

func resumeTrailingTurn(in *GraphState) bool {
	if len(in.History) == 0 {
		return false
	}
	last := in.History[len(in.History)-1]
	if last.Role != contractx.RoleUser || strings.TrimSpace(last.Content) != in.Text {
		return false
	}
	in.UserMessage = last
	in.History = in.History[:len(in.History)-1]
	in.Resumed = true
	in.Version = in.Conversation.Version
	return true
}

func reload(ctx context.Context, in *GraphState, store contractx.ConversationStore, limit int) error {
	conv, err := store.GetOrCreate(ctx, in.Caller.UserID, in.Conversation.ID)
	if err != nil {
		return err
	}
	history, err := store.History(ctx, conv.ID, limit)
	if err != nil {
		return err
	}
	in.Conversation = conv
	in.History = history
	return nil
}
