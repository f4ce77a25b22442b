package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

func FinalizeReply(ctx context.Context, in *GraphState) (GraphOutput, error) {
	if in == nil || in.Conversation == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrInternal)
	}
	if in.Assistant.ID == "" {
		return GraphOutput{}, fmt.Errorf("%w: reply was not stored", contractx.ErrInternal)
	}
	in.Phase = contractx.PhaseDone

	views := make([]contractx.ToolCallView, 0, len(in.Pending))
	replayed := 0
	for _, rec := range in.Pending {
		if rec.Replayed {
			replayed++
		}
		views = append(views, contractx.ToolCallView{
			Tool:       rec.Tool,
			Parameters: rec.Parameters,
			Outcome:    rec.Outcome,
		})
	}

	log.Ctx(ctx).Info().
		Str("conversation_id", in.Conversation.ID).
		Str("message_id", in.Assistant.ID).
		Int("rounds", in.Round).
		Int("tool_calls", len(views)).
		Int("replayed", replayed).
		Bool("resumed", in.Resumed).
		Bool("fallback", in.Fallback).
		Msg("chat turn completed")

	return GraphOutput{
		Narration:      in.Narration,
		ToolCalls:      views,
		ConversationID: in.Conversation.ID,
		MessageID:      in.Assistant.ID,
	}, nil
}
