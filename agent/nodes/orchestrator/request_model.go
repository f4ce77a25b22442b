package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

// RequestModel asks the model for the next step. The first call of a turn
// may propose tools; a later call narrates their outcomes. Proposals that
// arrive on the last allowed round are dropped and the turn falls back to a
// fixed narration.
func RequestModel(
	ctx context.Context,
	in *GraphState,
	gateway contractx.ModelGateway,
	tools []contractx.ToolSpec,
	systemPrompt string,
	maxRounds int,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrInternal)
	}
	in.Phase = contractx.PhaseAwaitingModel
	if len(in.Pending) > 0 {
		in.Phase = contractx.PhaseAwaitingFinalNarration
	}

	// Once tools ran, a vanished client still gets its outcomes persisted.
	if err := in.ClientErr(); err != nil {
		return abandon(ctx, in, err)
	}

	callCtx, cancel := in.followClient(ctx)
	defer cancel()

	in.Round++
	resp, err := gateway.Converse(callCtx, contractx.ConverseRequest{
		SystemPrompt: systemPrompt,
		Transcript:   Transcript(in.History, in.UserMessage),
		Pending:      in.Pending,
		Tools:        tools,
	})
	if err != nil {
		if cerr := in.ClientErr(); cerr != nil {
			return abandon(ctx, in, cerr)
		}
		return nil, err
	}

	in.Narration = resp.Narration
	in.Proposals = resp.Proposals
	if len(in.Proposals) > 0 && in.Round >= maxRounds {
		log.Ctx(ctx).Warn().
			Str("conversation_id", in.Conversation.ID).
			Int("round", in.Round).
			Int("dropped_proposals", len(in.Proposals)).
			Msg("tool round limit reached")
		in.Proposals = nil
		in.Fallback = true
	}
	return in, nil
}

// abandon ends a turn whose client went away. Without executed tools there is
// nothing worth keeping; otherwise the turn is persisted with the fallback.
func abandon(ctx context.Context, in *GraphState, cause error) (*GraphState, error) {
	if len(in.Pending) == 0 {
		return nil, cause
	}
	log.Ctx(ctx).Warn().
		Str("conversation_id", in.Conversation.ID).
		Int("tool_calls", len(in.Pending)).
		Msg("client went away after tools ran, persisting fallback reply")
	in.Proposals = nil
	in.Fallback = true
	return in, nil
}

// Transcript converts stored messages plus the current user message into the
// gateway's vendor-neutral form.
func Transcript(history []contractx.Message, current contractx.Message) []contractx.TranscriptEntry {
	entries := make([]contractx.TranscriptEntry, 0, len(history)+1)
	for _, msg := range history {
		entries = append(entries, contractx.TranscriptEntry{
			Role:      msg.Role,
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})
	}
	return append(entries, contractx.TranscriptEntry{
		Role:    contractx.RoleUser,
		Content: current.Content,
	})
}

// HasProposals routes the graph to tool execution.
func HasProposals(in *GraphState) bool {
	return in != nil && len(in.Proposals) > 0
}
