package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

func LoadHistory(
	ctx context.Context,
	in *GraphState,
	store contractx.ConversationStore,
	limit int,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrInternal)
	}
	in.Phase = contractx.PhaseLoadingHistory

	conv, err := store.GetOrCreate(ctx, in.Caller.UserID, in.ConversationID)
	if err != nil {
		return nil, err
	}
	in.Conversation = conv

	history, err := store.History(ctx, conv.ID, limit)
	if err != nil {
		return nil, err
	}
	in.History = history
	return in, nil
}
