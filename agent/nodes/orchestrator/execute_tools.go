package orchestratornode

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

// ExecuteTools runs each proposal of the current round in order. A failed
// call is an outcome, never an abort.
func ExecuteTools(
	ctx context.Context,
	in *GraphState,
	dispatcher contractx.ToolDispatcher,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: conversation is not loaded", contractx.ErrInternal)
	}
	in.Phase = contractx.PhaseExecutingTools
	if in.occurrences == nil {
		in.occurrences = make(map[string]int, len(in.Proposals))
	}

	for _, p := range in.Proposals {
		// Calls already started stay recorded; no new side effects for a gone client.
		if in.ClientErr() != nil {
			break
		}
		canonical := canonicalArguments(p.Arguments)
		key := p.Tool + "\x00" + string(canonical)
		occurrence := in.occurrences[key]
		in.occurrences[key] = occurrence + 1

		rec := dispatcher.Dispatch(ctx, in.Caller, contractx.Invocation{
			ID:             InvocationID(in.UserMessage.ID, p.Tool, canonical, occurrence),
			ConversationID: in.Conversation.ID,
			TurnID:         in.UserMessage.ID,
			Tool:           p.Tool,
			Arguments:      p.Arguments,
		})
		in.Pending = append(in.Pending, rec)
	}
	in.Proposals = nil
	return in, nil
}

// InvocationID derives a stable idempotency key, so a retried turn that
// proposes the same calls maps onto the same ledger entries.
func InvocationID(turnID string, tool string, canonicalArgs []byte, occurrence int) string {
	h := sha256.New()
	h.Write([]byte(turnID))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonicalArgs)
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(occurrence)))
	return "inv_" + hex.EncodeToString(h.Sum(nil))[:32]
}

// canonicalArguments re-encodes JSON with sorted keys so formatting
// differences between model responses do not change the key.
func canonicalArguments(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []byte("{}")
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return trimmed
	}
	out, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return out
}
