package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

const internalErrorMessage = "the task service is temporarily unavailable"

// Executor runs a named tool for a user. It is satisfied by tool.Catalog.
type Executor interface {
	Execute(ctx context.Context, userID string, name string, raw json.RawMessage) (map[string]any, any, error)
	Specs() []contractx.ToolSpec
}

var _ contractx.ToolDispatcher = (*Dispatcher)(nil)

// Dispatcher turns one proposed invocation into exactly one normalized tool
// call record. Deterministic outcomes are written to the ledger so a replayed
// invocation id never executes twice.
type Dispatcher struct {
	tools  Executor
	ledger contractx.Ledger
}

func New(tools Executor, ledger contractx.Ledger) (*Dispatcher, error) {
	if tools == nil {
		return nil, errors.New("tool executor is required")
	}
	if ledger == nil {
		return nil, errors.New("invocation ledger is required")
	}
	return &Dispatcher{tools: tools, ledger: ledger}, nil
}

func (d *Dispatcher) Specs() []contractx.ToolSpec {
	return d.tools.Specs()
}

func (d *Dispatcher) Dispatch(ctx context.Context, caller contractx.Caller, inv contractx.Invocation) contractx.ToolCallRecord {
	logger := log.Ctx(ctx).With().
		Str("conversation_id", inv.ConversationID).
		Str("invocation_id", inv.ID).
		Str("tool", inv.Tool).
		Logger()

	prior, err := d.ledger.Lookup(ctx, inv.ConversationID, inv.ID)
	if err != nil {
		// Without the ledger we cannot tell whether this already ran.
		logger.Error().Err(err).Msg("ledger lookup failed")
		return internalRecord(inv, nil)
	}
	if prior != nil {
		logger.Debug().Str("status", string(prior.Outcome.Status)).Msg("tool call replayed from ledger")
		prior.Replayed = true
		return *prior
	}

	params, result, err := d.tools.Execute(ctx, caller.UserID, inv.Tool, inv.Arguments)
	rec := contractx.ToolCallRecord{
		InvocationID: inv.ID,
		Tool:         inv.Tool,
		Parameters:   plainParams(params),
	}

	if err == nil {
		plain, nerr := plainJSON(result)
		if nerr != nil {
			logger.Error().Err(nerr).Msg("tool result is not serializable")
			return internalRecord(inv, rec.Parameters)
		}
		rec.Outcome = contractx.Outcome{Status: contractx.OutcomeSuccess, Result: plain}
	} else {
		rec.Outcome = contractx.Outcome{Status: contractx.OutcomeError, Error: toolError(err)}
	}

	kind := contractx.KindOf(err)
	if !rec.Outcome.OK() && !kind.Deterministic() {
		logger.Error().Err(err).Msg("tool execution failed")
		return rec
	}
	logger.Debug().Str("status", string(rec.Outcome.Status)).Str("kind", string(kind)).Msg("tool call executed")

	// The tool already committed; a caller that went away must not lose the record.
	if err := d.ledger.Record(context.WithoutCancel(ctx), inv.ConversationID, inv.TurnID, rec); err != nil {
		logger.Warn().Err(err).Msg("ledger record failed")
	}
	return rec
}

func toolError(err error) *contractx.ToolError {
	kind := contractx.KindOf(err)
	te := &contractx.ToolError{Kind: kind, Message: err.Error()}

	switch kind {
	case contractx.KindAmbiguousMatch:
		var amb *contractx.AmbiguousError
		if errors.As(err, &amb) {
			te.Message = fmt.Sprintf("%s; ask the user which one they mean", amb.Error())
			te.Candidates = amb.Candidates
		}
	case contractx.KindInternalError:
		te.Message = internalErrorMessage
	}
	return te
}

func internalRecord(inv contractx.Invocation, params map[string]any) contractx.ToolCallRecord {
	if params == nil {
		params = map[string]any{}
	}
	return contractx.ToolCallRecord{
		InvocationID: inv.ID,
		Tool:         inv.Tool,
		Parameters:   params,
		Outcome: contractx.Outcome{
			Status: contractx.OutcomeError,
			Error:  &contractx.ToolError{Kind: contractx.KindInternalError, Message: internalErrorMessage},
		},
	}
}

// plainJSON reduces v to maps, slices and scalars so a stored record reads
// back identical to the one returned.
func plainJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func plainParams(params map[string]any) map[string]any {
	out := map[string]any{}
	plain, err := plainJSON(params)
	if err != nil {
		return out
	}
	if m, ok := plain.(map[string]any); ok {
		return m
	}
	return out
}
