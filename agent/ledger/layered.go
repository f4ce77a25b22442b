package ledger

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

var _ contractx.Ledger = (*Layered)(nil)

// Layered answers lookups from a shared cache before falling back to the
// durable ledger. The durable ledger is the source of truth: cache failures
// are logged and never fail a call.
type Layered struct {
	cache   contractx.Ledger
	durable contractx.Ledger
}

func NewLayered(cache contractx.Ledger, durable contractx.Ledger) (*Layered, error) {
	if durable == nil {
		return nil, errors.New("durable ledger is required")
	}
	return &Layered{cache: cache, durable: durable}, nil
}

func (l *Layered) Lookup(ctx context.Context, conversationID string, invocationID string) (*contractx.ToolCallRecord, error) {
	if l.cache != nil {
		rec, err := l.cache.Lookup(ctx, conversationID, invocationID)
		if err == nil && rec != nil {
			return rec, nil
		}
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("conversation_id", conversationID).
				Str("invocation_id", invocationID).
				Msg("ledger cache lookup failed")
		}
	}

	rec, err := l.durable.Lookup(ctx, conversationID, invocationID)
	if err != nil || rec == nil {
		return rec, err
	}

	if l.cache != nil {
		if err := l.cache.Record(ctx, conversationID, "", *rec); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("invocation_id", invocationID).
				Msg("ledger cache warm failed")
		}
	}
	return rec, nil
}

func (l *Layered) Record(ctx context.Context, conversationID string, turnID string, rec contractx.ToolCallRecord) error {
	if err := l.durable.Record(ctx, conversationID, turnID, rec); err != nil {
		return err
	}
	if l.cache == nil {
		return nil
	}

	// Re-read so the cache holds the winning record, not necessarily ours.
	stored, err := l.durable.Lookup(ctx, conversationID, rec.InvocationID)
	if err != nil || stored == nil {
		return nil
	}
	if err := l.cache.Record(ctx, conversationID, turnID, *stored); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("invocation_id", rec.InvocationID).
			Msg("ledger cache write failed")
	}
	return nil
}
