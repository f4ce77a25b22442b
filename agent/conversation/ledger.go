package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	"github.com/uptrace/bun"
)

var _ contractx.Ledger = (*Ledger)(nil)

// Ledger is the durable invocation ledger. A recorded invocation is never
// overwritten, so the first outcome wins.
type Ledger struct {
	db  *bun.DB
	now func() time.Time
}

func NewLedger(db *bun.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

func (l *Ledger) Lookup(ctx context.Context, conversationID string, invocationID string) (*contractx.ToolCallRecord, error) {
	row := new(invocationRow)
	err := l.db.NewSelect().
		Model(row).
		Where("conversation_id = ?", conversationID).
		Where("invocation_id = ?", invocationID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup invocation: %w", err)
	}

	var rec contractx.ToolCallRecord
	if err := json.Unmarshal([]byte(row.Record), &rec); err != nil {
		return nil, fmt.Errorf("decode invocation %s: %w", invocationID, err)
	}
	return &rec, nil
}

func (l *Ledger) Record(ctx context.Context, conversationID string, turnID string, rec contractx.ToolCallRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode invocation %s: %w", rec.InvocationID, err)
	}

	row := &invocationRow{
		ConversationID: conversationID,
		InvocationID:   rec.InvocationID,
		TurnID:         turnID,
		Tool:           rec.Tool,
		Record:         string(raw),
		CreatedAt:      l.now().UTC(),
	}
	_, err = l.db.NewInsert().
		Model(row).
		On("CONFLICT (conversation_id, invocation_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record invocation %s: %w", rec.InvocationID, err)
	}
	return nil
}
