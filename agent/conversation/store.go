package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	databasex "github.com/tanpawarit/Chative-Task-Chat/pkg/database"
	"github.com/uptrace/bun"
)

const DefaultHistoryLimit = 50

// ErrConversationNotFound covers missing, foreign and malformed conversation ids alike.
var ErrConversationNotFound = fmt.Errorf("conversation not found: %w", contractx.ErrAccessDenied)

var _ contractx.ConversationStore = (*Store)(nil)

// Store keeps conversations and their append-only message log.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

func NewStore(db *bun.DB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

// Migrate creates conversation, message and invocation ledger tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := databasex.CreateTables(ctx, s.db,
		(*conversationRow)(nil),
		(*messageRow)(nil),
		(*invocationRow)(nil),
	); err != nil {
		return err
	}

	indexes := []struct {
		model   any
		name    string
		unique  bool
		columns []string
	}{
		{(*conversationRow)(nil), "idx_conversations_user", false, []string{"user_id", "updated_at"}},
		{(*messageRow)(nil), "idx_messages_conversation_seq", true, []string{"conversation_id", "seq"}},
	}
	for _, idx := range indexes {
		q := s.db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Get returns the conversation only when userID owns it.
func (s *Store) Get(ctx context.Context, userID string, conversationID string) (*contractx.Conversation, error) {
	id, err := uuid.Parse(strings.TrimSpace(conversationID))
	if err != nil {
		return nil, ErrConversationNotFound
	}

	row := new(conversationRow)
	err = s.db.NewSelect().
		Model(row).
		Where("id = ?", id.String()).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return row.toConversation(), nil
}

// GetOrCreate resolves an owned conversation, or opens a new one when no id is given.
func (s *Store) GetOrCreate(ctx context.Context, userID string, conversationID string) (*contractx.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is empty", contractx.ErrInternal)
	}
	if strings.TrimSpace(conversationID) != "" {
		return s.Get(ctx, userID, conversationID)
	}

	now := s.timestamp()
	row := &conversationRow{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return row.toConversation(), nil
}

// History returns the last limit messages in chronological order.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]contractx.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var rows []messageRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("conversation_id = ?", conversationID).
		OrderExpr("seq DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	msgs := make([]contractx.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		msg, err := rows[i].toMessage()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Append stores msg as the next message of the conversation. When
// expectedVersion is not negative the append only succeeds if the
// conversation is still at that version; otherwise ErrConflict is returned.
func (s *Store) Append(
	ctx context.Context,
	conversationID string,
	expectedVersion int64,
	msg contractx.Message,
) (contractx.Message, error) {
	if !msg.Role.Valid() {
		return contractx.Message{}, fmt.Errorf("%w: role %q", contractx.ErrInvalidInput, msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		conv := new(conversationRow)
		err := tx.NewSelect().Model(conv).Where("id = ?", conversationID).Limit(1).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConversationNotFound
			}
			return fmt.Errorf("load conversation: %w", err)
		}
		if expectedVersion >= 0 && conv.Version != expectedVersion {
			return fmt.Errorf("%w: version %d, expected %d", contractx.ErrConflict, conv.Version, expectedVersion)
		}

		// Timestamps never go backwards inside a conversation, even if the clock does.
		createdAt := s.timestamp()
		if floor := conv.UpdatedAt.Add(time.Microsecond); createdAt.Before(floor) {
			createdAt = floor.UTC()
		}
		msg.Seq = conv.Version + 1
		msg.CreatedAt = createdAt

		res, err := tx.NewUpdate().
			Model((*conversationRow)(nil)).
			Set("version = ?", msg.Seq).
			Set("updated_at = ?", createdAt).
			Where("id = ?", conversationID).
			Where("version = ?", conv.Version).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("bump conversation version: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: version moved past %d", contractx.ErrConflict, conv.Version)
		}

		row, err := newMessageRow(msg)
		if err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			if databasex.IsUniqueViolation(err) {
				return fmt.Errorf("%w: seq %d already taken", contractx.ErrConflict, msg.Seq)
			}
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return contractx.Message{}, err
	}
	return msg, nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
