package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	"github.com/uptrace/bun"
)

type conversationRow struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	Version   int64     `bun:"version,notnull,default:0"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (r *conversationRow) toConversation() *contractx.Conversation {
	return &contractx.Conversation{
		ID:        r.ID,
		UserID:    r.UserID,
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type messageRow struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             string    `bun:"id,pk"`
	ConversationID string    `bun:"conversation_id,notnull"`
	Seq            int64     `bun:"seq,notnull"`
	Role           string    `bun:"role,notnull"`
	Content        string    `bun:"content,notnull"`
	ToolCalls      string    `bun:"tool_calls,type:text"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func newMessageRow(msg contractx.Message) (*messageRow, error) {
	row := &messageRow{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		Role:           string(msg.Role),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("marshal tool calls: %w", err)
		}
		row.ToolCalls = string(raw)
	}
	return row, nil
}

func (r *messageRow) toMessage() (contractx.Message, error) {
	msg := contractx.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Seq:            r.Seq,
		Role:           contractx.Role(r.Role),
		Content:        r.Content,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.ToolCalls != "" {
		if err := json.Unmarshal([]byte(r.ToolCalls), &msg.ToolCalls); err != nil {
			return contractx.Message{}, fmt.Errorf("unmarshal tool calls of message %s: %w", r.ID, err)
		}
	}
	return msg, nil
}

type invocationRow struct {
	bun.BaseModel `bun:"table:tool_invocations,alias:ti"`

	ConversationID string    `bun:"conversation_id,pk"`
	InvocationID   string    `bun:"invocation_id,pk"`
	TurnID         string    `bun:"turn_id,notnull"`
	Tool           string    `bun:"tool,notnull"`
	Record         string    `bun:"record,type:text,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}
