package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	nodex "github.com/tanpawarit/Chative-Task-Chat/agent/nodes/orchestrator"
)

type Config struct {
	MaxRounds       int `envconfig:"MAX_ROUNDS" split_words:"true" default:"2"`
	HistoryLimit    int `envconfig:"HISTORY_LIMIT" split_words:"true" default:"50"`
	MaxMessageChars int `envconfig:"MAX_MESSAGE_CHARS" split_words:"true" default:"4000"`
	// TurnTimeout bounds a whole turn, which keeps running after the client leaves.
	TurnTimeout time.Duration `envconfig:"TURN_TIMEOUT" split_words:"true" default:"2m"`
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 2
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.MaxMessageChars <= 0 {
		c.MaxMessageChars = 4000
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 2 * time.Minute
	}
	return c
}

// Orchestrator runs one bounded chat turn per request. It keeps no state
// between requests; everything lives in the conversation store.
type Orchestrator struct {
	store        contractx.ConversationStore
	gateway      contractx.ModelGateway
	dispatcher   contractx.ToolDispatcher
	systemPrompt string
	cfg          Config

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(
	store contractx.ConversationStore,
	gateway contractx.ModelGateway,
	dispatcher contractx.ToolDispatcher,
	systemPrompt string,
	cfg Config,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if gateway == nil {
		return nil, errors.New("model gateway is required")
	}
	if dispatcher == nil {
		return nil, errors.New("tool dispatcher is required")
	}

	o := &Orchestrator{
		store:        store,
		gateway:      gateway,
		dispatcher:   dispatcher,
		systemPrompt: strings.TrimSpace(systemPrompt),
		cfg:          cfg.withDefaults(),
		now:          time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one chat turn for caller. Failures are *contract.TurnError
// values wrapping one of the contract sentinels.
func (o *Orchestrator) HandleMessage(
	ctx context.Context,
	caller contractx.Caller,
	req contractx.ChatRequest,
) (contractx.ChatResponse, error) {
	// The graph runs detached from the request. Nodes watch the client
	// through GraphInput.Client and decide whether to abort or persist.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TurnTimeout)
	defer cancel()

	out, err := o.graphRunner.Invoke(runCtx, nodex.GraphInput{
		Client:         ctx,
		Caller:         caller,
		ConversationID: req.ConversationID,
		Text:           req.Message,
	})
	if err != nil {
		var te *contractx.TurnError
		if errors.As(err, &te) {
			return contractx.ChatResponse{}, te
		}
		return contractx.ChatResponse{}, &contractx.TurnError{
			ConversationID: req.ConversationID,
			Phase:          contractx.PhaseErrored,
			Err:            fmt.Errorf("%w: %v", contractx.ErrInternal, err),
		}
	}
	return out, nil
}

// Messages returns the tail of a conversation the caller owns.
func (o *Orchestrator) Messages(
	ctx context.Context,
	caller contractx.Caller,
	conversationID string,
	limit int,
) ([]contractx.Message, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return nil, contractx.ErrUnauthenticated
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("%w: conversation id is required", contractx.ErrInvalidInput)
	}
	if limit <= 0 || limit > o.cfg.HistoryLimit {
		limit = o.cfg.HistoryLimit
	}

	conv, err := o.store.GetOrCreate(ctx, caller.UserID, conversationID)
	if err != nil {
		return nil, err
	}
	return o.store.History(ctx, conv.ID, limit)
}
