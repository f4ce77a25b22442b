package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	llmx "github.com/tanpawarit/Chative-Task-Chat/agent/llm"
)

// Completer is the slice of the OpenAI SDK the gateway needs.
// *openai.ChatCompletionService satisfies it.
type Completer interface {
	New(ctx context.Context, body openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) (*openaisdk.ChatCompletion, error)
}

var _ contractx.ModelGateway = (*Gateway)(nil)

// Gateway adapts the vendor-neutral conversation contract to OpenAI-style
// chat completions and owns the retry policy for model calls.
type Gateway struct {
	completer Completer
	cfg       llmx.Config
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(completer Completer, cfg llmx.Config) (*Gateway, error) {
	if completer == nil {
		return nil, errors.New("chat completer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gateway{
		completer: completer,
		cfg:       cfg,
		sleep:     sleepCtx,
	}, nil
}

func (g *Gateway) Converse(ctx context.Context, req contractx.ConverseRequest) (contractx.ConverseResponse, error) {
	params := g.buildParams(req)
	logger := log.Ctx(ctx)

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := jitter(g.cfg.Backoff(attempt))
			logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying model call")
			if err := g.sleep(ctx, delay); err != nil {
				return contractx.ConverseResponse{}, err
			}
		}

		resp, err := g.attempt(ctx, params)
		if err == nil {
			return parseResponse(resp), nil
		}
		if ctx.Err() != nil {
			return contractx.ConverseResponse{}, ctx.Err()
		}
		if !isTransient(err) {
			logger.Error().Err(err).Msg("model call rejected")
			return contractx.ConverseResponse{}, fmt.Errorf("%w: %v", contractx.ErrUpstreamRejected, err)
		}
		lastErr = err
	}

	logger.Error().Err(lastErr).Int("attempts", g.cfg.MaxRetries+1).Msg("model service unavailable")
	return contractx.ConverseResponse{}, fmt.Errorf("%w: %v", contractx.ErrUpstreamUnavailable, lastErr)
}

var errEmptyCompletion = errors.New("completion has no choices")

func (g *Gateway) attempt(ctx context.Context, params openaisdk.ChatCompletionNewParams) (*openaisdk.ChatCompletion, error) {
	actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()

	resp, err := g.completer.New(actx, params)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errEmptyCompletion
	}
	return resp, nil
}

func (g *Gateway) buildParams(req contractx.ConverseRequest) openaisdk.ChatCompletionNewParams {
	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.cfg.Model),
		Messages: buildMessages(req),
	}
	if g.cfg.Temperature >= 0 {
		params.Temperature = openaisdk.Float(g.cfg.Temperature)
	}
	if g.cfg.MaxCompletionTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(g.cfg.MaxCompletionTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

func buildMessages(req contractx.ConverseRequest) []openaisdk.ChatCompletionMessageParamUnion {
	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Transcript)*2+3)
	if prompt := strings.TrimSpace(req.SystemPrompt); prompt != "" {
		msgs = append(msgs, openaisdk.SystemMessage(prompt))
	}

	for _, entry := range req.Transcript {
		switch entry.Role {
		case contractx.RoleUser:
			msgs = append(msgs, openaisdk.UserMessage(entry.Content))
		case contractx.RoleAssistant:
			if len(entry.ToolCalls) > 0 {
				msgs = append(msgs, toolRound(entry.ToolCalls)...)
			}
			if strings.TrimSpace(entry.Content) != "" {
				msgs = append(msgs, openaisdk.AssistantMessage(entry.Content))
			}
		}
	}

	if len(req.Pending) > 0 {
		msgs = append(msgs, toolRound(req.Pending)...)
	}
	return msgs
}

// toolRound replays executed calls as an assistant tool_calls message
// followed by one tool message per outcome.
func toolRound(records []contractx.ToolCallRecord) []openaisdk.ChatCompletionMessageParamUnion {
	calls := make([]openaisdk.ChatCompletionMessageToolCallParam, 0, len(records))
	for _, rec := range records {
		args, err := json.Marshal(rec.Parameters)
		if err != nil || rec.Parameters == nil {
			args = []byte("{}")
		}
		calls = append(calls, openaisdk.ChatCompletionMessageToolCallParam{
			ID: rec.InvocationID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      rec.Tool,
				Arguments: string(args),
			},
		})
	}

	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(records)+1)
	out = append(out, openaisdk.ChatCompletionMessageParamUnion{
		OfAssistant: &openaisdk.ChatCompletionAssistantMessageParam{ToolCalls: calls},
	})
	for _, rec := range records {
		out = append(out, openaisdk.ToolMessage(outcomeContent(rec.Outcome), rec.InvocationID))
	}
	return out
}

func outcomeContent(o contractx.Outcome) string {
	raw, err := json.Marshal(o)
	if err != nil {
		return `{"status":"error","error":{"kind":"InternalError","message":"unreadable outcome"}}`
	}
	return string(raw)
}

func buildTools(specs []contractx.ToolSpec) []openaisdk.ChatCompletionToolParam {
	tools := make([]openaisdk.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := shared.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: shared.FunctionParameters(spec.Parameters),
		}
		if spec.Description != "" {
			fn.Description = openaisdk.String(spec.Description)
		}
		tools = append(tools, openaisdk.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

func parseResponse(resp *openaisdk.ChatCompletion) contractx.ConverseResponse {
	msg := resp.Choices[0].Message
	out := contractx.ConverseResponse{
		Narration: strings.TrimSpace(msg.Content),
	}
	for _, call := range msg.ToolCalls {
		out.Proposals = append(out.Proposals, contractx.Proposal{
			CallID:    call.ID,
			Tool:      strings.TrimSpace(call.Function.Name),
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return out
}

// isTransient reports whether another attempt may succeed: timeouts, network
// failures, empty completions, HTTP 408/429 and 5xx.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errEmptyCompletion) {
		return true
	}

	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode >= http.StatusInternalServerError
	}
	// No HTTP status means the request died in transport.
	return true
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
