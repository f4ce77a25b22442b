package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

var (
	ErrInvalidKey = errors.New("conversation id and invocation id are required")
)

const (
	defaultKeyPrefix     = "chat:ledger:"
	defaultTTL           = 7 * 24 * time.Hour
	maxResponseSizeBytes = 2 << 20
)

// Option customizes UpstashLedger.
type Option func(*UpstashLedger)

func WithKeyPrefix(prefix string) Option {
	return func(l *UpstashLedger) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			l.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(l *UpstashLedger) {
		l.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(l *UpstashLedger) {
		if client != nil {
			l.httpClient = client
		}
	}
}

var _ contractx.Ledger = (*UpstashLedger)(nil)

// UpstashLedger keeps tool call records in Upstash Redis via REST. Records
// are written with SET NX so the first outcome for an invocation wins.
type UpstashLedger struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"3s"`
	TTL     time.Duration `envconfig:"TTL" split_words:"true" default:"168h"`
}

// Enabled reports whether the cache is configured at all.
func (c UpstashConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Token) != ""
}

func NewUpstashLedger(cfg UpstashConfig, opts ...Option) (*UpstashLedger, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}

	l := &UpstashLedger{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultKeyPrefix,
		ttl:        ttl,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return l, nil
}

func (l *UpstashLedger) Lookup(ctx context.Context, conversationID string, invocationID string) (*contractx.ToolCallRecord, error) {
	key, err := l.redisKey(conversationID, invocationID)
	if err != nil {
		return nil, err
	}

	resp, err := l.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, nil
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode ledger payload: %w", err)
	}

	var rec contractx.ToolCallRecord
	if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal tool call record: %w", err)
	}
	if rec.InvocationID != invocationID {
		return nil, fmt.Errorf("ledger entry %s holds invocation %q", key, rec.InvocationID)
	}
	return &rec, nil
}

func (l *UpstashLedger) Record(ctx context.Context, conversationID string, _ string, rec contractx.ToolCallRecord) error {
	key, err := l.redisKey(conversationID, rec.InvocationID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal tool call record: %w", err)
	}

	cmd := []any{"SET", key, string(payload), "NX"}
	if l.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(l.ttl))
	}

	if _, err := l.exec(ctx, cmd); err != nil {
		return err
	}
	return nil
}

func (l *UpstashLedger) redisKey(conversationID string, invocationID string) (string, error) {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(invocationID) == "" {
		return "", ErrInvalidKey
	}
	return strings.TrimSpace(l.keyPrefix) + conversationID + ":" + invocationID, nil
}

func (l *UpstashLedger) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
