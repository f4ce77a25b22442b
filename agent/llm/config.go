package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

// Config tunes how the chat model is called. Vendor endpoint and credentials
// live in openrouter.Config.
type Config struct {
	Model               string        `envconfig:"MODEL" split_words:"true" required:"true"`
	Temperature         float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	MaxCompletionTokens int64         `envconfig:"MAX_COMPLETION_TOKENS" split_words:"true" default:"1024"`
	AttemptTimeout      time.Duration `envconfig:"ATTEMPT_TIMEOUT" split_words:"true" default:"10s"`
	MaxRetries          int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
	BackoffBase         time.Duration `envconfig:"BACKOFF_BASE" split_words:"true" default:"500ms"`
	BackoffMax          time.Duration `envconfig:"BACKOFF_MAX" split_words:"true" default:"4s"`
}

func DefaultConfig(model string) Config {
	return Config{
		Model:               model,
		Temperature:         0.2,
		MaxCompletionTokens: 1024,
		AttemptTimeout:      10 * time.Second,
		MaxRetries:          2,
		BackoffBase:         500 * time.Millisecond,
		BackoffMax:          4 * time.Second,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model is required", contractx.ErrInvalidInput)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("%w: attempt timeout must be positive", contractx.ErrInvalidInput)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", contractx.ErrInvalidInput)
	}
	if c.BackoffBase < 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("%w: backoff max must be >= base >= 0", contractx.ErrInvalidInput)
	}
	return nil
}

// Backoff returns the un-jittered delay before retry number attempt (1-based).
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 || c.BackoffBase <= 0 {
		return 0
	}
	d := c.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}
