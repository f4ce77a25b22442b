package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

const (
	MaxTitleChars       = 255
	MaxDescriptionChars = 1000
)

// Keys a model may use to smuggle an identity into the arguments.
var identityKeys = []string{"user_id", "userId", "user", "owner_id"}

// TaskID accepts a JSON number or a numeric string such as "22" or "#22".
type TaskID int64

func (t *TaskID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	var raw string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		raw = string(b)
	}

	raw = strings.TrimPrefix(strings.TrimSpace(raw), "#")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("task_id %q is not an integer", raw)
	}
	*t = TaskID(id)
	return nil
}

func decodeParams(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if raw[0] != '{' {
		return fmt.Errorf("%w: arguments must be a JSON object", contractx.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return fmt.Errorf("%w: %s must be of type %s", contractx.ErrInvalidInput, typeErr.Field, typeErr.Type)
		}
		return fmt.Errorf("%w: %v", contractx.ErrInvalidInput, err)
	}
	return nil
}

// rawParams is the best-effort echo of arguments that failed to decode.
func rawParams(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	for _, k := range identityKeys {
		delete(out, k)
	}
	return out
}

func echoParams(p any) map[string]any {
	out := map[string]any{}
	b, err := json.Marshal(p)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, ""))
}

func validateTitle(field string, title string) error {
	n := utf8.RuneCountInString(title)
	if n == 0 {
		return fmt.Errorf("%w: %s is required", contractx.ErrInvalidInput, field)
	}
	if n > MaxTitleChars {
		return fmt.Errorf("%w: %s must be %d characters or less", contractx.ErrInvalidInput, field, MaxTitleChars)
	}
	return nil
}

func validateDescription(desc *string) error {
	if desc == nil {
		return nil
	}
	if utf8.RuneCountInString(*desc) > MaxDescriptionChars {
		return fmt.Errorf("%w: description must be %d characters or less", contractx.ErrInvalidInput, MaxDescriptionChars)
	}
	return nil
}

func validateTaskRef(id *TaskID, titleField string, title string) error {
	if id != nil {
		if *id <= 0 {
			return fmt.Errorf("%w: task_id must be positive", contractx.ErrInvalidInput)
		}
		return nil
	}
	if title == "" {
		return fmt.Errorf("%w: task_id or %s is required", contractx.ErrInvalidInput, titleField)
	}
	return nil
}
