package contract

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found or access denied")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrAmbiguous           = errors.New("ambiguous match")
	ErrUpstreamUnavailable = errors.New("model service unavailable")
	ErrUpstreamRejected    = errors.New("model service rejected request")
	ErrAccessDenied        = errors.New("access denied")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrConflict            = errors.New("concurrent update, please resend")
	ErrInternal            = errors.New("internal error")
)

// TurnError carries the phase a chat turn failed in. ConversationID is set
// once the conversation is resolved so callers can retry into it.
type TurnError struct {
	ConversationID string
	Phase          Phase
	Err            error
}

func (e *TurnError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("chat turn failed in %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("chat turn failed in %s (conversation=%s): %v", e.Phase, e.ConversationID, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// AmbiguousError lists the tasks a title fragment matched.
type AmbiguousError struct {
	Query      string
	Candidates []TaskRef
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d tasks match %q", len(e.Candidates), e.Query)
}

func (e *AmbiguousError) Unwrap() error {
	return ErrAmbiguous
}

// KindOf maps an error onto the tool outcome vocabulary.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFoundOrDenied
	case errors.Is(err, ErrUnknownTool):
		return KindUnknownTool
	case errors.Is(err, ErrAmbiguous):
		return KindAmbiguousMatch
	default:
		return KindInternalError
	}
}
