package messaging

import (
	"errors"
	"fmt"
	"math"
	"time"

	"krewup-messaging/internal/auth"
	"krewup-messaging/internal/models"
)

// Validation failures. Callers compare with errors.Is.
var (
	ErrEmptyContent         = errors.New("Message cannot be empty")
	ErrContentTooLong       = fmt.Errorf("Message cannot exceed %d characters", models.MaxMessageLength)
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant in this conversation")
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
)

// RateLimitError rejects a send before any other validation runs.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Wire codes for the errors above, carried in the "code" field of API error
// bodies so clients can recover the sentinel.
const (
	CodeUnauthorized     = "unauthorized"
	CodeRateLimited      = "rate_limited"
	CodeEmptyContent     = "empty_content"
	CodeContentTooLong   = "content_too_long"
	CodeNotFound         = "conversation_not_found"
	CodeNotParticipant   = "not_participant"
	CodeRecipientMissing = "recipient_not_found"
	CodeSelfConversation = "self_conversation"
	CodeInvalidRequest   = "invalid_request"
	CodeInternal         = "internal"
)

var codeErrors = map[string]error{
	CodeEmptyContent:     ErrEmptyContent,
	CodeContentTooLong:   ErrContentTooLong,
	CodeNotFound:         ErrConversationNotFound,
	CodeNotParticipant:   ErrNotParticipant,
	CodeRecipientMissing: ErrRecipientNotFound,
	CodeSelfConversation: ErrSelfConversation,
}

// ErrorCode returns the wire code for err.
func ErrorCode(err error) string {
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		return CodeRateLimited
	case errors.Is(err, auth.ErrNoViewer):
		return CodeUnauthorized
	}
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// ErrorForCode returns the sentinel for a wire code, or nil for codes that
// carry no sentinel.
func ErrorForCode(code string) error {
	if code == CodeUnauthorized {
		return auth.ErrNoViewer
	}
	return codeErrors[code]
}
