package models

import (
	"strings"

	"github.com/google/uuid"
)

// ConversationsQueryKey names the viewer's conversation list in the client
// cache and in invalidation hints.
const ConversationsQueryKey = "conversations"

const messagesQueryPrefix = "messages:"

// MessagesQueryKey names one conversation's thread.
func MessagesQueryKey(conversationID uuid.UUID) string {
	return messagesQueryPrefix + conversationID.String()
}

// ParseMessagesQueryKey returns the conversation id of a thread key.
func ParseMessagesQueryKey(key string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(key, messagesQueryPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// HintTypeInvalidate is the only hint the server pushes over websocket.
const HintTypeInvalidate = "invalidate"

// InvalidationHint tells a client that the named queries changed on the
// server. Clients treat it as a request to refetch, never as data.
type InvalidationHint struct {
	Type string   `json:"type"`
	Keys []string `json:"keys"`
}
