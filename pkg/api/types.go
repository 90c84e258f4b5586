package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"chatsync/internal/models"
)

// MessageEnvelope is the response of a direct message send: the created
// message plus the interaction it was routed into.
type MessageEnvelope struct {
	Message     models.Message     `json:"message"`
	Interaction models.Interaction `json:"interaction"`
}

type messagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// timelineResponse carries tagged items; each is decoded by its type tag.
type timelineResponse struct {
	Items []json.RawMessage `json:"items"`
}

type timelineItemTag struct {
	Type     string `json:"type"`
	ItemType string `json:"itemType"`
}

func (t timelineItemTag) kind() string {
	if t.Type != "" {
		return t.Type
	}
	return t.ItemType
}

type sendMessageBody struct {
	ToEntityID     string                 `json:"to_entity_id"`
	FromEntityID   string                 `json:"from_entity_id,omitempty"`
	Content        string                 `json:"content"`
	MessageType    models.MessageType     `json:"message_type"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

type sendTransactionBody struct {
	ToEntityID   string                 `json:"to_entity_id"`
	FromEntityID string                 `json:"from_entity_id,omitempty"`
	AmountMinor  int64                  `json:"amount_minor"`
	CurrencyCode string                 `json:"currency_code"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Error is a non-2xx response from the backend. The status class decides
// whether a failed send is retried or dropped.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error: status %d, body: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether the error is a 4xx response: the request
// will never succeed and must not be retried.
func IsClientError(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429
	}
	return false
}

// IsRetryable reports whether the failure is transient: network errors,
// timeouts, 5xx, and 429 responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsClientError(err)
}
