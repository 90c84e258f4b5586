package models

import "time"

// SendMessageRequest is a user-initiated message create.
type SendMessageRequest struct {
	ToEntityID     string      `json:"to_entity_id"`
	FromEntityID   string      `json:"from_entity_id,omitempty"`
	InteractionID  string      `json:"interaction_id,omitempty"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"message_type"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// SendTransactionRequest is a user-initiated transfer create. The
// idempotency key travels in metadata on the wire.
type SendTransactionRequest struct {
	ToEntityID     string `json:"to_entity_id"`
	FromEntityID   string `json:"from_entity_id,omitempty"`
	InteractionID  string `json:"interaction_id,omitempty"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency_code"`
	IdempotencyKey string `json:"idempotency_key"`
}

type QueueItemKind string

const (
	QueueItemMessage     QueueItemKind = "message"
	QueueItemTransaction QueueItemKind = "transaction"
)

// OutboundQueueItem is one buffered user write awaiting delivery. Items are
// persisted so the queue survives process restarts; exactly one of Message
// and Transaction is set according to Kind.
type OutboundQueueItem struct {
	ID            string                  `json:"id"`
	Kind          QueueItemKind           `json:"kind"`
	Message       *SendMessageRequest     `json:"message,omitempty"`
	Transaction   *SendTransactionRequest `json:"transaction,omitempty"`
	OptimisticID  string                  `json:"optimistic_id"`
	EnqueuedAt    time.Time               `json:"enqueued_at"`
	RetryCount    int                     `json:"retry_count"`
	LastAttemptAt *time.Time              `json:"last_attempt_at,omitempty"`
}
