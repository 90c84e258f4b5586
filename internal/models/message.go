package models

import (
	"time"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

type MessageType string

const (
	TextMessage        MessageType = "text"
	ImageMessage       MessageType = "image"
	FileMessage        MessageType = "file"
	AudioMessage       MessageType = "audio"
	VideoMessage       MessageType = "video"
	LocationMessage    MessageType = "location"
	SystemMessage      MessageType = "system"
	TransactionMessage MessageType = "transaction"
)

// Recognized metadata keys. Metadata is an open map; anything else is
// carried through untouched.
const (
	MetaOptimisticID   = "optimistic_id"
	MetaIdempotencyKey = "idempotency_key"
	MetaIsOptimistic   = "is_optimistic"
	MetaSequenceNumber = "sequence_number"
)

// Message is a single chat message within an interaction. While a send is
// unconfirmed the ID is a client-generated placeholder (opt_msg_* prefix);
// the server-assigned ID replaces it during reconciliation.
type Message struct {
	ID             string                 `json:"id"`
	InteractionID  string                 `json:"interaction_id"`
	SenderEntityID string                 `json:"sender_entity_id"`
	Content        string                 `json:"content"`
	Type           MessageType            `json:"message_type"`
	Status         MessageStatus          `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// IsOptimistic reports whether the message is a locally created placeholder
// awaiting server confirmation.
func (m *Message) IsOptimistic() bool {
	return metadataBool(m.Metadata, MetaIsOptimistic)
}

// OptimisticID returns the correlation id linking an authoritative message
// back to the optimistic record it confirms, if present.
func (m *Message) OptimisticID() string {
	return metadataString(m.Metadata, MetaOptimisticID)
}

// IdempotencyKey returns the client-supplied idempotency key, if present.
func (m *Message) IdempotencyKey() string {
	return metadataString(m.Metadata, MetaIdempotencyKey)
}

// SetMeta sets a metadata key, allocating the map if needed.
func (m *Message) SetMeta(key string, value interface{}) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
}

func metadataString(md map[string]interface{}, key string) string {
	if md == nil {
		return ""
	}
	if v, ok := md[key].(string); ok {
		return v
	}
	return ""
}

func metadataBool(md map[string]interface{}, key string) bool {
	if md == nil {
		return false
	}
	if v, ok := md[key].(bool); ok {
		return v
	}
	return false
}
