package models

import (
	"encoding/json"
	"time"
)

// Push channel event types. Events arriving over the push channel follow
// the same reconciliation path as HTTP-fetched deltas.
const (
	EventNewMessage        = "new_message"
	EventTransactionUpdate = "transaction_update"
)

// PushEvent is the tagged wire envelope for push channel frames. Data is
// decoded into the typed payload for the event type at the boundary.
type PushEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TransactionUpdateEvent announces a server-side status change of a
// transaction. Amount and currency are only present on some transitions.
type TransactionUpdateEvent struct {
	TransactionID string            `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	AmountMinor   *int64            `json:"amount_minor,omitempty"`
	CurrencyCode  string            `json:"currency_code,omitempty"`
}
