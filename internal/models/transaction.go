package models

import "time"

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
	TransactionStatusReversed   TransactionStatus = "reversed"
)

// EntryType identifies which side of a double-entry pair a transaction row
// represents. Legacy and system rows carry no entry type.
type EntryType string

const (
	EntryTypeCredit EntryType = "CREDIT"
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeNone   EntryType = ""
)

// Transaction is a financial transfer surfaced in an interaction timeline.
// Amounts are stored in minor units (cents) of the given currency.
type Transaction struct {
	ID            string                 `json:"id"`
	InteractionID string                 `json:"interaction_id"`
	FromEntityID  string                 `json:"from_entity_id"`
	ToEntityID    string                 `json:"to_entity_id"`
	AmountMinor   int64                  `json:"amount_minor"`
	Currency      string                 `json:"currency_code"`
	Status        TransactionStatus      `json:"status"`
	EntryType     EntryType              `json:"entry_type,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func (t *Transaction) IsOptimistic() bool {
	return metadataBool(t.Metadata, MetaIsOptimistic)
}

func (t *Transaction) OptimisticID() string {
	return metadataString(t.Metadata, MetaOptimisticID)
}

func (t *Transaction) IdempotencyKey() string {
	return metadataString(t.Metadata, MetaIdempotencyKey)
}

func (t *Transaction) SetMeta(key string, value interface{}) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]interface{})
	}
	t.Metadata[key] = value
}

// VisibleTo reports whether the row should be shown to the given viewer
// under double-entry perspective filtering: credit rows belong to the
// paying entity, debit rows to the receiving entity, and rows without an
// entry type are visible to everyone.
func (t *Transaction) VisibleTo(viewerEntityID string) bool {
	switch t.EntryType {
	case EntryTypeCredit:
		return t.FromEntityID == viewerEntityID
	case EntryTypeDebit:
		return t.ToEntityID == viewerEntityID
	default:
		return true
	}
}
