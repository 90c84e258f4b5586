package models

import "time"

type TimelineItemType string

const (
	TimelineItemMessage       TimelineItemType = "message"
	TimelineItemTransaction   TimelineItemType = "transaction"
	TimelineItemDateSeparator TimelineItemType = "date_separator"
)

// TimelineItem is one entry of the unified conversation feed: a message, a
// transaction, or a synthetic date separator. Separators are generated at
// read time and never persisted.
type TimelineItem struct {
	Type        TimelineItemType `json:"type"`
	Timestamp   time.Time        `json:"timestamp"`
	Message     *Message         `json:"message,omitempty"`
	Transaction *Transaction     `json:"transaction,omitempty"`
	Label       string           `json:"label,omitempty"`
}

func MessageItem(m Message) TimelineItem {
	msg := m
	return TimelineItem{Type: TimelineItemMessage, Timestamp: m.CreatedAt, Message: &msg}
}

func TransactionItem(t Transaction) TimelineItem {
	txn := t
	return TimelineItem{Type: TimelineItemTransaction, Timestamp: t.CreatedAt, Transaction: &txn}
}

func DateSeparatorItem(ts time.Time, label string) TimelineItem {
	return TimelineItem{Type: TimelineItemDateSeparator, Timestamp: ts, Label: label}
}
