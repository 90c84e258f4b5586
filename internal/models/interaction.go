package models

import "time"

// Interaction is a conversation between entities; messages and transactions
// hang off it.
type Interaction struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// SyncStats describes the most recently completed sync cycle. It is
// overwritten wholesale each cycle and read-only to consumers.
type SyncStats struct {
	MessagesReceived int           `json:"messages_received"`
	MessagesSent     int           `json:"messages_sent"`
	SyncDuration     time.Duration `json:"sync_duration"`
	LastSyncTime     time.Time     `json:"last_sync_time"`
}
