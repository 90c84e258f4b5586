package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatsync/internal/models"
)

// SaveMessages upserts a batch of messages by id. Duplicate ids within the
// batch are collapsed before writing (later entries win). A failure on one
// row is logged and skipped so it cannot abort the rest of the batch.
func (s *Store) SaveMessages(ctx context.Context, messages []models.Message) error {
	if err := s.available(); err != nil {
		return err
	}

	for _, msg := range dedupeMessages(messages) {
		if err := s.saveMessage(ctx, msg); err != nil {
			s.logger.WithError(err).WithField("message_id", msg.ID).Warn("Skipping message that failed to save")
		}
	}
	return nil
}

func dedupeMessages(messages []models.Message) []models.Message {
	index := make(map[string]int, len(messages))
	out := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if i, seen := index[msg.ID]; seen {
			out[i] = msg
			continue
		}
		index[msg.ID] = len(out)
		out = append(out, msg)
	}
	return out
}

func (s *Store) saveMessage(ctx context.Context, msg models.Message) error {
	metadata, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO messages (id, interaction_id, sender_entity_id, content, message_type, status, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			interaction_id = excluded.interaction_id,
			sender_entity_id = excluded.sender_entity_id,
			content = excluded.content,
			message_type = excluded.message_type,
			status = excluded.status,
			created_at = excluded.created_at,
			metadata = excluded.metadata
	`

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, msg.InteractionID, msg.SenderEntityID, msg.Content,
			msg.Type, msg.Status, msg.CreatedAt.UTC(), metadata)
		return err
	}, "save message")
}

// GetMessagesForInteraction returns up to limit messages for the
// interaction, newest first.
func (s *Store) GetMessagesForInteraction(ctx context.Context, interactionID string, limit int) ([]models.Message, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := `
		SELECT id, interaction_id, sender_entity_id, content, message_type, status, created_at, metadata
		FROM messages
		WHERE interaction_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, interactionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetMessageByID returns the message with the given id, or nil when absent.
func (s *Store) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, interaction_id, sender_entity_id, content, message_type, status, created_at, metadata
		FROM messages
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessageStatus updates the status of a single message. An unknown id
// is a logged no-op, not an error.
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus) error {
	if err := s.available(); err != nil {
		return err
	}

	var affected int64
	err := withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, status, id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	}, "update message status")
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	if affected == 0 {
		s.logger.WithFields(map[string]interface{}{
			"message_id": id,
			"status":     status,
		}).Warn("No message found for status update")
	}
	return nil
}

// DeleteMessage removes a message row; used when an authoritative record
// supersedes an optimistic one.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if err := s.available(); err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
		return err
	}, "delete message")
}

// LatestMessageTimestamp returns the newest known message time for the
// interaction; ok is false when the interaction has no local messages.
func (s *Store) LatestMessageTimestamp(ctx context.Context, interactionID string) (time.Time, bool, error) {
	if err := s.available(); err != nil {
		return time.Time{}, false, err
	}

	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE interaction_id = ? ORDER BY created_at DESC LIMIT 1`,
		interactionID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest message timestamp: %w", err)
	}
	return ts, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var metadata sql.NullString

	err := row.Scan(&msg.ID, &msg.InteractionID, &msg.SenderEntityID,
		&msg.Content, &msg.Type, &msg.Status, &msg.CreatedAt, &metadata)
	if err == sql.ErrNoRows {
		return msg, err
	}
	if err != nil {
		return msg, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Metadata, err = decodeMetadata(metadata)
	if err != nil {
		return msg, fmt.Errorf("failed to decode message metadata: %w", err)
	}
	return msg, nil
}

const defaultQueryLimit = 100

func encodeMetadata(md map[string]interface{}) (sql.NullString, error) {
	if len(md) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeMetadata(raw sql.NullString) (map[string]interface{}, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var md map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &md); err != nil {
		return nil, err
	}
	return md, nil
}
