package store

import (
	"context"
	"encoding/json"
	"fmt"

	"chatsync/internal/models"
)

// SaveInteraction upserts an interaction and its membership.
func (s *Store) SaveInteraction(ctx context.Context, interaction models.Interaction) error {
	if err := s.available(); err != nil {
		return err
	}

	participants, err := json.Marshal(interaction.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	query := `
		INSERT INTO interactions (id, participants, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET participants = excluded.participants
	`

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, interaction.ID, string(participants), interaction.CreatedAt.UTC())
		return err
	}, "save interaction")
}

// ListInteractions returns all known interactions.
func (s *Store) ListInteractions(ctx context.Context) ([]models.Interaction, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, participants, created_at FROM interactions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var interactions []models.Interaction
	for rows.Next() {
		var it models.Interaction
		var participants string
		if err := rows.Scan(&it.ID, &participants, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &it.Participants); err != nil {
			return nil, fmt.Errorf("failed to decode participants: %w", err)
		}
		interactions = append(interactions, it)
	}
	return interactions, rows.Err()
}

// CleanupOldRecords removes messages and transactions older than the
// retention window.
func (s *Store) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	if err := s.available(); err != nil {
		return err
	}

	for _, table := range []string{"messages", "transactions"} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < datetime('now', '-' || ? || ' days')`, table)
		if _, err := s.db.ExecContext(ctx, query, retentionDays); err != nil {
			return fmt.Errorf("failed to cleanup old records from %s: %w", table, err)
		}
	}
	return nil
}
