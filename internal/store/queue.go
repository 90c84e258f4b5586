package store

import (
	"context"
	"encoding/json"
	"fmt"

	"chatsync/internal/models"
)

// LoadQueue reads the durable outbound queue in enqueue order.
func (s *Store) LoadQueue(ctx context.Context) ([]models.OutboundQueueItem, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT item FROM outbound_queue ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load outbound queue: %w", err)
	}
	defer rows.Close()

	var items []models.OutboundQueueItem
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		var item models.OutboundQueueItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			s.logger.WithError(err).Warn("Dropping undecodable outbound queue item")
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ReplaceQueue rewrites the durable outbound queue wholesale inside one
// transaction. Called after every enqueue/dequeue so the queue survives
// process restarts.
func (s *Store) ReplaceQueue(ctx context.Context, items []models.OutboundQueueItem) error {
	if err := s.available(); err != nil {
		return err
	}

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if _, err := tx.ExecContext(ctx, `DELETE FROM outbound_queue`); err != nil {
			return err
		}

		for i, item := range items {
			raw, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("failed to encode queue item %s: %w", item.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO outbound_queue (id, position, item, enqueued_at) VALUES (?, ?, ?, ?)`,
				item.ID, i, string(raw), item.EnqueuedAt.UTC()); err != nil {
				return err
			}
		}

		return tx.Commit()
	}, "replace outbound queue")
}
