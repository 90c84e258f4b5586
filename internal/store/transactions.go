package store

import (
	"context"
	"database/sql"
	"fmt"

	"chatsync/internal/models"
)

// SaveTransactions upserts a batch of transactions by id with the same
// batch semantics as SaveMessages: in-batch dedupe, per-row skip on error.
func (s *Store) SaveTransactions(ctx context.Context, transactions []models.Transaction) error {
	if err := s.available(); err != nil {
		return err
	}

	for _, txn := range dedupeTransactions(transactions) {
		if err := s.saveTransaction(ctx, txn); err != nil {
			s.logger.WithError(err).WithField("transaction_id", txn.ID).Warn("Skipping transaction that failed to save")
		}
	}
	return nil
}

func dedupeTransactions(transactions []models.Transaction) []models.Transaction {
	index := make(map[string]int, len(transactions))
	out := make([]models.Transaction, 0, len(transactions))
	for _, txn := range transactions {
		if i, seen := index[txn.ID]; seen {
			out[i] = txn
			continue
		}
		index[txn.ID] = len(out)
		out = append(out, txn)
	}
	return out
}

func (s *Store) saveTransaction(ctx context.Context, txn models.Transaction) error {
	metadata, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO transactions (id, interaction_id, from_entity_id, to_entity_id, amount_minor, currency_code, status, entry_type, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			interaction_id = excluded.interaction_id,
			from_entity_id = excluded.from_entity_id,
			to_entity_id = excluded.to_entity_id,
			amount_minor = excluded.amount_minor,
			currency_code = excluded.currency_code,
			status = excluded.status,
			entry_type = excluded.entry_type,
			created_at = excluded.created_at,
			metadata = excluded.metadata
	`

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			txn.ID, txn.InteractionID, txn.FromEntityID, txn.ToEntityID,
			txn.AmountMinor, txn.Currency, txn.Status, string(txn.EntryType),
			txn.CreatedAt.UTC(), metadata)
		return err
	}, "save transaction")
}

// GetTransactionsForInteraction returns up to limit transactions for the
// interaction, newest first. When perspectiveEntityID is non-empty,
// double-entry rows are filtered so the viewer only sees their side: credit
// rows belong to the paying entity, debit rows to the receiving entity, and
// rows without an entry type are visible to everyone.
func (s *Store) GetTransactionsForInteraction(ctx context.Context, interactionID string, limit int, perspectiveEntityID string) ([]models.Transaction, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := `
		SELECT id, interaction_id, from_entity_id, to_entity_id, amount_minor, currency_code, status, entry_type, created_at, metadata
		FROM transactions
		WHERE interaction_id = ?
	`
	args := []interface{}{interactionID}

	if perspectiveEntityID != "" {
		query += `
		AND (entry_type IS NULL OR entry_type = ''
			OR (entry_type = 'CREDIT' AND from_entity_id = ?)
			OR (entry_type = 'DEBIT' AND to_entity_id = ?))
		`
		args = append(args, perspectiveEntityID, perspectiveEntityID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	return transactions, rows.Err()
}

// GetTransactionByID returns the transaction with the given id, or nil when
// absent.
func (s *Store) GetTransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, interaction_id, from_entity_id, to_entity_id, amount_minor, currency_code, status, entry_type, created_at, metadata
		FROM transactions
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// UpdateTransactionStatus updates the status of a single transaction. An
// unknown id is a logged no-op, not an error.
func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error {
	if err := s.available(); err != nil {
		return err
	}

	var affected int64
	err := withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `UPDATE transactions SET status = ? WHERE id = ?`, status, id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	}, "update transaction status")
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}

	if affected == 0 {
		s.logger.WithFields(map[string]interface{}{
			"transaction_id": id,
			"status":         status,
		}).Warn("No transaction found for status update")
	}
	return nil
}

// DeleteTransaction removes a transaction row; used when an authoritative
// record supersedes an optimistic one.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	if err := s.available(); err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
		return err
	}, "delete transaction")
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var txn models.Transaction
	var metadata sql.NullString
	var entryType sql.NullString

	err := row.Scan(&txn.ID, &txn.InteractionID, &txn.FromEntityID, &txn.ToEntityID,
		&txn.AmountMinor, &txn.Currency, &txn.Status, &entryType, &txn.CreatedAt, &metadata)
	if err == sql.ErrNoRows {
		return txn, err
	}
	if err != nil {
		return txn, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if entryType.Valid {
		txn.EntryType = models.EntryType(entryType.String)
	}

	txn.Metadata, err = decodeMetadata(metadata)
	if err != nil {
		return txn, fmt.Errorf("failed to decode transaction metadata: %w", err)
	}
	return txn, nil
}
