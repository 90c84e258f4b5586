package reconcile

import (
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/models"
)

// Matching strategies are pure functions tried in strict priority order:
// explicit correlation id, then idempotency key, then content+time
// heuristic. Later strategies exist to catch cases the earlier ones miss
// under network races, so the order must not change.

type messageStrategy func(auth models.Message, candidates []models.Message) (string, bool)

func messageStrategies() []messageStrategy {
	return []messageStrategy{
		matchMessageByCorrelationID,
		matchMessageByIdempotencyKey,
		matchMessageByContentHeuristic,
	}
}

func matchMessageByCorrelationID(auth models.Message, candidates []models.Message) (string, bool) {
	correlationID := auth.OptimisticID()
	if correlationID == "" {
		return "", false
	}
	for _, c := range candidates {
		if c.ID == correlationID && c.IsOptimistic() {
			return c.ID, true
		}
	}
	return "", false
}

func matchMessageByIdempotencyKey(auth models.Message, candidates []models.Message) (string, bool) {
	key := auth.IdempotencyKey()
	if key == "" {
		return "", false
	}
	for _, c := range candidates {
		if c.IsOptimistic() && c.IdempotencyKey() == key {
			return c.ID, true
		}
	}
	return "", false
}

func matchMessageByContentHeuristic(auth models.Message, candidates []models.Message) (string, bool) {
	window := time.Duration(constants.DefaultHeuristicWindowSec) * time.Second
	for _, c := range candidates {
		if !c.IsOptimistic() {
			continue
		}
		if c.SenderEntityID != auth.SenderEntityID || c.Content != auth.Content {
			continue
		}
		if absDuration(auth.CreatedAt.Sub(c.CreatedAt)) <= window {
			return c.ID, true
		}
	}
	return "", false
}

type transactionStrategy func(auth models.Transaction, candidates []models.Transaction) (string, bool)

func transactionStrategies() []transactionStrategy {
	return []transactionStrategy{
		matchTransactionByCorrelationID,
		matchTransactionByIdempotencyKey,
		matchTransactionByContentHeuristic,
	}
}

func matchTransactionByCorrelationID(auth models.Transaction, candidates []models.Transaction) (string, bool) {
	correlationID := auth.OptimisticID()
	if correlationID == "" {
		return "", false
	}
	for _, c := range candidates {
		if c.ID == correlationID && c.IsOptimistic() {
			return c.ID, true
		}
	}
	return "", false
}

func matchTransactionByIdempotencyKey(auth models.Transaction, candidates []models.Transaction) (string, bool) {
	key := auth.IdempotencyKey()
	if key == "" {
		return "", false
	}
	for _, c := range candidates {
		if c.IsOptimistic() && c.IdempotencyKey() == key {
			return c.ID, true
		}
	}
	return "", false
}

func matchTransactionByContentHeuristic(auth models.Transaction, candidates []models.Transaction) (string, bool) {
	window := time.Duration(constants.DefaultHeuristicWindowSec) * time.Second
	for _, c := range candidates {
		if !c.IsOptimistic() {
			continue
		}
		if c.FromEntityID != auth.FromEntityID || c.ToEntityID != auth.ToEntityID {
			continue
		}
		if c.AmountMinor != auth.AmountMinor || c.Currency != auth.Currency {
			continue
		}
		if absDuration(auth.CreatedAt.Sub(c.CreatedAt)) <= window {
			return c.ID, true
		}
	}
	return "", false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
