package reconcile

import (
	"sync"
	"time"

	"chatsync/internal/models"

	"github.com/google/uuid"
)

const (
	optimisticMessagePrefix     = "opt_msg_"
	optimisticTransactionPrefix = "opt_txn_"
)

// NewOptimisticMessage builds the locally visible placeholder for a message
// send whose server confirmation is still pending. The record id doubles as
// the correlation id the server echoes back.
func NewOptimisticMessage(req models.SendMessageRequest, senderEntityID string, now time.Time) models.Message {
	id := optimisticMessagePrefix + uuid.NewString()
	msgType := req.MessageType
	if msgType == "" {
		msgType = models.TextMessage
	}

	msg := models.Message{
		ID:             id,
		InteractionID:  req.InteractionID,
		SenderEntityID: senderEntityID,
		Content:        req.Content,
		Type:           msgType,
		Status:         models.MessageStatusPending,
		CreatedAt:      now,
	}
	msg.SetMeta(models.MetaOptimisticID, id)
	msg.SetMeta(models.MetaIdempotencyKey, req.IdempotencyKey)
	msg.SetMeta(models.MetaIsOptimistic, true)
	return msg
}

// NewOptimisticTransaction builds the placeholder for a pending transfer.
func NewOptimisticTransaction(req models.SendTransactionRequest, now time.Time) models.Transaction {
	id := optimisticTransactionPrefix + uuid.NewString()

	txn := models.Transaction{
		ID:            id,
		InteractionID: req.InteractionID,
		FromEntityID:  req.FromEntityID,
		ToEntityID:    req.ToEntityID,
		AmountMinor:   req.AmountMinor,
		Currency:      req.Currency,
		Status:        models.TransactionStatusPending,
		CreatedAt:     now,
	}
	txn.SetMeta(models.MetaOptimisticID, id)
	txn.SetMeta(models.MetaIdempotencyKey, req.IdempotencyKey)
	txn.SetMeta(models.MetaIsOptimistic, true)
	return txn
}

type contextEntry struct {
	Previous    interface{}
	Speculative interface{}
	CreatedAt   time.Time
}

// optimisticContext maps optimistic ids to their before/after values so a
// failed send can roll back. In-memory only; rebuilt empty on cold start.
type optimisticContext struct {
	mu      sync.Mutex
	entries map[string]contextEntry
	ttl     time.Duration
}

func newOptimisticContext(ttl time.Duration) *optimisticContext {
	return &optimisticContext{
		entries: make(map[string]contextEntry),
		ttl:     ttl,
	}
}

func (c *optimisticContext) register(optimisticID string, previous, speculative interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[optimisticID] = contextEntry{
		Previous:    previous,
		Speculative: speculative,
		CreatedAt:   time.Now(),
	}
}

func (c *optimisticContext) confirm(optimisticID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, optimisticID)
}

func (c *optimisticContext) rollback(optimisticID string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[optimisticID]
	if !ok {
		return nil, false
	}
	delete(c.entries, optimisticID)
	return entry.Previous, true
}

// sweep drops entries older than the TTL to bound memory.
func (c *optimisticContext) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *optimisticContext) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
