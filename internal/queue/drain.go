package queue

import (
	"context"
	"time"

	"chatsync/internal/models"
	"chatsync/pkg/api"
	"chatsync/pkg/circuitbreaker"
)

// Start loads the durable queue and begins the drain loop: a fixed-interval
// ticker plus an out-of-band drain on every genuine offline-to-online
// transition.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if m.stopCh == nil {
		m.stopCh = make(chan struct{})
	}
	m.running = true
	stopCh := m.stopCh
	m.mu.Unlock()

	items, err := m.store.LoadQueue(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Could not load durable outbound queue, starting empty")
	} else {
		m.mu.Lock()
		m.items = items
		m.mu.Unlock()
		if len(items) > 0 {
			m.logger.WithField("depth", len(items)).Info("Restored outbound queue from durable storage")
		}
	}

	// The oracle only fires this on a real offline-to-online transition,
	// so leaving explicit offline mode while disconnected cannot trigger
	// a drain.
	m.unsubscribe = m.oracle.OnOnline(func() {
		go m.Drain(ctx)
	})

	m.wg.Add(1)
	go m.drainLoop(ctx, stopCh)

	m.logger.WithField("interval", m.config.DrainInterval).Info("Outbound queue manager started")
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	m.running = false
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.wg.Wait()
	m.logger.Info("Outbound queue manager stopped")
}

func (m *Manager) drainLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.Drain(ctx)
		}
	}
}

// Drain attempts to flush every eligible buffered item. Items are only
// removed after a confirmed server acknowledgment, so a crash mid-drain
// re-sends rather than loses; idempotency keys absorb the duplicates.
func (m *Manager) Drain(ctx context.Context) {
	if !m.oracle.IsOnline() {
		return
	}

	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	m.mu.Lock()
	snapshot := make([]models.OutboundQueueItem, len(m.items))
	copy(snapshot, m.items)
	m.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	m.logger.WithField("depth", len(snapshot)).Debug("Draining outbound queue")

	for _, item := range snapshot {
		if m.breaker.CurrentState() == circuitbreaker.StateOpen {
			return
		}
		if !m.eligible(item) {
			continue
		}

		item.RetryCount++
		now := m.now()
		item.LastAttemptAt = &now

		err := m.attempt(ctx, item)
		switch {
		case err == nil:
			// Confirmation already flowed through the reconciler inside
			// attempt; just drop the buffered item.
			m.removeItem(ctx, item.ID)
		case api.IsClientError(err):
			m.logger.WithError(err).WithField("item_id", item.ID).Warn("Dropping permanently rejected queue item")
			m.removeItem(ctx, item.ID)
			m.markFailed(ctx, item)
		case circuitbreaker.IsOpen(err):
			// The sender was never invoked, so the item's retry state
			// stays untouched; the breaker admits probes after cooldown.
			return
		default:
			if item.RetryCount >= m.config.MaxAttempts {
				m.logger.WithError(err).WithFields(map[string]interface{}{
					"item_id":  item.ID,
					"attempts": item.RetryCount,
				}).Error("Evicting queue item after retry cap")
				m.removeItem(ctx, item.ID)
				m.markFailed(ctx, item)
			} else {
				m.logger.WithError(err).WithField("item_id", item.ID).Debug("Queue item attempt failed, will retry")
				m.updateItem(ctx, item)
			}
		}
	}
}

func (m *Manager) attempt(ctx context.Context, item models.OutboundQueueItem) error {
	return m.breaker.Execute(ctx, func(ctx context.Context) error {
		switch item.Kind {
		case models.QueueItemMessage:
			auth, err := m.sender.SendMessage(ctx, *item.Message, item.OptimisticID)
			if err != nil {
				return err
			}
			m.confirmMessage(ctx, *auth, item.OptimisticID, item.Message.IdempotencyKey)
			return nil
		case models.QueueItemTransaction:
			auth, err := m.sender.SendTransaction(ctx, *item.Transaction, item.OptimisticID)
			if err != nil {
				return err
			}
			m.confirmTransaction(ctx, *auth, item.OptimisticID, item.Transaction.IdempotencyKey)
			return nil
		default:
			m.logger.WithField("kind", item.Kind).Error("Unknown queue item kind")
			return nil
		}
	})
}

// eligible applies exponential backoff between attempts of one item.
func (m *Manager) eligible(item models.OutboundQueueItem) bool {
	if item.LastAttemptAt == nil {
		return true
	}
	return m.now().Sub(*item.LastAttemptAt) >= m.backoff.Delay(item.RetryCount)
}

func (m *Manager) markFailed(ctx context.Context, item models.OutboundQueueItem) {
	var err error
	switch item.Kind {
	case models.QueueItemMessage:
		err = m.store.UpdateMessageStatus(ctx, item.OptimisticID, models.MessageStatusFailed)
	case models.QueueItemTransaction:
		err = m.store.UpdateTransactionStatus(ctx, item.OptimisticID, models.TransactionStatusFailed)
	}
	if err != nil {
		m.logger.WithError(err).WithField("optimistic_id", item.OptimisticID).Debug("Could not mark evicted item failed")
	}
}

func (m *Manager) enqueue(ctx context.Context, item models.OutboundQueueItem) {
	m.mu.Lock()
	m.items = append(m.items, item)
	snapshot := make([]models.OutboundQueueItem, len(m.items))
	copy(snapshot, m.items)
	m.mu.Unlock()

	m.persist(ctx, snapshot)
}

func (m *Manager) removeItem(ctx context.Context, id string) {
	m.mu.Lock()
	kept := m.items[:0]
	for _, it := range m.items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	m.items = kept
	snapshot := make([]models.OutboundQueueItem, len(m.items))
	copy(snapshot, m.items)
	m.mu.Unlock()

	m.persist(ctx, snapshot)
}

func (m *Manager) updateItem(ctx context.Context, item models.OutboundQueueItem) {
	m.mu.Lock()
	for i := range m.items {
		if m.items[i].ID == item.ID {
			m.items[i] = item
			break
		}
	}
	snapshot := make([]models.OutboundQueueItem, len(m.items))
	copy(snapshot, m.items)
	m.mu.Unlock()

	m.persist(ctx, snapshot)
}

func (m *Manager) persist(ctx context.Context, snapshot []models.OutboundQueueItem) {
	if err := m.store.ReplaceQueue(ctx, snapshot); err != nil {
		m.logger.WithError(err).Warn("Could not persist outbound queue")
	}
}
