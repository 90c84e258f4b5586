package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/models"
	"chatsync/internal/reconcile"
	"chatsync/internal/retry"
	"chatsync/pkg/api"
	"chatsync/pkg/circuitbreaker"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Store interface {
	LoadQueue(ctx context.Context) ([]models.OutboundQueueItem, error)
	ReplaceQueue(ctx context.Context, items []models.OutboundQueueItem) error
	SaveMessages(ctx context.Context, messages []models.Message) error
	SaveTransactions(ctx context.Context, transactions []models.Transaction) error
	UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus) error
	UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error
}

type Sender interface {
	SendMessage(ctx context.Context, req models.SendMessageRequest, optimisticID string) (*models.Message, error)
	SendTransaction(ctx context.Context, req models.SendTransactionRequest, optimisticID string) (*models.Transaction, error)
}

type Network interface {
	IsOnline() bool
	OnOnline(fn func()) func()
}

type Reconciler interface {
	ApplyMessage(ctx context.Context, msg models.Message) error
	ApplyTransaction(ctx context.Context, txn models.Transaction) error
	RegisterOptimistic(optimisticID string, previous, speculative interface{})
}

// Config tunes the queue manager. Zero values fall back to defaults.
type Config struct {
	DrainInterval time.Duration
	MaxAttempts   int
	DedupWindow   time.Duration
}

func (c *Config) applyDefaults() {
	if c.DrainInterval <= 0 {
		c.DrainInterval = time.Duration(constants.DefaultQueueDrainIntervalSec) * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Duration(constants.DefaultDedupWindowSec) * time.Second
	}
}

// Manager guarantees at-least-once delivery of user-initiated writes under
// unreliable connectivity. Offline sends are buffered durably; online sends
// are awaited so the caller gets the authoritative record promptly.
type Manager struct {
	store      Store
	sender     Sender
	oracle     Network
	reconciler Reconciler
	breaker    *circuitbreaker.CircuitBreaker
	backoff    *retry.Backoff
	config     Config
	logger     *logrus.Logger
	entityID   string
	now        func() time.Time
	onSent     func(count int)

	mu          sync.Mutex
	items       []models.OutboundQueueItem
	recentSends map[string]time.Time

	drainMu     sync.Mutex
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()
}

func NewManager(store Store, sender Sender, oracle Network, reconciler Reconciler, entityID string, config Config, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	config.applyDefaults()

	return &Manager{
		store:      store,
		sender:     sender,
		oracle:     oracle,
		reconciler: reconciler,
		breaker: circuitbreaker.New("outbound-send",
			constants.DefaultBreakerMaxFailures,
			time.Duration(constants.DefaultBreakerCooldownSec)*time.Second,
			logger),
		backoff:     retry.NewBackoff(retry.DefaultBackoffConfig()),
		config:      config,
		logger:      logger,
		entityID:    entityID,
		now:         time.Now,
		recentSends: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
	}
}

// SetClock overrides the manager's notion of the current time.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// OnSent registers a counter hook invoked after confirmed deliveries.
func (m *Manager) OnSent(fn func(count int)) {
	m.onSent = fn
}

// SendMessage delivers a user message. Returns (nil, nil) when the send is
// a double-tap duplicate inside the dedup window; otherwise returns the
// authoritative record (online success) or the optimistic placeholder
// (offline or transient failure, buffered for retry).
func (m *Manager) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if req.FromEntityID == "" {
		req.FromEntityID = m.entityID
	}

	dedupKey := strings.Join([]string{"msg", req.ToEntityID, req.InteractionID, req.Content}, "|")
	if m.isDuplicate(dedupKey) {
		m.logger.WithField("to_entity_id", req.ToEntityID).Debug("Rejecting duplicate message send inside dedup window")
		return nil, nil
	}

	optimistic := reconcile.NewOptimisticMessage(req, req.FromEntityID, m.now())
	m.reconciler.RegisterOptimistic(optimistic.ID, nil, optimistic)

	if !m.oracle.IsOnline() {
		m.saveOptimisticMessage(ctx, optimistic)
		m.enqueue(ctx, models.OutboundQueueItem{
			ID:           uuid.NewString(),
			Kind:         models.QueueItemMessage,
			Message:      &req,
			OptimisticID: optimistic.ID,
			EnqueuedAt:   m.now(),
		})
		return &optimistic, nil
	}

	optimistic.Status = models.MessageStatusSending
	m.saveOptimisticMessage(ctx, optimistic)

	var auth *models.Message
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		sent, err := m.sender.SendMessage(ctx, req, optimistic.ID)
		if err != nil {
			return err
		}
		auth = sent
		return nil
	})

	if err == nil {
		confirmed := m.confirmMessage(ctx, *auth, optimistic.ID, req.IdempotencyKey)
		return &confirmed, nil
	}

	if api.IsClientError(err) {
		// Validation failures will never succeed; drop, do not queue.
		if updateErr := m.store.UpdateMessageStatus(ctx, optimistic.ID, models.MessageStatusFailed); updateErr != nil {
			m.logger.WithError(updateErr).Warn("Could not mark rejected message failed")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodePermanentRequest, "message rejected by server")
	}

	m.logger.WithError(err).Debug("Direct send failed, buffering for retry")
	if updateErr := m.store.UpdateMessageStatus(ctx, optimistic.ID, models.MessageStatusPending); updateErr != nil {
		m.logger.WithError(updateErr).Debug("Could not reset optimistic message to pending")
	}
	m.enqueue(ctx, models.OutboundQueueItem{
		ID:           uuid.NewString(),
		Kind:         models.QueueItemMessage,
		Message:      &req,
		OptimisticID: optimistic.ID,
		EnqueuedAt:   m.now(),
	})
	return &optimistic, nil
}

// SendTransaction delivers a user transfer with the same contract as
// SendMessage.
func (m *Manager) SendTransaction(ctx context.Context, req models.SendTransactionRequest) (*models.Transaction, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if req.FromEntityID == "" {
		req.FromEntityID = m.entityID
	}
	if req.AmountMinor < 0 {
		return nil, apperrors.New(apperrors.ErrCodePermanentRequest, "transaction amount must be non-negative")
	}

	dedupKey := strings.Join([]string{"txn", req.ToEntityID, fmt.Sprintf("%d", req.AmountMinor), req.Currency}, "|")
	if m.isDuplicate(dedupKey) {
		m.logger.WithField("to_entity_id", req.ToEntityID).Debug("Rejecting duplicate transaction send inside dedup window")
		return nil, nil
	}

	optimistic := reconcile.NewOptimisticTransaction(req, m.now())
	m.reconciler.RegisterOptimistic(optimistic.ID, nil, optimistic)

	if !m.oracle.IsOnline() {
		m.saveOptimisticTransaction(ctx, optimistic)
		m.enqueue(ctx, models.OutboundQueueItem{
			ID:           uuid.NewString(),
			Kind:         models.QueueItemTransaction,
			Transaction:  &req,
			OptimisticID: optimistic.ID,
			EnqueuedAt:   m.now(),
		})
		return &optimistic, nil
	}

	optimistic.Status = models.TransactionStatusProcessing
	m.saveOptimisticTransaction(ctx, optimistic)

	var auth *models.Transaction
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		sent, err := m.sender.SendTransaction(ctx, req, optimistic.ID)
		if err != nil {
			return err
		}
		auth = sent
		return nil
	})

	if err == nil {
		confirmed := m.confirmTransaction(ctx, *auth, optimistic.ID, req.IdempotencyKey)
		return &confirmed, nil
	}

	if api.IsClientError(err) {
		if updateErr := m.store.UpdateTransactionStatus(ctx, optimistic.ID, models.TransactionStatusFailed); updateErr != nil {
			m.logger.WithError(updateErr).Warn("Could not mark rejected transaction failed")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodePermanentRequest, "transaction rejected by server")
	}

	m.logger.WithError(err).Debug("Direct send failed, buffering for retry")
	if updateErr := m.store.UpdateTransactionStatus(ctx, optimistic.ID, models.TransactionStatusPending); updateErr != nil {
		m.logger.WithError(updateErr).Debug("Could not reset optimistic transaction to pending")
	}
	m.enqueue(ctx, models.OutboundQueueItem{
		ID:           uuid.NewString(),
		Kind:         models.QueueItemTransaction,
		Transaction:  &req,
		OptimisticID: optimistic.ID,
		EnqueuedAt:   m.now(),
	})
	return &optimistic, nil
}

// Depth returns the number of buffered items.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Manager) confirmMessage(ctx context.Context, auth models.Message, optimisticID, idempotencyKey string) models.Message {
	// Guarantee correlation even when the server omits the echo.
	auth.SetMeta(models.MetaOptimisticID, optimisticID)
	auth.SetMeta(models.MetaIdempotencyKey, idempotencyKey)
	auth.SetMeta(models.MetaIsOptimistic, false)
	if auth.Status == "" || auth.Status == models.MessageStatusPending {
		auth.Status = models.MessageStatusSent
	}

	if err := m.reconciler.ApplyMessage(ctx, auth); err != nil {
		m.logger.WithError(err).WithField("message_id", auth.ID).Error("Failed to reconcile confirmed message")
	}
	m.noteSent(1)
	return auth
}

func (m *Manager) confirmTransaction(ctx context.Context, auth models.Transaction, optimisticID, idempotencyKey string) models.Transaction {
	auth.SetMeta(models.MetaOptimisticID, optimisticID)
	auth.SetMeta(models.MetaIdempotencyKey, idempotencyKey)
	auth.SetMeta(models.MetaIsOptimistic, false)

	if err := m.reconciler.ApplyTransaction(ctx, auth); err != nil {
		m.logger.WithError(err).WithField("transaction_id", auth.ID).Error("Failed to reconcile confirmed transaction")
	}
	m.noteSent(1)
	return auth
}

func (m *Manager) saveOptimisticMessage(ctx context.Context, msg models.Message) {
	if err := m.store.SaveMessages(ctx, []models.Message{msg}); err != nil {
		m.logger.WithError(err).Debug("Could not persist optimistic message, continuing network-only")
	}
}

func (m *Manager) saveOptimisticTransaction(ctx context.Context, txn models.Transaction) {
	if err := m.store.SaveTransactions(ctx, []models.Transaction{txn}); err != nil {
		m.logger.WithError(err).Debug("Could not persist optimistic transaction, continuing network-only")
	}
}

// isDuplicate guards against double-tap submission, not legitimate retries:
// an identical logical send inside the trailing window is rejected.
func (m *Manager) isDuplicate(key string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, seen := m.recentSends[key]; seen && now.Sub(last) < m.config.DedupWindow {
		return true
	}
	m.recentSends[key] = now

	for k, t := range m.recentSends {
		if now.Sub(t) >= m.config.DedupWindow {
			delete(m.recentSends, k)
		}
	}
	return false
}

func (m *Manager) noteSent(count int) {
	if m.onSent != nil {
		m.onSent(count)
	}
}
