package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

type Store interface {
	SaveMessages(ctx context.Context, messages []models.Message) error
	GetMessagesForInteraction(ctx context.Context, interactionID string, limit int) ([]models.Message, error)
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	SaveTransactions(ctx context.Context, transactions []models.Transaction) error
	GetTransactionsForInteraction(ctx context.Context, interactionID string, limit int, perspectiveEntityID string) ([]models.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*models.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error
}

// processedCap bounds the in-memory dedup set; the store's upsert-by-id is
// the backstop once it resets.
const processedCap = 8192

// Reconciler retires optimistic records when their authoritative
// counterparts arrive, whether over a direct send response, the push
// channel, or a sync pull. All three paths funnel into Apply*.
type Reconciler struct {
	store  Store
	logger *logrus.Logger

	msgStrategies []messageStrategy
	txnStrategies []transactionStrategy

	contexts *optimisticContext

	mu             sync.Mutex
	processed      map[string]struct{}
	onSubstitution func(interactionID string)

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewReconciler(store Store, logger *logrus.Logger) *Reconciler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reconciler{
		store:         store,
		logger:        logger,
		msgStrategies: messageStrategies(),
		txnStrategies: transactionStrategies(),
		contexts:      newOptimisticContext(time.Duration(constants.DefaultOptimisticContextTTLMin) * time.Minute),
		processed:     make(map[string]struct{}),
		stopCh:        make(chan struct{}),
	}
}

// OnSubstitution registers the hook fired after every substitution so list
// views can recompute their conversation previews.
func (r *Reconciler) OnSubstitution(fn func(interactionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSubstitution = fn
}

// RegisterOptimistic records the before/after pair for a speculative update
// so a failed send can be rolled back.
func (r *Reconciler) RegisterOptimistic(optimisticID string, previous, speculative interface{}) {
	r.contexts.register(optimisticID, previous, speculative)
}

// Rollback drops the speculative value for an optimistic id and returns the
// previous one, if the context is still held.
func (r *Reconciler) Rollback(optimisticID string) (interface{}, bool) {
	return r.contexts.rollback(optimisticID)
}

// ApplyMessage reconciles an authoritative message against local state
// using the strategy priority chain, falling back to last-writer-wins on an
// id collision and finally to insert-as-new. Favoring insertion over
// dropping means ambiguity can show a duplicate but never lose a message.
func (r *Reconciler) ApplyMessage(ctx context.Context, auth models.Message) error {
	key := "msg:" + auth.ID
	if r.alreadyProcessed(key) {
		return nil
	}
	if err := r.applyMessage(ctx, auth); err != nil {
		// Leave the id eligible so a redelivery can complete the
		// substitution instead of being swallowed as a duplicate.
		r.forgetProcessed(key)
		return err
	}
	return nil
}

func (r *Reconciler) applyMessage(ctx context.Context, auth models.Message) error {
	auth.SetMeta(models.MetaIsOptimistic, false)

	candidates, err := r.store.GetMessagesForInteraction(ctx, auth.InteractionID, constants.DefaultMatchCandidateLimit)
	if err != nil {
		r.logger.WithError(err).WithField("interaction_id", auth.InteractionID).Warn("Could not load match candidates, inserting as new")
	}

	for _, strategy := range r.msgStrategies {
		matchedID, ok := strategy(auth, candidates)
		if !ok {
			continue
		}
		return r.substituteMessage(ctx, matchedID, auth)
	}

	existing, err := r.store.GetMessageByID(ctx, auth.ID)
	if err != nil {
		r.logger.WithError(err).WithField("message_id", auth.ID).Warn("Could not check for id collision")
	}
	if existing != nil {
		if !existing.IsOptimistic() && existing.CreatedAt.After(auth.CreatedAt) {
			// Last writer wins between two authoritative copies.
			return nil
		}
		// Authoritative always beats optimistic regardless of timestamp.
	}

	if err := r.store.SaveMessages(ctx, []models.Message{auth}); err != nil {
		return fmt.Errorf("failed to insert authoritative message: %w", err)
	}
	return nil
}

func (r *Reconciler) substituteMessage(ctx context.Context, optimisticID string, auth models.Message) error {
	if optimisticID != auth.ID {
		if err := r.store.DeleteMessage(ctx, optimisticID); err != nil {
			return fmt.Errorf("failed to remove optimistic message %s: %w", optimisticID, err)
		}
	}
	if err := r.store.SaveMessages(ctx, []models.Message{auth}); err != nil {
		return fmt.Errorf("failed to save authoritative message: %w", err)
	}

	r.contexts.confirm(optimisticID)
	r.logger.WithFields(logrus.Fields{
		"optimistic_id": optimisticID,
		"message_id":    auth.ID,
	}).Debug("Optimistic message substituted")

	r.notifySubstitution(auth.InteractionID)
	return nil
}

// ApplyTransaction reconciles an authoritative transaction with the same
// priority chain as messages.
func (r *Reconciler) ApplyTransaction(ctx context.Context, auth models.Transaction) error {
	key := "txn:" + auth.ID
	if r.alreadyProcessed(key) {
		return nil
	}
	if err := r.applyTransaction(ctx, auth); err != nil {
		r.forgetProcessed(key)
		return err
	}
	return nil
}

func (r *Reconciler) applyTransaction(ctx context.Context, auth models.Transaction) error {
	auth.SetMeta(models.MetaIsOptimistic, false)

	candidates, err := r.store.GetTransactionsForInteraction(ctx, auth.InteractionID, constants.DefaultMatchCandidateLimit, "")
	if err != nil {
		r.logger.WithError(err).WithField("interaction_id", auth.InteractionID).Warn("Could not load match candidates, inserting as new")
	}

	for _, strategy := range r.txnStrategies {
		matchedID, ok := strategy(auth, candidates)
		if !ok {
			continue
		}
		return r.substituteTransaction(ctx, matchedID, auth)
	}

	existing, err := r.store.GetTransactionByID(ctx, auth.ID)
	if err != nil {
		r.logger.WithError(err).WithField("transaction_id", auth.ID).Warn("Could not check for id collision")
	}
	if existing != nil {
		if !existing.IsOptimistic() && existing.CreatedAt.After(auth.CreatedAt) {
			return nil
		}
	}

	if err := r.store.SaveTransactions(ctx, []models.Transaction{auth}); err != nil {
		return fmt.Errorf("failed to insert authoritative transaction: %w", err)
	}
	return nil
}

func (r *Reconciler) substituteTransaction(ctx context.Context, optimisticID string, auth models.Transaction) error {
	if optimisticID != auth.ID {
		if err := r.store.DeleteTransaction(ctx, optimisticID); err != nil {
			return fmt.Errorf("failed to remove optimistic transaction %s: %w", optimisticID, err)
		}
	}
	if err := r.store.SaveTransactions(ctx, []models.Transaction{auth}); err != nil {
		return fmt.Errorf("failed to save authoritative transaction: %w", err)
	}

	r.contexts.confirm(optimisticID)
	r.logger.WithFields(logrus.Fields{
		"optimistic_id":  optimisticID,
		"transaction_id": auth.ID,
	}).Debug("Optimistic transaction substituted")

	r.notifySubstitution(auth.InteractionID)
	return nil
}

// ApplyTransactionUpdate handles a server-side status change announcement.
// Updates for transactions the client has never seen are logged and
// skipped; status updates may legitimately repeat so they bypass the
// processed set.
func (r *Reconciler) ApplyTransactionUpdate(ctx context.Context, ev models.TransactionUpdateEvent) error {
	existing, err := r.store.GetTransactionByID(ctx, ev.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to look up transaction %s: %w", ev.TransactionID, err)
	}
	if existing == nil {
		r.logger.WithField("transaction_id", ev.TransactionID).Warn("Status update for unknown transaction")
		return nil
	}

	if err := r.store.UpdateTransactionStatus(ctx, ev.TransactionID, ev.Status); err != nil {
		return fmt.Errorf("failed to apply transaction update: %w", err)
	}

	r.notifySubstitution(existing.InteractionID)
	return nil
}

func (r *Reconciler) alreadyProcessed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.processed[key]; seen {
		return true
	}
	if len(r.processed) >= processedCap {
		r.processed = make(map[string]struct{})
	}
	r.processed[key] = struct{}{}
	return false
}

func (r *Reconciler) forgetProcessed(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processed, key)
}

func (r *Reconciler) notifySubstitution(interactionID string) {
	r.mu.Lock()
	fn := r.onSubstitution
	r.mu.Unlock()
	if fn != nil {
		fn(interactionID)
	}
}

// Start begins the periodic sweep that bounds the optimistic context map.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	if r.stopCh == nil {
		r.stopCh = make(chan struct{})
	}
	r.running = true
	stopCh := r.stopCh
	r.mu.Unlock()

	r.wg.Add(1)
	go r.sweepLoop(ctx, stopCh)
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Reconciler) sweepLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Duration(constants.DefaultOptimisticSweepSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if removed := r.contexts.sweep(time.Now()); removed > 0 {
				r.logger.WithField("removed", removed).Debug("Swept expired optimistic contexts")
			}
		}
	}
}
