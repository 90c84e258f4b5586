package timeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

type MessageSource interface {
	GetMessagesForInteraction(ctx context.Context, interactionID string, limit int) ([]models.Message, error)
}

type TransactionSource interface {
	GetTransactionsForInteraction(ctx context.Context, interactionID string, limit int, perspectiveEntityID string) ([]models.Transaction, error)
}

// Engine produces the unified conversation feed: messages and transactions
// merged into one chronologically ordered sequence. The feed is a
// projection recomputed on every read, never stored.
type Engine struct {
	messages     MessageSource
	transactions TransactionSource
	logger       *logrus.Logger
	now          func() time.Time
}

func NewEngine(messages MessageSource, transactions TransactionSource, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		messages:     messages,
		transactions: transactions,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the engine's notion of the current time.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Feed returns the merged feed for an interaction, newest first, capped at
// limit. Transactions are perspective-filtered before the merge when
// perspectiveEntityID is given. If one side's fetch fails the engine
// degrades to the other side's items rather than failing the read.
func (e *Engine) Feed(ctx context.Context, interactionID string, limit int, perspectiveEntityID string) ([]models.TimelineItem, error) {
	if limit <= 0 {
		limit = constants.DefaultTimelineLimit
	}

	items := e.fetchMerged(ctx, interactionID, limit, perspectiveEntityID)
	sortDescending(items)

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Display returns the feed prepared for rendering: ascending order with
// synthetic date separators spliced in wherever the local calendar date
// changes between consecutive items.
func (e *Engine) Display(ctx context.Context, interactionID string, limit int, perspectiveEntityID string) ([]models.TimelineItem, error) {
	items, err := e.Feed(ctx, interactionID, limit, perspectiveEntityID)
	if err != nil {
		return nil, err
	}

	sortAscending(items)
	return insertDateSeparators(items, e.now()), nil
}

func (e *Engine) fetchMerged(ctx context.Context, interactionID string, limit int, perspectiveEntityID string) []models.TimelineItem {
	var (
		wg      sync.WaitGroup
		msgs    []models.Message
		txns    []models.Transaction
		msgErr  error
		txnErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		msgs, msgErr = e.messages.GetMessagesForInteraction(ctx, interactionID, limit)
	}()
	go func() {
		defer wg.Done()
		txns, txnErr = e.transactions.GetTransactionsForInteraction(ctx, interactionID, limit, perspectiveEntityID)
	}()
	wg.Wait()

	if msgErr != nil {
		e.logger.WithError(msgErr).WithField("interaction_id", interactionID).Warn("Message fetch failed, degrading to transactions only")
	}
	if txnErr != nil {
		e.logger.WithError(txnErr).WithField("interaction_id", interactionID).Warn("Transaction fetch failed, degrading to messages only")
	}

	// Messages first: at equal timestamps the tie-break keeps this order.
	items := make([]models.TimelineItem, 0, len(msgs)+len(txns))
	for _, m := range msgs {
		items = append(items, models.MessageItem(m))
	}
	for _, t := range txns {
		items = append(items, models.TransactionItem(t))
	}
	return items
}

// less orders two items ascending. Equal timestamps tie-break messages
// before transactions, then by id; deterministic but not an advertised
// contract.
func less(a, b models.TimelineItem) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if ra, rb := kindRank(a), kindRank(b); ra != rb {
		return ra < rb
	}
	return itemID(a) < itemID(b)
}

func kindRank(item models.TimelineItem) int {
	if item.Type == models.TimelineItemTransaction {
		return 1
	}
	return 0
}

func itemID(item models.TimelineItem) string {
	switch item.Type {
	case models.TimelineItemMessage:
		return item.Message.ID
	case models.TimelineItemTransaction:
		return item.Transaction.ID
	}
	return ""
}

func sortAscending(items []models.TimelineItem) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}

func sortDescending(items []models.TimelineItem) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[j], items[i]) })
}
