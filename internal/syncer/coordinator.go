package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

// Store is the subset of the local store the coordinator reads to decide
// what to fetch.
type Store interface {
	ListInteractions(ctx context.Context) ([]models.Interaction, error)
	LatestMessageTimestamp(ctx context.Context, interactionID string) (time.Time, bool, error)
}

// Fetcher pulls authoritative messages from the backend.
type Fetcher interface {
	GetMessagesSince(ctx context.Context, interactionID string, since time.Time) ([]models.Message, error)
}

// Reconciler folds fetched records into local state.
type Reconciler interface {
	ApplyMessage(ctx context.Context, msg models.Message) error
}

type Network interface {
	IsOnline() bool
	OnOnline(fn func()) func()
}

// Config tunes the coordinator. Zero values fall back to defaults.
type Config struct {
	Interval      time.Duration
	HealthyWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Duration(constants.DefaultSyncIntervalSec) * time.Second
	}
	if c.HealthyWindow <= 0 {
		c.HealthyWindow = time.Duration(constants.DefaultHealthyWindowMin) * time.Minute
	}
}

// Coordinator runs periodic delta syncs against the backend. At most one
// cycle runs at a time: concurrent requests observe the previous cycle's
// stats instead of piling up fetches.
type Coordinator struct {
	store      Store
	fetcher    Fetcher
	reconciler Reconciler
	oracle     Network
	config     Config
	logger     *logrus.Logger
	now        func() time.Time

	cycleMu sync.Mutex

	mu       sync.Mutex
	stats    models.SyncStats
	sent     int
	lastSync time.Time

	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()
}

func NewCoordinator(store Store, fetcher Fetcher, reconciler Reconciler, oracle Network, config Config, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	config.applyDefaults()

	return &Coordinator{
		store:      store,
		fetcher:    fetcher,
		reconciler: reconciler,
		oracle:     oracle,
		config:     config,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// SetClock overrides the coordinator's notion of the current time.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// NoteSent feeds confirmed outbound deliveries into the next cycle's stats.
func (c *Coordinator) NoteSent(count int) {
	c.mu.Lock()
	c.sent += count
	c.mu.Unlock()
}

// Start begins the periodic sync loop and subscribes to reconnect events.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if c.stopCh == nil {
		c.stopCh = make(chan struct{})
	}
	c.running = true
	stopCh := c.stopCh
	c.mu.Unlock()

	c.unsubscribe = c.oracle.OnOnline(func() {
		go func() {
			if _, err := c.SyncMessages(ctx); err != nil {
				c.logger.WithError(err).Warn("Reconnect sync failed")
			}
		}()
	})

	c.wg.Add(1)
	go c.syncLoop(ctx, stopCh)

	c.logger.WithField("interval", c.config.Interval).Info("Sync coordinator started")
	return nil
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.running = false
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.wg.Wait()
	c.logger.Info("Sync coordinator stopped")
}

func (c *Coordinator) syncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !c.oracle.IsOnline() {
				continue
			}
			if _, err := c.SyncMessages(ctx); err != nil {
				c.logger.WithError(err).Warn("Periodic sync failed")
			}
		}
	}
}

// SyncMessages runs one delta sync cycle. If a cycle is already in flight
// the call returns the previous cycle's stats immediately instead of
// starting a second one.
func (c *Coordinator) SyncMessages(ctx context.Context) (models.SyncStats, error) {
	if !c.cycleMu.TryLock() {
		c.mu.Lock()
		stats := c.stats
		c.mu.Unlock()
		return stats, nil
	}
	defer c.cycleMu.Unlock()

	return c.runCycle(ctx)
}

// ForceSync runs a cycle unconditionally, waiting for any in-flight cycle
// to finish first.
func (c *Coordinator) ForceSync(ctx context.Context) (models.SyncStats, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	return c.runCycle(ctx)
}

func (c *Coordinator) runCycle(ctx context.Context) (models.SyncStats, error) {
	start := c.now()

	interactions, err := c.store.ListInteractions(ctx)
	if err != nil {
		return models.SyncStats{}, fmt.Errorf("failed to list interactions: %w", err)
	}

	received := 0
	for _, interaction := range interactions {
		n, err := c.syncInteraction(ctx, interaction.ID)
		if err != nil {
			// One broken interaction must not starve the rest.
			c.logger.WithError(err).WithField("interaction_id", interaction.ID).Warn("Interaction sync failed")
			continue
		}
		received += n
	}

	end := c.now()

	c.mu.Lock()
	stats := models.SyncStats{
		MessagesReceived: received,
		MessagesSent:     c.sent,
		SyncDuration:     end.Sub(start),
		LastSyncTime:     end,
	}
	c.stats = stats
	c.sent = 0
	c.lastSync = end
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"received": stats.MessagesReceived,
		"sent":     stats.MessagesSent,
		"duration": stats.SyncDuration,
	}).Debug("Sync cycle complete")

	return stats, nil
}

func (c *Coordinator) syncInteraction(ctx context.Context, interactionID string) (int, error) {
	since, found, err := c.store.LatestMessageTimestamp(ctx, interactionID)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest local timestamp: %w", err)
	}
	if !found {
		since = time.Unix(0, 0).UTC()
	}

	messages, err := c.fetcher.GetMessagesSince(ctx, interactionID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch messages: %w", err)
	}

	applied := 0
	for _, msg := range messages {
		if err := c.reconciler.ApplyMessage(ctx, msg); err != nil {
			c.logger.WithError(err).WithField("message_id", msg.ID).Warn("Failed to reconcile fetched message")
			continue
		}
		applied++
	}
	return applied, nil
}

// Stats returns the most recently completed cycle's stats.
func (c *Coordinator) Stats() models.SyncStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Healthy reports whether the coordinator is keeping up: online and synced
// inside the healthy window.
func (c *Coordinator) Healthy() bool {
	if !c.oracle.IsOnline() {
		return false
	}

	c.mu.Lock()
	last := c.lastSync
	c.mu.Unlock()

	return !last.IsZero() && c.now().Sub(last) <= c.config.HealthyWindow
}
