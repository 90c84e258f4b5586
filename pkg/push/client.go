package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/models"
	"chatsync/internal/retry"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Handler receives decoded push events. Events reach the reconciliation
// path through it, so push and HTTP deltas are treated identically.
type Handler interface {
	HandleNewMessage(ctx context.Context, msg models.Message) error
	HandleTransactionUpdate(ctx context.Context, ev models.TransactionUpdateEvent) error
}

// Client consumes the push channel over WebSocket, reconnecting with
// backoff whenever the connection drops.
type Client struct {
	url       string
	authToken string
	handler   Handler
	logger    *logrus.Logger
	backoff   *retry.Backoff

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewClient(url, authToken string, handler Handler, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		url:       url,
		authToken: authToken,
		handler:   handler,
		logger:    logger,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(constants.DefaultPushReconnectBaseDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(constants.DefaultPushReconnectMaxDelayMs) * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  1,
			Jitter:       true,
		}),
	}
}

// Start begins the connect/read/reconnect loop in the background.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("push client is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.run(runCtx)

	c.logger.WithField("url", c.url).Info("Push client started")
	return nil
}

func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.running = false
	c.logger.Info("Push client stopped")
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	attempt := 1
	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			delay := c.backoff.Delay(attempt)
			c.logger.WithError(err).WithField("reconnect_in", delay).Warn("Push channel disconnected")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if attempt < 10 {
				attempt++
			}
			continue
		}
		attempt = 1
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if c.authToken != "" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + c.authToken},
		}
	}

	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("failed to dial push channel: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	c.logger.Debug("Push channel connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("push channel read failed: %w", err)
		}
		c.dispatch(ctx, data)
	}
}

// dispatch decodes the tagged envelope and hands the typed payload to the
// handler. Decode failures and unknown event types never kill the
// connection.
func (c *Client) dispatch(ctx context.Context, data []byte) {
	var event models.PushEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.WithError(err).Warn("Dropping undecodable push frame")
		return
	}

	switch event.Type {
	case models.EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(event.Data, &msg); err != nil {
			c.logger.WithError(err).Warn("Dropping undecodable new_message event")
			return
		}
		if err := c.handler.HandleNewMessage(ctx, msg); err != nil {
			c.logger.WithError(err).WithField("message_id", msg.ID).Error("Failed to handle new_message event")
		}
	case models.EventTransactionUpdate:
		var ev models.TransactionUpdateEvent
		if err := json.Unmarshal(event.Data, &ev); err != nil {
			c.logger.WithError(err).Warn("Dropping undecodable transaction_update event")
			return
		}
		if err := c.handler.HandleTransactionUpdate(ctx, ev); err != nil {
			c.logger.WithError(err).WithField("transaction_id", ev.TransactionID).Error("Failed to handle transaction_update event")
		}
	default:
		c.logger.WithField("event_type", event.Type).Debug("Skipping unknown push event type")
	}
}
