package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

// Client talks to the backend message/transaction API. The backend is an
// external collaborator; only the contract consumed here is specified.
type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    *logrus.Logger
}

func NewClient(baseURL, authToken string, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		authToken: authToken,
		client:    httpClient,
		logger:    logger,
	}
}

// SendMessage performs a direct message create. The request's optimistic id
// rides in metadata so the server echoes it back for correlation.
func (c *Client) SendMessage(ctx context.Context, req models.SendMessageRequest, optimisticID string) (*MessageEnvelope, error) {
	body := sendMessageBody{
		ToEntityID:     req.ToEntityID,
		FromEntityID:   req.FromEntityID,
		Content:        req.Content,
		MessageType:    req.MessageType,
		IdempotencyKey: req.IdempotencyKey,
	}
	if optimisticID != "" {
		body.Metadata = map[string]interface{}{models.MetaOptimisticID: optimisticID}
	}

	var envelope MessageEnvelope
	if err := c.post(ctx, "/messages/direct", body, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// SendTransaction performs a direct transaction create; the transaction API
// is idempotent via the client-supplied key embedded in metadata.
func (c *Client) SendTransaction(ctx context.Context, req models.SendTransactionRequest, optimisticID string) (*models.Transaction, error) {
	body := sendTransactionBody{
		ToEntityID:   req.ToEntityID,
		FromEntityID: req.FromEntityID,
		AmountMinor:  req.AmountMinor,
		CurrencyCode: req.Currency,
		Metadata: map[string]interface{}{
			models.MetaIdempotencyKey: req.IdempotencyKey,
		},
	}
	if optimisticID != "" {
		body.Metadata[models.MetaOptimisticID] = optimisticID
	}

	var txn models.Transaction
	if err := c.post(ctx, "/transactions/direct", body, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetMessages returns a page of messages for an interaction, newest first,
// optionally before the given cursor.
func (c *Client) GetMessages(ctx context.Context, interactionID string, limit int, before string) ([]models.Message, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", fmt.Sprintf("%d", limit))
	}
	if before != "" {
		values.Set("before", before)
	}

	var resp messagesResponse
	endpoint := fmt.Sprintf("/interactions/%s/messages", url.PathEscape(interactionID))
	if err := c.get(ctx, endpoint, values, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// GetMessagesSince returns messages created after the given instant; the
// sync coordinator's delta pull.
func (c *Client) GetMessagesSince(ctx context.Context, interactionID string, since time.Time) ([]models.Message, error) {
	values := url.Values{}
	values.Set("after", since.UTC().Format(time.RFC3339Nano))

	var resp messagesResponse
	endpoint := fmt.Sprintf("/interactions/%s/messages", url.PathEscape(interactionID))
	if err := c.get(ctx, endpoint, values, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// GetTimeline returns the server-rendered unified feed for an interaction.
// Items arrive tagged; unknown tags are logged and skipped.
func (c *Client) GetTimeline(ctx context.Context, interactionID string, limit int, currentUserEntityID string) ([]models.TimelineItem, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", fmt.Sprintf("%d", limit))
	}
	if currentUserEntityID != "" {
		values.Set("currentUserEntityId", currentUserEntityID)
	}

	var resp timelineResponse
	endpoint := fmt.Sprintf("/interactions/%s/timeline", url.PathEscape(interactionID))
	if err := c.get(ctx, endpoint, values, &resp); err != nil {
		return nil, err
	}

	items := make([]models.TimelineItem, 0, len(resp.Items))
	for _, raw := range resp.Items {
		var tag timelineItemTag
		if err := json.Unmarshal(raw, &tag); err != nil {
			c.logger.WithError(err).Warn("Skipping undecodable timeline item")
			continue
		}
		switch tag.kind() {
		case "message":
			var msg models.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				c.logger.WithError(err).Warn("Skipping undecodable timeline message")
				continue
			}
			items = append(items, models.MessageItem(msg))
		case "transaction":
			var txn models.Transaction
			if err := json.Unmarshal(raw, &txn); err != nil {
				c.logger.WithError(err).Warn("Skipping undecodable timeline transaction")
				continue
			}
			items = append(items, models.TransactionItem(txn))
		default:
			c.logger.WithField("item_type", tag.kind()).Debug("Skipping unknown timeline item type")
		}
	}
	return items, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, values url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &Error{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
