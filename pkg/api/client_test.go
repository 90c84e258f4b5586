package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewClient(srv.URL, "test-token", srv.Client(), logger), srv
}

func TestSendMessageEmbedsCorrelation(t *testing.T) {
	var received sendMessageBody
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/direct", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(MessageEnvelope{
			Message:     models.Message{ID: "srv-1", InteractionID: "int-1", Content: received.Content},
			Interaction: models.Interaction{ID: "int-1", Participants: []string{"alice", "bob"}},
		})
	})

	envelope, err := client.SendMessage(context.Background(), models.SendMessageRequest{
		ToEntityID:     "bob",
		Content:        "hello",
		MessageType:    models.TextMessage,
		IdempotencyKey: "key-1",
	}, "opt_msg_abc")
	require.NoError(t, err)

	assert.Equal(t, "srv-1", envelope.Message.ID)
	assert.Equal(t, "int-1", envelope.Interaction.ID)
	assert.Equal(t, "opt_msg_abc", received.Metadata[models.MetaOptimisticID])
	assert.Equal(t, "key-1", received.IdempotencyKey)
}

func TestSendTransactionEmbedsIdempotencyKey(t *testing.T) {
	var received sendTransactionBody
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/direct", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		_ = json.NewEncoder(w).Encode(models.Transaction{ID: "txn-1", AmountMinor: received.AmountMinor})
	})

	txn, err := client.SendTransaction(context.Background(), models.SendTransactionRequest{
		ToEntityID:     "bob",
		AmountMinor:    2500,
		Currency:       "USD",
		IdempotencyKey: "key-9",
	}, "opt_txn_abc")
	require.NoError(t, err)

	assert.Equal(t, "txn-1", txn.ID)
	assert.Equal(t, int64(2500), txn.AmountMinor)
	assert.Equal(t, "key-9", received.Metadata[models.MetaIdempotencyKey])
	assert.Equal(t, "opt_txn_abc", received.Metadata[models.MetaOptimisticID])
}

func TestSendMessageServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.SendMessage(context.Background(), models.SendMessageRequest{ToEntityID: "bob", Content: "x"}, "")
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsClientError(err))
}

func TestGetMessagesSinceSendsCursor(t *testing.T) {
	since := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/interactions/int-1/messages", r.URL.Path)
		assert.Equal(t, since.Format(time.RFC3339Nano), r.URL.Query().Get("after"))

		_ = json.NewEncoder(w).Encode(messagesResponse{Messages: []models.Message{
			{ID: "m1", InteractionID: "int-1"},
		}})
	})

	msgs, err := client.GetMessagesSince(context.Background(), "int-1", since)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestGetMessagesPagination(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "cursor-1", r.URL.Query().Get("before"))
		_ = json.NewEncoder(w).Encode(messagesResponse{})
	})

	msgs, err := client.GetMessages(context.Background(), "int-1", 25, "cursor-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGetTimelineDecodesTaggedItems(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[
			{"type":"message","id":"m1","interaction_id":"int-1","content":"hi"},
			{"itemType":"transaction","id":"t1","interaction_id":"int-1","amount_minor":500},
			{"type":"unknown_widget","id":"x1"}
		]}`)
	})

	items, err := client.GetTimeline(context.Background(), "int-1", 50, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, models.TimelineItemMessage, items[0].Type)
	assert.Equal(t, "m1", items[0].Message.ID)
	assert.Equal(t, models.TimelineItemTransaction, items[1].Type)
	assert.Equal(t, int64(500), items[1].Transaction.AmountMinor)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantClient bool
		wantRetry  bool
	}{
		{"nil", nil, false, false},
		{"bad request", &Error{StatusCode: 400}, true, false},
		{"unprocessable", &Error{StatusCode: 422}, true, false},
		{"rate limited retries", &Error{StatusCode: 429}, false, true},
		{"server error retries", &Error{StatusCode: 503}, false, true},
		{"transport error retries", errors.New("connection refused"), false, true},
		{"wrapped client error", fmt.Errorf("send failed: %w", &Error{StatusCode: 404}), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantClient, IsClientError(tt.err))
			assert.Equal(t, tt.wantRetry, IsRetryable(tt.err))
		})
	}
}

func TestClientTrimsTrailingSlash(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewEncoder(w).Encode(messagesResponse{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "", srv.Client(), nil)
	_, err := client.GetMessages(context.Background(), "int-1", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "/interactions/int-1/messages", path)
}
