package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chatsync/internal/models"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []models.Message
	updates  []models.TransactionUpdateEvent
	err      error
}

func (h *recordingHandler) HandleNewMessage(ctx context.Context, msg models.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.messages = append(h.messages, msg)
	return nil
}

func (h *recordingHandler) HandleTransactionUpdate(ctx context.Context, ev models.TransactionUpdateEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.updates = append(h.updates, ev)
	return nil
}

func (h *recordingHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *recordingHandler) updateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

func newTestPushClient(url string, handler Handler) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewClient(url, "test-token", handler, logger)
}

func TestDispatchNewMessage(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestPushClient("ws://unused", handler)

	c.dispatch(context.Background(), []byte(`{
		"type": "new_message",
		"data": {"id": "m1", "interaction_id": "int-1", "content": "hi"}
	}`))

	require.Equal(t, 1, handler.messageCount())
	assert.Equal(t, "m1", handler.messages[0].ID)
	assert.Equal(t, "hi", handler.messages[0].Content)
}

func TestDispatchTransactionUpdate(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestPushClient("ws://unused", handler)

	c.dispatch(context.Background(), []byte(`{
		"type": "transaction_update",
		"data": {"transaction_id": "txn-1", "status": "completed"}
	}`))

	require.Equal(t, 1, handler.updateCount())
	assert.Equal(t, "txn-1", handler.updates[0].TransactionID)
	assert.Equal(t, models.TransactionStatusCompleted, handler.updates[0].Status)
}

func TestDispatchToleratesBadFrames(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestPushClient("ws://unused", handler)
	ctx := context.Background()

	c.dispatch(ctx, []byte(`not json at all`))
	c.dispatch(ctx, []byte(`{"type": "new_message", "data": "not an object"}`))
	c.dispatch(ctx, []byte(`{"type": "solar_flare_warning", "data": {}}`))

	assert.Equal(t, 0, handler.messageCount())
	assert.Equal(t, 0, handler.updateCount())
}

func TestDispatchHandlerErrorDoesNotPanic(t *testing.T) {
	handler := &recordingHandler{err: errors.New("reconcile failed")}
	c := newTestPushClient("ws://unused", handler)

	c.dispatch(context.Background(), []byte(`{
		"type": "new_message",
		"data": {"id": "m1"}
	}`))
	assert.Equal(t, 0, handler.messageCount())
}

func TestClientReceivesOverWebSocket(t *testing.T) {
	handler := &recordingHandler{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		err = conn.Write(r.Context(), websocket.MessageText, []byte(`{
			"type": "new_message",
			"data": {"id": "m1", "interaction_id": "int-1", "content": "pushed"}
		}`))
		require.NoError(t, err)

		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := newTestPushClient(wsURL, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	require.Eventually(t, func() bool {
		return handler.messageCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "pushed", handler.messages[0].Content)
}

func TestStartTwiceFails(t *testing.T) {
	c := newTestPushClient("ws://127.0.0.1:1", &recordingHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	assert.Error(t, c.Start(ctx))
}
