package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/network"
	"chatsync/internal/queue"
	"chatsync/internal/reconcile"
	"chatsync/internal/store"
	"chatsync/internal/syncer"
	"chatsync/internal/timeline"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	err error
}

func (s *stubSender) SendMessage(ctx context.Context, req models.SendMessageRequest, optimisticID string) (*models.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Message{
		ID:            "srv-1",
		InteractionID: req.InteractionID,
		Content:       req.Content,
		Status:        models.MessageStatusSent,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (s *stubSender) SendTransaction(ctx context.Context, req models.SendTransactionRequest, optimisticID string) (*models.Transaction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Transaction{
		ID:            "srv-txn-1",
		InteractionID: req.InteractionID,
		AmountMinor:   req.AmountMinor,
		Currency:      req.Currency,
		Status:        models.TransactionStatusCompleted,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

type stubFetcher struct{}

func (f *stubFetcher) GetMessagesSince(ctx context.Context, interactionID string, since time.Time) ([]models.Message, error) {
	return nil, nil
}

type onlineProbe struct{}

func (onlineProbe) Check(ctx context.Context) (network.State, error) {
	return network.State{Connected: true, InternetReachable: true, ConnectionType: "test"}, nil
}

// setOracleOnline starts the fixture oracle, whose probe always reports a
// healthy link, and waits for the first observation to land.
func setOracleOnline(t *testing.T, o *network.Oracle) {
	t.Helper()
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	require.Eventually(t, o.IsOnline, time.Second, 5*time.Millisecond)
}

type serverFixture struct {
	server *Server
	store  *store.Store
	oracle *network.Oracle
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	oracle := network.NewOracle(onlineProbe{}, time.Minute, logger)
	reconciler := reconcile.NewReconciler(db, logger)
	engine := timeline.NewEngine(db, db, logger)
	manager := queue.NewManager(db, &stubSender{}, oracle, reconciler, "alice", queue.Config{}, logger)
	coordinator := syncer.NewCoordinator(db, &stubFetcher{}, reconciler, oracle, syncer.Config{}, logger)

	cfg := &models.Config{CurrentUserEntityID: "alice"}
	cfg.Server.Port = 0

	return &serverFixture{
		server: NewServer(cfg, engine, manager, coordinator, oracle, db, logger),
		store:  db,
		oracle: oracle,
	}
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, true, body["store_available"])
}

func TestTimelineEndpoint(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.store.SaveMessages(ctx, []models.Message{
		{ID: "m1", InteractionID: "int-1", SenderEntityID: "alice", Content: "hello", Type: models.TextMessage, Status: models.MessageStatusSent, CreatedAt: now},
	}))

	w := f.do(httptest.NewRequest(http.MethodGet, "/interactions/int-1/timeline", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		InteractionID string                `json:"interaction_id"`
		Items         []models.TimelineItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "int-1", body.InteractionID)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "m1", body.Items[0].Message.ID)
}

func TestTimelineInvalidLimit(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/interactions/int-1/timeline?limit=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageOfflineReturnsAccepted(t *testing.T) {
	f := newServerFixture(t)

	body, _ := json.Marshal(models.SendMessageRequest{
		ToEntityID:    "bob",
		InteractionID: "int-1",
		Content:       "hello",
		MessageType:   models.TextMessage,
	})

	w := f.do(httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, w.Code)

	var msg models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.True(t, msg.IsOptimistic())
	assert.Equal(t, models.MessageStatusPending, msg.Status)
}

func TestSendMessageOnlineReturnsCreated(t *testing.T) {
	f := newServerFixture(t)
	setOracleOnline(t, f.oracle)

	body, _ := json.Marshal(models.SendMessageRequest{
		ToEntityID:    "bob",
		InteractionID: "int-1",
		Content:       "hello",
		MessageType:   models.TextMessage,
	})

	w := f.do(httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)

	var msg models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "srv-1", msg.ID)
	assert.False(t, msg.IsOptimistic())
}

func TestSendMessageValidation(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader([]byte(`{"content": ""}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader([]byte(`not json`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageDuplicateConflict(t *testing.T) {
	f := newServerFixture(t)

	body, _ := json.Marshal(models.SendMessageRequest{
		ToEntityID:    "bob",
		InteractionID: "int-1",
		Content:       "hello",
		MessageType:   models.TextMessage,
	})

	w := f.do(httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body)))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSendTransactionValidation(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewReader([]byte(`{"to_entity_id": "bob"}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, _ := json.Marshal(models.SendTransactionRequest{
		ToEntityID:  "bob",
		AmountMinor: -5,
		Currency:    "USD",
	})
	w = f.do(httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSendTransactionOffline(t *testing.T) {
	f := newServerFixture(t)

	body, _ := json.Marshal(models.SendTransactionRequest{
		ToEntityID:    "bob",
		InteractionID: "int-1",
		AmountMinor:   2500,
		Currency:      "USD",
	})

	w := f.do(httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, w.Code)

	var txn models.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txn))
	assert.True(t, txn.IsOptimistic())
}

func TestSyncEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest(http.MethodPost, "/sync", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats models.SyncStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.MessagesReceived)
}

func TestOfflineModeEndpoint(t *testing.T) {
	f := newServerFixture(t)
	setOracleOnline(t, f.oracle)
	require.True(t, f.oracle.IsOnline())

	w := f.do(httptest.NewRequest(http.MethodPut, "/network/offline-mode", bytes.NewReader([]byte(`{"offline": true}`))))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.oracle.IsOnline())

	var state network.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.True(t, state.OfflineMode)

	w = f.do(httptest.NewRequest(http.MethodPut, "/network/offline-mode", bytes.NewReader([]byte(`{"offline": false}`))))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.oracle.IsOnline())
}

func TestMethodNotAllowed(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest(http.MethodDelete, "/messages", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
