package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/middleware"
	"chatsync/internal/models"
	"chatsync/internal/network"
	"chatsync/internal/queue"
	"chatsync/internal/store"
	"chatsync/internal/syncer"
	"chatsync/internal/timeline"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router      *mux.Router
	logger      *logrus.Logger
	cfg         *models.Config
	engine      *timeline.Engine
	manager     *queue.Manager
	coordinator *syncer.Coordinator
	oracle      *network.Oracle
	db          *store.Store
	server      *http.Server
}

func NewServer(cfg *models.Config, engine *timeline.Engine, manager *queue.Manager, coordinator *syncer.Coordinator, oracle *network.Oracle, db *store.Store, logger *logrus.Logger) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		logger:      logger,
		cfg:         cfg,
		engine:      engine,
		manager:     manager,
		coordinator: coordinator,
		oracle:      oracle,
		db:          db,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Tracing())
	s.router.Use(middleware.RequestLogging(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	s.router.HandleFunc("/interactions/{id}/timeline", s.handleTimeline()).Methods(http.MethodGet)

	s.router.HandleFunc("/messages", s.handleSendMessage()).Methods(http.MethodPost)
	s.router.HandleFunc("/transactions", s.handleSendTransaction()).Methods(http.MethodPost)

	s.router.HandleFunc("/sync", s.handleSync()).Methods(http.MethodPost)
	s.router.HandleFunc("/network/offline-mode", s.handleOfflineMode()).Methods(http.MethodPut)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if !s.coordinator.Healthy() {
			status = "degraded"
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          status,
			"store_available": s.db.Available(),
			"network":         s.oracle.Snapshot(),
			"queue_depth":     s.manager.Depth(),
			"sync":            s.coordinator.Stats(),
		})
	}
}

func (s *Server) handleTimeline() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		interactionID := mux.Vars(r)["id"]

		limit := constants.DefaultTimelineLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
				s.writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
		}

		perspective := r.URL.Query().Get("perspective")
		if perspective == "" {
			perspective = s.cfg.CurrentUserEntityID
		}

		items, err := s.engine.Display(r.Context(), interactionID, limit, perspective)
		if err != nil {
			s.logger.WithError(err).Error("Timeline read failed")
			s.writeError(w, http.StatusInternalServerError, "timeline unavailable")
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"interaction_id": interactionID,
			"items":          items,
		})
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ToEntityID == "" || req.Content == "" {
			s.writeError(w, http.StatusBadRequest, "to_entity_id and content are required")
			return
		}

		msg, err := s.manager.SendMessage(r.Context(), req)
		if err != nil {
			s.writeSendError(w, err)
			return
		}
		if msg == nil {
			// Double-tap inside the dedup window.
			s.writeJSON(w, http.StatusConflict, map[string]string{"status": "duplicate"})
			return
		}

		code := http.StatusCreated
		if msg.IsOptimistic() {
			code = http.StatusAccepted
		}
		s.writeJSON(w, code, msg)
	}
}

func (s *Server) handleSendTransaction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SendTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ToEntityID == "" || req.Currency == "" {
			s.writeError(w, http.StatusBadRequest, "to_entity_id and currency_code are required")
			return
		}

		txn, err := s.manager.SendTransaction(r.Context(), req)
		if err != nil {
			s.writeSendError(w, err)
			return
		}
		if txn == nil {
			s.writeJSON(w, http.StatusConflict, map[string]string{"status": "duplicate"})
			return
		}

		code := http.StatusCreated
		if txn.IsOptimistic() {
			code = http.StatusAccepted
		}
		s.writeJSON(w, code, txn)
	}
}

func (s *Server) handleSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.coordinator.ForceSync(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Manual sync failed")
			s.writeError(w, http.StatusBadGateway, "sync failed")
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleOfflineMode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Offline bool `json:"offline"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s.oracle.SetOfflineMode(body.Offline)
		s.writeJSON(w, http.StatusOK, s.oracle.Snapshot())
	}
}

func (s *Server) writeSendError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.ErrCodePermanentRequest {
		s.writeError(w, http.StatusUnprocessableEntity, appErr.Message)
		return
	}
	s.logger.WithError(err).Error("Send failed")
	s.writeError(w, http.StatusInternalServerError, "send failed")
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Debug("Could not encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
