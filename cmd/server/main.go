package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/tdaniel1925/easemail-rules/internal/logger"
	"github.com/tdaniel1925/easemail-rules/mailstore"
	"github.com/tdaniel1925/easemail-rules/pipeline"
	"github.com/tdaniel1925/easemail-rules/rules"
)

type Server struct {
	db         *sql.DB
	engine     *rules.Engine
	store      rules.RuleStore
	source     pipeline.MessageSource
	dispatcher *pipeline.Dispatcher
	router     *chi.Mux
}

// NewServer connects to the database and assembles the service.
func NewServer(databaseURL string) (*Server, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewServerWithDB(db)
}

// NewServerWithDB assembles the service over an already-open database handle.
func NewServerWithDB(db *sql.DB) (*Server, error) {
	store := rules.NewPostgresRuleStore(db)
	mailbox := mailstore.NewPostgresMailbox(db, forwarderFromEnv())
	source := mailstore.NewPostgresMessageStore(db)

	engine, err := rules.NewEngine(store, mailbox)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	dispatcher := pipeline.NewDispatcher(engine, source, pipeline.Config{
		Workers:   envInt("RULE_WORKERS", 0),
		QueueSize: envInt("RULE_QUEUE_SIZE", 0),
	})

	s := &Server{
		db:         db,
		engine:     engine,
		store:      store,
		source:     source,
		dispatcher: dispatcher,
	}

	s.setupRoutes()

	return s, nil
}

// forwarderFromEnv builds the SMTP forwarder when a relay is configured.
// Without SMTP_ADDR, forward_to actions fail individually and everything
// else keeps working.
func forwarderFromEnv() mailstore.Forwarder {
	addr := os.Getenv("SMTP_ADDR")
	if addr == "" {
		return nil
	}
	return mailstore.NewSMTPForwarder(
		addr,
		os.Getenv("SMTP_USERNAME"),
		os.Getenv("SMTP_PASSWORD"),
		os.Getenv("SMTP_FROM"),
	)
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	// Entry point for the mail-sync pipeline.
	r.Post("/api/v1/process", s.handleProcess)

	r.Get("/api/v1/templates", s.handleListTemplates)

	r.Route("/api/v1/users/{userId}/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Post("/from-template", s.handleCreateRuleFromTemplate)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleProcess is called once per newly-inserted message. By default the
// task is queued and the sync pipeline gets its 202 immediately; ?sync=true
// runs the rules inline and returns the summary, which the tests and the
// rule-preview UI rely on.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.UserID == "" || req.MessageID == "" {
		respondError(w, http.StatusBadRequest, "userId and messageId are required", nil)
		return
	}

	if r.URL.Query().Get("sync") == "true" {
		msg, err := s.source.Get(r.Context(), req.UserID, req.MessageID)
		if err != nil {
			respondError(w, http.StatusNotFound, "message not found", err)
			return
		}

		summary, err := s.engine.ProcessEmail(r.Context(), msg, req.UserID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "rule processing failed", err)
			return
		}

		respondJSON(w, http.StatusOK, toSummaryResponse(summary))
		return
	}

	if !s.dispatcher.Enqueue(pipeline.Task{MessageID: req.MessageID, UserID: req.UserID}) {
		respondError(w, http.StatusServiceUnavailable, "rule queue full", nil)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"templates": rules.BuiltinTemplates(),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	rulesList, err := s.store.List(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	if rulesList == nil {
		rulesList = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rulesList})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule(uuid.New().String(), userID)
	if err := s.engine.AddRule(r.Context(), rule); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleCreateRuleFromTemplate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req InstantiateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	template, err := rules.FindTemplate(req.TemplateID)
	if err != nil {
		respondError(w, http.StatusNotFound, "template not found", err)
		return
	}

	rule := rules.InstantiateTemplate(template, uuid.New().String(), userID, req.Priority)
	if err := s.engine.AddRule(r.Context(), rule); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.store.Get(r.Context(), userID, ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ruleID := chi.URLParam(r, "ruleId")

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule(ruleID, userID)
	if err := s.engine.UpdateRule(r.Context(), rule); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.engine.DeleteRule(r.Context(), userID, ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	server, err := NewServer(databaseURL)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.db.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Drain queued rule runs before letting the process exit.
	if err := server.dispatcher.Close(ctx); err != nil {
		logger.Error("dispatcher shutdown error", "error", err)
	}

	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}
}
