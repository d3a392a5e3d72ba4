package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/reactor/celcond"
	"github.com/liamcoop/reactor/engine"
	"github.com/liamcoop/reactor/internal/logger"
	"github.com/liamcoop/reactor/store"
	"github.com/liamcoop/reactor/webhook"
)

// Server exposes the rule engine over HTTP. It owns the concerns the
// engine treats as external: persistence (write-through to a RuleStore)
// and the webhook transport.
type Server struct {
	eng    *engine.Engine
	rules  store.RuleStore
	db     *sql.DB
	router *chi.Mux
}

// NewServer wires an engine to a rule store. Both the store and db may be
// nil, in which case rules live purely in memory.
func NewServer(eng *engine.Engine, rules store.RuleStore, db *sql.DB) *Server {
	s := &Server{eng: eng, rules: rules, db: db}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/stats", s.handleStats)
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", s.handleCreateRule)
		r.Get("/", s.handleListRules)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
		})
	})

	r.Get("/api/v1/groups/{groupName}", s.handleGetGroup)

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
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"rulesLoaded": len(s.eng.ListRules(engine.ListFilter{})),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatsResponse{
		Engine:        s.eng.Counters(),
		TotalErrors:   logger.TotalErrors.Load(),
		TotalWarnings: logger.TotalWarnings.Load(),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ec := &engine.EvalContext{
		Data:      req.Data,
		Variables: req.Variables,
		Metadata:  req.Metadata,
	}
	report := s.eng.EvaluateRules(r.Context(), ec, req.Options)

	// Variable actions write into the evaluation context; echo the final
	// scope so callers see what the rules changed.
	respondJSON(w, http.StatusOK, EvaluateResponse{
		Report:    report,
		Variables: ec.Variables,
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule, err := s.eng.CreateRule(&engine.Rule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		Priority:    req.Priority,
		Group:       req.Group,
		Tags:        req.Tags,
		Timeout:     time.Duration(req.TimeoutMs) * time.Millisecond,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		Variables:   req.Variables,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to create rule", err)
		return
	}

	s.persist(r.Context(), rule)
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	filter := engine.ListFilter{}
	if p := r.URL.Query().Get("priority"); p != "" {
		filter.Priority = engine.Priority(p)
	}
	if g := r.URL.Query().Get("group"); g != "" {
		filter.Groups = []string{g}
	}
	if tag := r.URL.Query().Get("tag"); tag != "" {
		filter.Tags = []string{tag}
	}

	rules := s.eng.ListRules(filter)
	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.eng.GetRule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	upd := engine.RuleUpdate{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     req.Enabled,
		Priority:    req.Priority,
		Group:       req.Group,
		Tags:        req.Tags,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		Variables:   req.Variables,
	}
	if req.TimeoutMs != nil {
		timeout := time.Duration(*req.TimeoutMs) * time.Millisecond
		upd.Timeout = &timeout
	}

	rule, err := s.eng.UpdateRule(ruleID, upd)
	if err != nil {
		if engine.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "rule not found", err)
		} else {
			respondError(w, http.StatusBadRequest, "failed to update rule", err)
		}
		return
	}

	s.persist(r.Context(), rule)
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.eng.DeleteRule(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	if s.rules != nil {
		if err := s.rules.Delete(r.Context(), ruleID); err != nil && !engine.IsNotFound(err) {
			logger.Error("failed to delete stored rule", "rule_id", ruleID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.eng.GetGroup(chi.URLParam(r, "groupName"))
	if err != nil {
		respondError(w, http.StatusNotFound, "group not found", err)
		return
	}
	respondJSON(w, http.StatusOK, group)
}

// persist writes a rule through to the store. Persistence failures are
// logged, not surfaced: the engine already accepted the rule.
func (s *Server) persist(ctx context.Context, rule *engine.Rule) {
	if s.rules == nil {
		return
	}
	if err := s.rules.Save(ctx, rule); err != nil {
		logger.Error("failed to persist rule", "rule_id", rule.ID, "error", err)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	shutdownLogger := logger.Init("reactor")
	defer shutdownLogger(context.Background())

	cfg := engine.DefaultConfig()
	cfg.Logger = logger.Logger
	cfg.Transport = webhook.NewHTTPTransport()
	if os.Getenv("ALLOW_UNSAFE_EXPRESSIONS") == "true" {
		cfg.AllowUnsafeExpressions = true
	}

	eng := engine.New(cfg)
	if _, err := celcond.Register(eng); err != nil {
		logger.Fatal("failed to register cel operator", "error", err)
	}

	var db *sql.DB
	var ruleStore store.RuleStore
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		var err error
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			logger.Fatal("failed to open database", "error", err)
		}
		if err := db.Ping(); err != nil {
			logger.Fatal("failed to ping database", "error", err)
		}
		defer db.Close()
		ruleStore = store.NewPostgresRuleStore(db)

		loaded, err := store.LoadIntoEngine(context.Background(), ruleStore, eng)
		if err != nil {
			logger.Fatal("failed to load rules", "error", err)
		}
		logger.Info("rules loaded from store", "count", loaded)
	} else {
		logger.Info("DATABASE_URL not set, rules are held in memory only")
	}

	server := NewServer(eng, ruleStore, db)

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

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
