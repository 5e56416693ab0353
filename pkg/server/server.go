// Package server exposes the Scribe HTTP API, including the streamed
// generation endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/benefitpress/scribe/pkg/config"
	"github.com/benefitpress/scribe/pkg/content"
	"github.com/benefitpress/scribe/pkg/credits"
	"github.com/benefitpress/scribe/pkg/generate"
	"github.com/benefitpress/scribe/pkg/models"
)

// Server is the Scribe HTTP API server.
type Server struct {
	cfg     *config.Config
	store   *content.Store
	credits credits.BalanceStore
	guard   *credits.Guard
	orch    *generate.Orchestrator
	mux     *http.ServeMux
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, store *content.Store, balances credits.BalanceStore, guard *credits.Guard, orch *generate.Orchestrator) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		credits: balances,
		guard:   guard,
		orch:    orch,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/translations/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /v1/generations", s.handleGenerations)
	s.mux.HandleFunc("GET /v1/credits", s.handleCredits)
	s.mux.HandleFunc("POST /v1/credits/grant", s.handleCreditsGrant)
	s.mux.HandleFunc("POST /v1/articles", s.handleCreateArticle)
	s.mux.HandleFunc("GET /v1/articles", s.handleListArticles)
	s.mux.HandleFunc("GET /v1/articles/{id}", s.handleGetArticle)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support and runs
// the generation-log retention loop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	if s.cfg.Log.RetentionDays > 0 {
		go s.retentionLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("scribe listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.store.Cleanup(ctx, s.cfg.Log.RetentionDays)
			if err != nil {
				log.Printf("generation log cleanup error: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("generation log cleanup removed %d entries", deleted)
			}
		}
	}
}

// requestContext builds the caller identity from the headers the auth layer
// in front of this service sets.
func requestContext(r *http.Request) models.RequestContext {
	return models.RequestContext{
		UserID:         r.Header.Get("X-Scribe-User-ID"),
		OrganizationID: r.Header.Get("X-Scribe-Organization-ID"),
		Locale:         r.Header.Get("X-Scribe-Locale"),
	}
}

// sseTransport relays chunks to the client as they arrive. Headers go out
// lazily on the first chunk so pre-stream failures can still answer with a
// JSON error; each chunk is flushed immediately.
type sseTransport struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (t *sseTransport) WriteChunk(p []byte) error {
	if !t.started {
		t.started = true
		h := t.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		t.w.WriteHeader(http.StatusOK)
	}
	if _, err := t.w.Write(p); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "response writer does not support flushing")
		return
	}

	var req generate.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ArticleID == "" || req.Language == "" || req.Instruction == "" {
		writeJSONError(w, http.StatusBadRequest, "article_id, language and instruction are required")
		return
	}

	rc := requestContext(r)
	if rc.UserID == "" && rc.OrganizationID == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	transport := &sseTransport{w: w, flusher: flusher}
	out, err := s.orch.Run(r.Context(), rc, req, transport)
	if err != nil {
		if transport.started {
			// The stream is already broken or half-delivered; terminating
			// the connection is the only remaining signal.
			log.Printf("generation terminated mid-stream: %v", err)
			return
		}
		switch {
		case errors.Is(err, credits.ErrInsufficientCredits):
			writeJSONError(w, http.StatusPaymentRequired, err.Error())
		case errors.Is(err, content.ErrNotFound):
			writeJSONError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, generate.ErrAborted):
			// Client is gone; nothing to answer.
		default:
			log.Printf("generation error: %v", err)
			writeJSONError(w, http.StatusBadGateway, "generation failed")
		}
		return
	}

	log.Printf("generation done: translation %s version %d complete=%v tokens=%d",
		out.TranslationID, out.VersionNumber, out.Complete, out.TokensUsed)
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := models.GenerationQueryOpts{
		TranslationID: q.Get("translation_id"),
		UserID:        q.Get("user_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid since, want RFC3339")
			return
		}
		opts.Since = ts
	}

	entries, err := s.store.QueryGenerations(r.Context(), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var owner *models.Owner
	if q.Get("owner_type") != "" || q.Get("owner_id") != "" {
		o, err := models.NewOwner(models.OwnerType(q.Get("owner_type")), q.Get("owner_id"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		owner = &o
	}

	balances, err := s.credits.List(r.Context(), owner)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "list balances failed")
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleCreditsGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerType string `json:"owner_type"`
		OwnerID   string `json:"owner_id"`
		Kind      string `json:"kind"`
		Amount    int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner, err := models.NewOwner(models.OwnerType(req.OwnerType), req.OwnerID)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind := models.CreditKind(req.Kind)
	if !kind.Valid() {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid credit kind %q", req.Kind))
		return
	}
	if req.Amount <= 0 {
		writeJSONError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	balance, err := s.credits.Grant(r.Context(), owner, kind, req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "grant failed")
		return
	}
	writeJSON(w, http.StatusOK, models.CreditBalance{Owner: owner, Kind: kind, Balance: balance})
}

func (s *Server) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	var a models.Article
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rc := requestContext(r)
	if a.OrganizationID == "" {
		a.OrganizationID = rc.OrganizationID
	}
	if a.AuthorID == "" {
		a.AuthorID = rc.UserID
	}
	if a.OrganizationID == "" || a.AuthorID == "" {
		writeJSONError(w, http.StatusBadRequest, "organization_id and author_id are required")
		return
	}

	if err := s.store.CreateArticle(r.Context(), &a); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "create article failed")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.store.ListArticles(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "list articles failed")
		return
	}
	writeJSON(w, http.StatusOK, articles)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	article, err := s.store.GetArticle(r.Context(), id)
	if errors.Is(err, content.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "article not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "get article failed")
		return
	}

	translations, err := s.store.ListTranslations(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "list translations failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		models.Article
		Translations []models.ArticleTranslation `json:"translations"`
	}{article, translations})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response error: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}
