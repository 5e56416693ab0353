package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benefitpress/scribe/pkg/config"
	"github.com/benefitpress/scribe/pkg/content"
	"github.com/benefitpress/scribe/pkg/credits"
	"github.com/benefitpress/scribe/pkg/generate"
	"github.com/benefitpress/scribe/pkg/models"
)

// sseUpstream is an OpenAI-style streaming endpoint emitting fixed deltas.
func sseUpstream(deltas []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, d := range deltas {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

type env struct {
	srv     *Server
	store   *content.Store
	credits *credits.Store
}

func setup(t *testing.T, upstream *httptest.Server) *env {
	t.Helper()
	dir := t.TempDir()

	store, err := content.New(filepath.Join(dir, "content.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	balances, err := credits.NewStore(filepath.Join(dir, "credits.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = balances.Close() })

	guard := credits.NewGuard(balances)
	client := generate.NewClient(upstream.URL, "sk-test")
	orch := generate.NewOrchestrator(client, store, guard, generate.Options{
		Model:      "gpt-4",
		CreditCost: 1,
		Timeout:    5 * time.Second,
	})

	cfg := config.Default()
	cfg.Listen = ":0"

	return &env{
		srv:     New(cfg, store, balances, guard, orch),
		store:   store,
		credits: balances,
	}
}

func (e *env) seedArticle(t *testing.T) models.Article {
	t.Helper()
	a := models.Article{OrganizationID: "acme", AuthorID: "alice"}
	if err := e.store.CreateArticle(context.Background(), &a); err != nil {
		t.Fatal(err)
	}
	return a
}

func (e *env) grant(t *testing.T, owner models.Owner, amount int64) {
	t.Helper()
	if _, err := e.credits.Grant(context.Background(), owner, models.KindAIToken, amount); err != nil {
		t.Fatal(err)
	}
}

func generateRequest(articleID string) *http.Request {
	body := fmt.Sprintf(`{"article_id":%q,"language":"en","instruction":"write about dental"}`, articleID)
	req := httptest.NewRequest(http.MethodPost, "/v1/translations/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Scribe-User-ID", "alice")
	req.Header.Set("X-Scribe-Organization-ID", "acme")
	return req
}

func TestGenerateStreamsRawTags(t *testing.T) {
	upstream := sseUpstream([]string{
		"<opening>Hi", "</opening><title>T</title>", "<content>C</content><closing>Bye</closing>",
	})
	defer upstream.Close()

	e := setup(t, upstream)
	e.grant(t, models.Owner{Type: models.OwnerUser, ID: "alice"}, 5)
	article := e.seedArticle(t)

	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, generateRequest(article.ID))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if ab := w.Header().Get("X-Accel-Buffering"); ab != "no" {
		t.Errorf("X-Accel-Buffering = %q", ab)
	}

	want := "<opening>Hi</opening><title>T</title><content>C</content><closing>Bye</closing>"
	if w.Body.String() != want {
		t.Errorf("body = %q, want the raw concatenated chunks", w.Body.String())
	}

	// One version and one log entry behind the stream.
	tr, _ := e.store.EnsureTranslation(context.Background(), article.ID, "en")
	versions, _ := e.store.ListVersions(context.Background(), tr.ID)
	if len(versions) != 1 {
		t.Errorf("expected 1 version, got %d", len(versions))
	}
}

func TestGenerateInsufficientCredits(t *testing.T) {
	upstream := sseUpstream(nil)
	defer upstream.Close()

	e := setup(t, upstream)
	article := e.seedArticle(t)

	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, generateRequest(article.ID))

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "ai_token") {
		t.Errorf("rejection should name the credit kind: %s", w.Body.String())
	}
}

func TestGenerateMissingIdentity(t *testing.T) {
	upstream := sseUpstream(nil)
	defer upstream.Close()
	e := setup(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/translations/generate",
		strings.NewReader(`{"article_id":"a","language":"en","instruction":"x"}`))
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestGenerateValidation(t *testing.T) {
	upstream := sseUpstream(nil)
	defer upstream.Close()
	e := setup(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/translations/generate", strings.NewReader(`{"language":"en"}`))
	req.Header.Set("X-Scribe-User-ID", "alice")
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreditsGrantAndList(t *testing.T) {
	upstream := sseUpstream(nil)
	defer upstream.Close()
	e := setup(t, upstream)

	body := `{"owner_type":"organization","owner_id":"acme","kind":"ai_token","amount":50}`
	req := httptest.NewRequest(http.MethodPost, "/v1/credits/grant", strings.NewReader(body))
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var granted models.CreditBalance
	if err := json.Unmarshal(w.Body.Bytes(), &granted); err != nil {
		t.Fatal(err)
	}
	if granted.Balance != 50 {
		t.Errorf("balance = %d", granted.Balance)
	}

	w = httptest.NewRecorder()
	e.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/credits?owner_type=organization&owner_id=acme", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var balances []models.CreditBalance
	if err := json.Unmarshal(w.Body.Bytes(), &balances); err != nil {
		t.Fatal(err)
	}
	if len(balances) != 1 || balances[0].Balance != 50 {
		t.Errorf("balances = %+v", balances)
	}
}

func TestCreditsGrantRejectsUnknownKind(t *testing.T) {
	upstream := sseUpstream(nil)
	defer upstream.Close()
	e := setup(t, upstream)

	body := `{"owner_type":"user","owner_id":"alice","kind":"points","amount":5}`
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/credits/grant", strings.NewReader(body)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown kind, got %d", w.Code)
	}
}

func TestGenerationsQuery(t *testing.T) {
	upstream := sseUpstream([]string{"<opening>a</opening><title>b</title><content>c</content><closing>d</closing>"})
	defer upstream.Close()

	e := setup(t, upstream)
	e.grant(t, models.Owner{Type: models.OwnerUser, ID: "alice"}, 5)
	article := e.seedArticle(t)

	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, generateRequest(article.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("generate failed: %d", w.Code)
	}

	w = httptest.NewRecorder()
	e.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/generations?user_id=alice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []models.GenerationLogEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].UserID != "alice" || !entries[0].Complete {
		t.Errorf("entries = %+v", entries)
	}
}

func TestArticleEndpoints(t *testing.T) {
	upstream := sseUpstream(nil)
	defer upstream.Close()
	e := setup(t, upstream)

	body := `{"slug":"dental-2026"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/articles", strings.NewReader(body))
	req.Header.Set("X-Scribe-User-ID", "alice")
	req.Header.Set("X-Scribe-Organization-ID", "acme")
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.Article
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	w = httptest.NewRecorder()
	e.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/articles/"+created.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "dental-2026") {
		t.Errorf("get body = %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	e.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/articles/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
