// Package generate coordinates one streamed article generation end to end:
// quota pre-flight, upstream streaming with live relay and section parsing,
// then exactly-once persistence and credit consumption.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/benefitpress/scribe/pkg/credits"
	"github.com/benefitpress/scribe/pkg/models"
	"github.com/benefitpress/scribe/pkg/sections"
	"github.com/benefitpress/scribe/pkg/tokens"
)

// ErrAborted is returned when the client went away before the upstream
// stream ended. An aborted generation is never persisted or billed.
var ErrAborted = errors.New("generation aborted by client")

// QuotaError is the pre-flight rejection: no owner in the chain can afford
// the generation. It unwraps to credits.ErrInsufficientCredits.
type QuotaError struct {
	Kind   models.CreditKind
	Amount int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("requires %d %s credits: %s", e.Amount, e.Kind, credits.ErrInsufficientCredits)
}

func (e *QuotaError) Unwrap() error { return credits.ErrInsufficientCredits }

// Transport is the client-facing byte sink. WriteChunk must deliver the
// chunk without additional buffering; a failed write means the client is
// gone.
type Transport interface {
	WriteChunk(p []byte) error
}

// PersistStore is the persistence port the orchestrator writes through.
type PersistStore interface {
	EnsureTranslation(ctx context.Context, articleID, language string) (models.ArticleTranslation, error)
	UpdateTranslationSections(ctx context.Context, id, opening, title, content, closing, raw string) error
	CreateVersion(ctx context.Context, v *models.ArticleVersion) error
	AppendGeneration(ctx context.Context, e *models.GenerationLogEntry) error
	PriorGenerations(ctx context.Context, translationID string, limit int) ([]models.GenerationLogEntry, error)
}

// QuotaGuard is the credit port: advisory check plus binding consumption.
type QuotaGuard interface {
	CheckAvailable(ctx context.Context, chain []models.Owner, kind models.CreditKind, amount int64) (credits.Decision, error)
	ConsumeFirst(ctx context.Context, chain []models.Owner, kind models.CreditKind, amount int64) (models.Owner, int64, error)
}

// Options tune one Orchestrator.
type Options struct {
	// Model is the upstream model name.
	Model string
	// CreditCost is the ai_token credit price of one generation.
	CreditCost int64
	// WatermarkBytes is how much output to accumulate before the one-shot
	// opening-tag structure check.
	WatermarkBytes int
	// Timeout bounds the whole upstream call.
	Timeout time.Duration
	// HistoryDepth is how many prior generations to fold into the prompt
	// when the request asks for conversation history.
	HistoryDepth int
}

// Orchestrator runs streamed generations. One Run per request; the
// orchestrator itself is stateless across runs.
type Orchestrator struct {
	upstream Upstream
	store    PersistStore
	guard    QuotaGuard
	opts     Options
}

// NewOrchestrator wires an Orchestrator with its collaborators.
func NewOrchestrator(upstream Upstream, store PersistStore, guard QuotaGuard, opts Options) *Orchestrator {
	if opts.CreditCost <= 0 {
		opts.CreditCost = 1
	}
	if opts.WatermarkBytes <= 0 {
		opts.WatermarkBytes = 2000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Orchestrator{upstream: upstream, store: store, guard: guard, opts: opts}
}

// GenerateRequest describes one client generation request.
type GenerateRequest struct {
	ArticleID   string `json:"article_id"`
	Language    string `json:"language"`
	Instruction string `json:"instruction"`
	WithHistory bool   `json:"with_history"`
}

// Outcome summarizes a generation that reached stream end. Incomplete
// section extraction is reported here, not as an error: partial output is
// still persisted and billed.
type Outcome struct {
	TranslationID string          `json:"translation_id"`
	VersionNumber int64           `json:"version_number"`
	Complete      bool            `json:"complete"`
	Missing       []sections.Name `json:"missing,omitempty"`
	BytesStreamed int             `json:"bytes_streamed"`
	TokensUsed    int             `json:"tokens_used"`
	CreditedOwner *models.Owner   `json:"credited_owner,omitempty"`
	// CreditErr records a post-hoc consume failure. It never rolls back
	// the persisted version.
	CreditErr error `json:"-"`
}

// Run executes one generation. On the failure path (upstream error, client
// disconnect, timeout) it returns an error and nothing durable happens; on
// the success path exactly one version, one log entry and one credit
// decrement are produced.
func (o *Orchestrator) Run(ctx context.Context, rc models.RequestContext, req GenerateRequest, transport Transport) (*Outcome, error) {
	translation, err := o.store.EnsureTranslation(ctx, req.ArticleID, req.Language)
	if err != nil {
		return nil, fmt.Errorf("resolve translation: %w", err)
	}

	prompt, err := o.buildPrompt(ctx, translation.ID, req)
	if err != nil {
		return nil, err
	}

	chain := rc.OwnerChain()
	if len(chain) == 0 {
		return nil, fmt.Errorf("request context has no billable owner")
	}

	// Advisory only; the binding decision is the atomic consume after the
	// stream ends.
	decision, err := o.guard.CheckAvailable(ctx, chain, models.KindAIToken, o.opts.CreditCost)
	if err != nil {
		return nil, fmt.Errorf("credit pre-flight: %w", err)
	}
	if !decision.Sufficient {
		return nil, &QuotaError{Kind: models.KindAIToken, Amount: o.opts.CreditCost}
	}

	streamCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	start := time.Now()
	stream, err := o.upstream.Open(streamCtx, Request{
		Prompt:   prompt,
		System:   systemPrompt(req.Language),
		Language: req.Language,
		Model:    o.opts.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("open upstream: %w", err)
	}
	defer stream.Close()

	parser := sections.NewParser()
	var raw strings.Builder
	watermarkChecked := false

	for {
		chunk, nerr := stream.Next()
		if len(chunk) > 0 {
			// Relay first: forwarding never waits on parsing.
			if werr := transport.WriteChunk(chunk); werr != nil {
				cancel()
				log.Printf("client disconnected after %d bytes for translation %s: %v; partial output: %s",
					raw.Len(), translation.ID, werr, truncate(raw.String(), 512))
				return nil, fmt.Errorf("write to client: %v: %w", werr, ErrAborted)
			}
			raw.Write(chunk)
			parser.Feed(chunk)

			if !watermarkChecked && parser.BytesProcessed() >= o.opts.WatermarkBytes {
				watermarkChecked = true
				if !parser.HasOpeningTag(o.opts.WatermarkBytes) {
					log.Printf("structural anomaly for translation %s: no opening tag within first %d bytes",
						translation.ID, o.opts.WatermarkBytes)
				}
			}
		}
		if errors.Is(nerr, io.EOF) {
			break
		}
		if nerr != nil {
			log.Printf("upstream stream failed after %d bytes for translation %s: %v; partial output: %s",
				raw.Len(), translation.ID, nerr, truncate(raw.String(), 512))
			return nil, fmt.Errorf("upstream stream: %w", nerr)
		}
	}

	rawText := raw.String()
	outcome := &Outcome{
		TranslationID: translation.ID,
		Complete:      parser.Complete(),
		Missing:       parser.Missing(),
		BytesStreamed: parser.BytesProcessed(),
		TokensUsed:    tokens.Count(prompt, rawText),
	}
	if !outcome.Complete {
		log.Printf("incomplete generation for translation %s: missing %v, status %v, %d bytes",
			translation.ID, outcome.Missing, parser.Status(), outcome.BytesStreamed)
	}

	// The client may drop the connection the instant the stream ends; the
	// durable writes and the billing still belong to this attempt.
	pctx := context.WithoutCancel(ctx)

	version := &models.ArticleVersion{
		TranslationID: translation.ID,
		Prompt:        prompt,
		Response:      rawText,
		Content:       rawText,
		AuthorID:      rc.UserID,
	}
	if err := o.store.CreateVersion(pctx, version); err != nil {
		return nil, fmt.Errorf("persist version: %w", err)
	}
	outcome.VersionNumber = version.VersionNumber

	if err := o.store.AppendGeneration(pctx, &models.GenerationLogEntry{
		TranslationID: translation.ID,
		UserID:        rc.UserID,
		Model:         o.opts.Model,
		Prompt:        prompt,
		Response:      rawText,
		TokensUsed:    outcome.TokensUsed,
		Complete:      outcome.Complete,
		LatencyMs:     time.Since(start).Milliseconds(),
	}); err != nil {
		return nil, fmt.Errorf("append generation log: %w", err)
	}

	if outcome.Complete {
		opening, _ := parser.Section(sections.Opening)
		title, _ := parser.Section(sections.Title)
		body, _ := parser.Section(sections.Content)
		closing, _ := parser.Section(sections.Closing)
		if err := o.store.UpdateTranslationSections(pctx, translation.ID, opening, title, body, closing, rawText); err != nil {
			log.Printf("update translation %s sections error: %v", translation.ID, err)
		}
	}

	owner, _, err := o.guard.ConsumeFirst(pctx, chain, models.KindAIToken, o.opts.CreditCost)
	if err != nil {
		// Post-hoc race: another request drained the balance since the
		// pre-flight. The persisted version stays.
		log.Printf("credit consume failed for translation %s version %d: %v",
			translation.ID, outcome.VersionNumber, err)
		outcome.CreditErr = err
		return outcome, nil
	}
	outcome.CreditedOwner = &owner

	return outcome, nil
}

// buildPrompt assembles the prompt material, optionally folding in prior
// generations for the same translation.
func (o *Orchestrator) buildPrompt(ctx context.Context, translationID string, req GenerateRequest) (string, error) {
	if !req.WithHistory || o.opts.HistoryDepth <= 0 {
		return req.Instruction, nil
	}
	prior, err := o.store.PriorGenerations(ctx, translationID, o.opts.HistoryDepth)
	if err != nil {
		return "", fmt.Errorf("load conversation history: %w", err)
	}
	if len(prior) == 0 {
		return req.Instruction, nil
	}

	var b strings.Builder
	for _, e := range prior {
		b.WriteString("Earlier request:\n")
		b.WriteString(e.Prompt)
		b.WriteString("\n\nEarlier article:\n")
		b.WriteString(e.Response)
		b.WriteString("\n\n")
	}
	b.WriteString(req.Instruction)
	return b.String(), nil
}

func systemPrompt(language string) string {
	return "You write employee-benefits articles in " + language + ". " +
		"Wrap the output in exactly four tagged sections: " +
		"<opening>...</opening><title>...</title><content>...</content><closing>...</closing>."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
