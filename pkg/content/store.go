// Package content persists articles, their translations, the append-only
// version history, and the generation log.
package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/benefitpress/scribe/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store implements the persistence port with a SQLite database.
type Store struct {
	db *sql.DB
}

const createArticlesTable = `
CREATE TABLE IF NOT EXISTS articles (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	author_id       TEXT NOT NULL,
	slug            TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_articles_org ON articles(organization_id);
`

const createTranslationsTable = `
CREATE TABLE IF NOT EXISTS article_translations (
	id         TEXT PRIMARY KEY,
	article_id TEXT NOT NULL,
	language   TEXT NOT NULL,
	opening    TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	closing    TEXT NOT NULL DEFAULT '',
	raw        TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (article_id, language)
);
`

const createVersionsTable = `
CREATE TABLE IF NOT EXISTS article_versions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	translation_id TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	prompt         TEXT NOT NULL,
	response       TEXT NOT NULL,
	content        TEXT NOT NULL,
	author_id      TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (translation_id, version_number)
);
`

const createGenerationLogTable = `
CREATE TABLE IF NOT EXISTS generation_log (
	id             TEXT PRIMARY KEY,
	translation_id TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	model          TEXT NOT NULL,
	prompt         TEXT NOT NULL,
	response       TEXT NOT NULL,
	tokens_used    INTEGER NOT NULL,
	complete       INTEGER NOT NULL DEFAULT 0,
	latency_ms     INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_genlog_translation ON generation_log(translation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_genlog_created ON generation_log(created_at);
`

// New opens the content database and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open content db: %w", err)
	}

	for _, stmt := range []string{createArticlesTable, createTranslationsTable, createVersionsTable, createGenerationLogTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate content db: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// CreateArticle stores a new article, assigning an ID if none is set.
func (s *Store) CreateArticle(ctx context.Context, a *models.Article) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (id, organization_id, author_id, slug, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.OrganizationID, a.AuthorID, a.Slug, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create article: %w", err)
	}
	return nil
}

// GetArticle returns one article by ID.
func (s *Store) GetArticle(ctx context.Context, id string) (models.Article, error) {
	var a models.Article
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, author_id, slug, created_at FROM articles WHERE id = ?`, id,
	).Scan(&a.ID, &a.OrganizationID, &a.AuthorID, &a.Slug, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Article{}, fmt.Errorf("article %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Article{}, fmt.Errorf("get article: %w", err)
	}
	return a, nil
}

// ListArticles returns articles, optionally filtered by organization.
func (s *Store) ListArticles(ctx context.Context, organizationID string) ([]models.Article, error) {
	query := `SELECT id, organization_id, author_id, slug, created_at FROM articles`
	var args []any
	if organizationID != "" {
		query += ` WHERE organization_id = ?`
		args = append(args, organizationID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var articles []models.Article
	for rows.Next() {
		var a models.Article
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.AuthorID, &a.Slug, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// EnsureTranslation returns the translation of an article in the given
// language, creating an empty one on first request.
func (s *Store) EnsureTranslation(ctx context.Context, articleID, language string) (models.ArticleTranslation, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO article_translations (id, article_id, language, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(article_id, language) DO NOTHING`,
		uuid.NewString(), articleID, language, now,
	)
	if err != nil {
		return models.ArticleTranslation{}, fmt.Errorf("ensure translation: %w", err)
	}

	var tr models.ArticleTranslation
	err = s.db.QueryRowContext(ctx,
		`SELECT id, article_id, language, opening, title, content, closing, raw, updated_at
		 FROM article_translations WHERE article_id = ? AND language = ?`,
		articleID, language,
	).Scan(&tr.ID, &tr.ArticleID, &tr.Language, &tr.Opening, &tr.Title, &tr.Content, &tr.Closing, &tr.Raw, &tr.UpdatedAt)
	if err != nil {
		return models.ArticleTranslation{}, fmt.Errorf("load translation: %w", err)
	}
	return tr, nil
}

// GetTranslation returns one translation by ID.
func (s *Store) GetTranslation(ctx context.Context, id string) (models.ArticleTranslation, error) {
	var tr models.ArticleTranslation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, article_id, language, opening, title, content, closing, raw, updated_at
		 FROM article_translations WHERE id = ?`, id,
	).Scan(&tr.ID, &tr.ArticleID, &tr.Language, &tr.Opening, &tr.Title, &tr.Content, &tr.Closing, &tr.Raw, &tr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ArticleTranslation{}, fmt.Errorf("translation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.ArticleTranslation{}, fmt.Errorf("get translation: %w", err)
	}
	return tr, nil
}

// ListTranslations returns all translations of an article.
func (s *Store) ListTranslations(ctx context.Context, articleID string) ([]models.ArticleTranslation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, article_id, language, opening, title, content, closing, raw, updated_at
		 FROM article_translations WHERE article_id = ? ORDER BY language`, articleID)
	if err != nil {
		return nil, fmt.Errorf("list translations: %w", err)
	}
	defer rows.Close()

	var trs []models.ArticleTranslation
	for rows.Next() {
		var tr models.ArticleTranslation
		if err := rows.Scan(&tr.ID, &tr.ArticleID, &tr.Language, &tr.Opening, &tr.Title, &tr.Content, &tr.Closing, &tr.Raw, &tr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		trs = append(trs, tr)
	}
	return trs, rows.Err()
}

// UpdateTranslationSections replaces the authoritative section texts of a
// translation after a complete extraction.
func (s *Store) UpdateTranslationSections(ctx context.Context, id, opening, title, content, closing, raw string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE article_translations
		 SET opening = ?, title = ?, content = ?, closing = ?, raw = ?, updated_at = ?
		 WHERE id = ?`,
		opening, title, content, closing, raw, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update translation sections: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update translation sections: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("translation %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateVersion appends an immutable version snapshot. The version number
// is computed and inserted in a single statement, so two concurrent
// generations against the same translation cannot receive the same number;
// the unique index backs that up.
func (s *Store) CreateVersion(ctx context.Context, v *models.ArticleVersion) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO article_versions (translation_id, version_number, prompt, response, content, author_id, created_at)
		 VALUES (?,
		         (SELECT COALESCE(MAX(version_number), 0) + 1 FROM article_versions WHERE translation_id = ?),
		         ?, ?, ?, ?, ?)
		 RETURNING id, version_number`,
		v.TranslationID, v.TranslationID, v.Prompt, v.Response, v.Content, v.AuthorID, v.CreatedAt,
	).Scan(&v.ID, &v.VersionNumber)
	if err != nil {
		return fmt.Errorf("create version: %w", err)
	}
	return nil
}

// ListVersions returns the version history of a translation, newest first.
func (s *Store) ListVersions(ctx context.Context, translationID string) ([]models.ArticleVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, translation_id, version_number, prompt, response, content, author_id, created_at
		 FROM article_versions WHERE translation_id = ? ORDER BY version_number DESC`,
		translationID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []models.ArticleVersion
	for rows.Next() {
		var v models.ArticleVersion
		if err := rows.Scan(&v.ID, &v.TranslationID, &v.VersionNumber, &v.Prompt, &v.Response, &v.Content, &v.AuthorID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// AppendGeneration writes one generation-log row. Rows are never updated
// or deleted by the generation flow.
func (s *Store) AppendGeneration(ctx context.Context, e *models.GenerationLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_log (id, translation_id, user_id, model, prompt, response, tokens_used, complete, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TranslationID, e.UserID, e.Model, e.Prompt, e.Response, e.TokensUsed, e.Complete, e.LatencyMs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append generation: %w", err)
	}
	return nil
}

// QueryGenerations returns generation-log entries matching the options.
func (s *Store) QueryGenerations(ctx context.Context, opts models.GenerationQueryOpts) ([]models.GenerationLogEntry, error) {
	q := `SELECT id, translation_id, user_id, model, prompt, response, tokens_used, complete, latency_ms, created_at
	      FROM generation_log WHERE 1=1`
	var args []any

	if opts.TranslationID != "" {
		q += " AND translation_id = ?"
		args = append(args, opts.TranslationID)
	}
	if opts.UserID != "" {
		q += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var entries []models.GenerationLogEntry
	for rows.Next() {
		var e models.GenerationLogEntry
		if err := rows.Scan(&e.ID, &e.TranslationID, &e.UserID, &e.Model, &e.Prompt, &e.Response, &e.TokensUsed, &e.Complete, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PriorGenerations returns the most recent prompt/response pairs for a
// translation, oldest first, for building conversation history.
func (s *Store) PriorGenerations(ctx context.Context, translationID string, limit int) ([]models.GenerationLogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, translation_id, user_id, model, prompt, response, tokens_used, complete, latency_ms, created_at
		 FROM generation_log WHERE translation_id = ? ORDER BY created_at DESC LIMIT ?`,
		translationID, limit)
	if err != nil {
		return nil, fmt.Errorf("prior generations: %w", err)
	}
	defer rows.Close()

	var entries []models.GenerationLogEntry
	for rows.Next() {
		var e models.GenerationLogEntry
		if err := rows.Scan(&e.ID, &e.TranslationID, &e.UserID, &e.Model, &e.Prompt, &e.Response, &e.TokensUsed, &e.Complete, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Cleanup deletes generation-log entries older than retentionDays.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("generation log cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
