package models

import "time"

// Article is one content unit owned by an organization. Translations hold
// the actual language-scoped text.
type Article struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	AuthorID       string    `json:"author_id"`
	Slug           string    `json:"slug"`
	CreatedAt      time.Time `json:"created_at"`
}

// ArticleTranslation is the current authoritative text of an article in one
// language. The four section fields are filled from the last generation that
// extracted completely; Raw always holds the last raw stream text.
type ArticleTranslation struct {
	ID        string    `json:"id"`
	ArticleID string    `json:"article_id"`
	Language  string    `json:"language"`
	Opening   string    `json:"opening"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Closing   string    `json:"closing"`
	Raw       string    `json:"raw,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArticleVersion is an immutable snapshot written after each generation
// attempt that reached stream end. Version numbers are strictly increasing
// per translation and never reused.
type ArticleVersion struct {
	ID            int64     `json:"id"`
	TranslationID string    `json:"translation_id"`
	VersionNumber int64     `json:"version_number"`
	Prompt        string    `json:"prompt"`
	Response      string    `json:"response"`
	Content       string    `json:"content"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
}
