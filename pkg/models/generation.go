package models

import "time"

// GenerationLogEntry is one append-only audit row per generation attempt
// that reached the upstream call and streamed to the end. Never mutated.
type GenerationLogEntry struct {
	ID            string    `json:"id"`
	TranslationID string    `json:"translation_id"`
	UserID        string    `json:"user_id"`
	Model         string    `json:"model"`
	Prompt        string    `json:"prompt"`
	Response      string    `json:"response"`
	TokensUsed    int       `json:"tokens_used"`
	Complete      bool      `json:"complete"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// GenerationQueryOpts filters generation-log queries.
type GenerationQueryOpts struct {
	TranslationID string
	UserID        string
	Since         time.Time
	Limit         int
}
