package models

import "time"

// ProcessedLog is the record persisted per (tenant_id, log_id) once a
// message has been transformed.
type ProcessedLog struct {
	TenantID              string    `json:"tenant_id" datastore:"tenant_id" db:"tenant_id"`
	LogID                 string    `json:"log_id" datastore:"log_id" db:"log_id"`
	Source                string    `json:"source" datastore:"source" db:"source"`
	OriginalText          string    `json:"original_text" datastore:"original_text,noindex" db:"original_text"`
	ModifiedData          string    `json:"modified_data" datastore:"modified_data,noindex" db:"modified_data"`
	ProcessedAt           time.Time `json:"processed_at" datastore:"processed_at" db:"processed_at"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds" datastore:"processing_time_seconds" db:"processing_time_seconds"`
	TextLength            int       `json:"text_length" datastore:"text_length" db:"text_length"`
}
