package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DefaultSource is recorded when a message does not say where it came from.
const DefaultSource = "unknown"

var (
	ErrMissingTenant = errors.New("tenant_id is required")
	ErrMissingLogID  = errors.New("log_id is required")
	ErrEmptyText     = errors.New("text must not be empty")
	ErrInvalidID     = errors.New("id must not contain control characters")
)

// CheckID rejects ids containing control characters. Stores build compound
// keys from tenant and log ids with separator bytes, so an id carrying one
// could address another tenant's record.
func CheckID(id string) error {
	if i := strings.IndexFunc(id, unicode.IsControl); i >= 0 {
		return fmt.Errorf("%w: %q at byte %d", ErrInvalidID, id[i], i)
	}
	return nil
}

// LogMessage defines the message structure for log submissions
// Used across ingestion, processing, and messaging layers
type LogMessage struct {
	TenantID string `json:"tenant_id"`
	LogID    string `json:"log_id"`
	Text     string `json:"text"`
	Source   string `json:"source,omitempty"`
}

// Validate checks the fields every queued message must carry.
func (m *LogMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return ErrMissingTenant
	}
	if strings.TrimSpace(m.LogID) == "" {
		return ErrMissingLogID
	}
	if err := CheckID(m.TenantID); err != nil {
		return fmt.Errorf("tenant_id: %w", err)
	}
	if err := CheckID(m.LogID); err != nil {
		return fmt.Errorf("log_id: %w", err)
	}
	if strings.TrimSpace(m.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// SourceOrDefault returns the message source, or DefaultSource when unset.
func (m *LogMessage) SourceOrDefault() string {
	if m.Source == "" {
		return DefaultSource
	}
	return m.Source
}
