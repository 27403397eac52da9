// Package store persists processed log records partitioned by tenant.
//
// Every operation takes exactly one tenant id and every backend keys its
// records by (tenant_id, log_id), so a caller holding one tenant's id has no
// way to address another tenant's records.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"logpipe/internal/models"
)

var (
	ErrMissingTenant = errors.New("store: tenant id is required")
	ErrMissingLogID  = errors.New("store: log id is required")
	ErrNotFound      = errors.New("store: record not found")
	ErrKeyMismatch   = errors.New("store: record does not match its key")
	ErrInvalidKey    = errors.New("store: key contains control characters")
)

// Store is the tenant-partitioned persistence layer.
type Store interface {
	// Write creates or fully replaces the record at (tenantID, logID).
	// Writing the same key twice leaves a single record.
	Write(ctx context.Context, tenantID, logID string, rec *models.ProcessedLog) error

	// Get reads the record at (tenantID, logID) or returns ErrNotFound.
	Get(ctx context.Context, tenantID, logID string) (*models.ProcessedLog, error)

	// Close releases the backend's resources.
	Close() error
}

// checkKey validates a key and, when rec is non-nil, that the record
// carries the same key. Empty record keys are filled in.
func checkKey(tenantID, logID string, rec *models.ProcessedLog) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrMissingTenant
	}
	if strings.TrimSpace(logID) == "" {
		return ErrMissingLogID
	}
	if err := checkID(tenantID); err != nil {
		return err
	}
	if err := checkID(logID); err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if rec.TenantID == "" {
		rec.TenantID = tenantID
	}
	if rec.LogID == "" {
		rec.LogID = logID
	}
	if rec.TenantID != tenantID || rec.LogID != logID {
		return fmt.Errorf("%w: key %s/%s, record %s/%s", ErrKeyMismatch, tenantID, logID, rec.TenantID, rec.LogID)
	}
	return nil
}

// checkID rejects ids that could run into the separator bytes backends use
// to build compound keys.
func checkID(id string) error {
	if err := models.CheckID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// TenantView is a Store bound to a single tenant.
type TenantView struct {
	store    Store
	tenantID string
}

// ForTenant returns a view of s that can only address tenantID's records.
func ForTenant(s Store, tenantID string) (*TenantView, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrMissingTenant
	}
	if err := checkID(tenantID); err != nil {
		return nil, err
	}
	return &TenantView{store: s, tenantID: tenantID}, nil
}

func (v *TenantView) TenantID() string {
	return v.tenantID
}

func (v *TenantView) Write(ctx context.Context, logID string, rec *models.ProcessedLog) error {
	return v.store.Write(ctx, v.tenantID, logID, rec)
}

func (v *TenantView) Get(ctx context.Context, logID string) (*models.ProcessedLog, error) {
	return v.store.Get(ctx, v.tenantID, logID)
}
