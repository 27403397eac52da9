package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"logpipe/internal/models"
)

const (
	tenantKind       = "Tenant"
	processedLogKind = "ProcessedLog"
)

// DatastoreStore keeps each record under its tenant's ancestor key,
// Tenant(tenant_id)/ProcessedLog(log_id).
type DatastoreStore struct {
	client *datastore.Client
	logger *log.Entry
}

// NewDatastoreStore creates a Cloud Datastore client. DATASTORE_EMULATOR_HOST
// is honoured by the client library.
func NewDatastoreStore(ctx context.Context, projectID, credentialsFile string, logger *log.Entry) (*DatastoreStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := datastore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}
	logger.Infof("Connected to datastore project %s", projectID)
	return &DatastoreStore{client: client, logger: logger}, nil
}

func recordKey(tenantID, logID string) *datastore.Key {
	return datastore.NameKey(processedLogKind, logID, datastore.NameKey(tenantKind, tenantID, nil))
}

func (s *DatastoreStore) Write(ctx context.Context, tenantID, logID string, rec *models.ProcessedLog) error {
	if err := checkKey(tenantID, logID, rec); err != nil {
		return err
	}
	entity := *rec
	entity.ProcessedAt = entity.ProcessedAt.UTC()
	if _, err := s.client.Put(ctx, recordKey(tenantID, logID), &entity); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", tenantID, logID, err)
	}
	return nil
}

func (s *DatastoreStore) Get(ctx context.Context, tenantID, logID string) (*models.ProcessedLog, error) {
	if err := checkKey(tenantID, logID, nil); err != nil {
		return nil, err
	}
	var rec models.ProcessedLog
	err := s.client.Get(ctx, recordKey(tenantID, logID), &rec)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", tenantID, logID, err)
	}
	rec.ProcessedAt = rec.ProcessedAt.UTC()
	return &rec, nil
}

func (s *DatastoreStore) Close() error {
	return s.client.Close()
}

var _ Store = (*DatastoreStore)(nil)
