package store

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"logpipe/internal/models"
)

const (
	processedLogsTable = "processed_logs"
	idIndex            = "id"
)

// MemoryStore keeps records in an in-process go-memdb table.
type MemoryStore struct {
	db *memdb.MemDB
}

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			processedLogsTable: {
				Name: processedLogsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:   idIndex, // (tenant_id, log_id) primary key
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "TenantID"},
								&memdb.StringFieldIndex{Field: "LogID"},
							},
						},
					},
				},
			},
		},
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

// Write inserts a copy of rec, replacing any record with the same key.
func (s *MemoryStore) Write(ctx context.Context, tenantID, logID string, rec *models.ProcessedLog) error {
	if err := checkKey(tenantID, logID, rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := *rec
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(processedLogsTable, &stored); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", tenantID, logID, err)
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, logID string) (*models.ProcessedLog, error) {
	if err := checkKey(tenantID, logID, nil); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(processedLogsTable, idIndex, tenantID, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", tenantID, logID, err)
	}
	if obj == nil {
		return nil, ErrNotFound
	}
	rec := *obj.(*models.ProcessedLog)
	return &rec, nil
}

// Count returns the number of records held for tenantID.
func (s *MemoryStore) Count(tenantID string) (int, error) {
	if err := checkID(tenantID); err != nil {
		return 0, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(processedLogsTable, idIndex+"_prefix", tenantID)
	if err != nil {
		return 0, err
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
