package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/raphaottoni/camps-dct/internal/persistence"
)

// Store is a persistence.Store backed by GORM (SQLite or Postgres), the
// reference backend shipped alongside the in-memory one. SelectResource and
// UpdateResource do their own query-level filtering; the dispatcher's
// selection lock still serializes the select-then-mark-INPROGRESS sequence
// across goroutines, so Store itself needs no extra locking for that purpose.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New opens (and migrates) a GORM-backed Store.
func New(cfg Config) (*Store, error) {
	database, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: database, logger: cfg.Logger}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("gormstore: get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping verifies that the database connection is still alive. The ambient
// HTTP surface's /healthz handler calls this when the configured backend
// supports it.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("gormstore: get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// SelectResource returns the oldest AVAILABLE resource, or ok=false if none
// remain. Selection order across eligible resources is otherwise
// unspecified, per spec.
func (s *Store) SelectResource(ctx context.Context) (persistence.Candidate, bool, error) {
	var row resourceModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(persistence.Available)).
		Order("created_at ASC, id ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return persistence.Candidate{}, false, nil
	}
	if err != nil {
		return persistence.Candidate{}, false, fmt.Errorf("%w: select resource: %v", persistence.ErrBackend, err)
	}
	return persistence.Candidate{ID: row.ID.String(), ResponseCode: row.ResponseCode, Annotation: row.Annotation}, true, nil
}

// UpdateResource is idempotent: writing the same status/response/annotation
// twice succeeds both times.
func (s *Store) UpdateResource(ctx context.Context, id string, status persistence.Status, responseCode, annotation, clientName string) error {
	rid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid resource id %q: %v", persistence.ErrBackend, id, err)
	}

	result := s.db.WithContext(ctx).
		Model(&resourceModel{}).
		Where("id = ?", rid).
		Updates(map[string]any{
			"status":        string(status),
			"response_code": responseCode,
			"annotation":    annotation,
			"client_name":   clientName,
		})
	if result.Error != nil {
		return fmt.Errorf("%w: update resource %s: %v", persistence.ErrBackend, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: resource %s not found", persistence.ErrBackend, id)
	}
	return nil
}

// TotalResourcesCount returns the number of resources ever loaded.
func (s *Store) TotalResourcesCount(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&resourceModel{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("%w: count resources: %v", persistence.ErrBackend, err)
	}
	return total, nil
}

// ResourcesCollectedCount returns the number of SUCCEEDED resources.
func (s *Store) ResourcesCollectedCount(ctx context.Context) (int64, error) {
	var collected int64
	err := s.db.WithContext(ctx).
		Model(&resourceModel{}).
		Where("status = ?", string(persistence.Succeeded)).
		Count(&collected).Error
	if err != nil {
		return 0, fmt.Errorf("%w: count collected resources: %v", persistence.ErrBackend, err)
	}
	return collected, nil
}

// Seed inserts n new AVAILABLE resources with freshly generated ids,
// returning the ids in insertion order. Used by `campsd seed`.
func (s *Store) Seed(ctx context.Context, n int) ([]string, error) {
	ids := make([]string, 0, n)
	rows := make([]resourceModel, 0, n)
	for i := 0; i < n; i++ {
		row := resourceModel{Status: string(persistence.Available)}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return ids, nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: seed resources: %v", persistence.ErrBackend, err)
	}
	for _, row := range rows {
		ids = append(ids, row.ID.String())
	}
	return ids, nil
}

var _ persistence.Store = (*Store)(nil)
