package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/routes"
	"github.com/uptrace/bun"
)

// RouteStore is the durable catalog of route definitions, persisted as JSON
// blobs keyed by the internal tenant-scoped key.
type RouteStore struct {
	db     *bun.DB
	logger *slog.Logger
}

// NewRouteStore creates a RouteStore.
func NewRouteStore(db *bun.DB, handler slog.Handler) *RouteStore {
	logger := slog.Default().WithGroup("storage.RouteStore")
	if handler != nil {
		logger = slog.New(handler).WithGroup("storage.RouteStore")
	}
	return &RouteStore{db: db, logger: logger}
}

// Save upserts a definition row under its internal key.
func (s *RouteStore) Save(ctx context.Context, def *routes.Definition) error {
	blob, err := def.MarshalJSONBlob()
	if err != nil {
		return err
	}
	rec := &RouteRecord{
		ID:             def.Key(),
		Name:           def.Name,
		TenantID:       def.TenantID,
		Description:    def.Description,
		DefinitionJSON: string(blob),
		Status:         string(def.Status),
		Version:        def.SchemaVersion,
		UpdatedAt:      time.Now(),
	}
	_, err = s.db.NewInsert().
		Model(rec).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("description = EXCLUDED.description").
		Set("definition_json = EXCLUDED.definition_json").
		Set("status = EXCLUDED.status").
		Set("version = EXCLUDED.version").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("saving route %s: %w", def.Key(), err)
	}
	return nil
}

// UpdateStatus persists a lifecycle transition without rewriting the blob.
func (s *RouteStore) UpdateStatus(ctx context.Context, key string, status routes.Status) error {
	res, err := s.db.NewUpdate().
		Model((*RouteRecord)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", key, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("%w: %s", errz.ErrRouteNotFound, key)
	}
	return nil
}

// Delete removes the row for an internal key. A key without a row reports
// ErrRouteNotFound so the registry can tell a cleared row from a missing one.
func (s *RouteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.NewDelete().
		Model((*RouteRecord)(nil)).
		Where("id = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deleting route %s: %w", key, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("%w: %s", errz.ErrRouteNotFound, key)
	}
	return nil
}

// LoadAll reads and normalizes every persisted definition. Rows with a newer
// schema than the runtime are rejected; rows that fail to decode are skipped
// with an error log so one bad blob cannot block startup. Legacy rows keyed
// without the tenant separator are rewritten to tenant-scoped keys,
// best-effort.
func (s *RouteStore) LoadAll(ctx context.Context) ([]*routes.Definition, error) {
	var records []RouteRecord
	if err := s.db.NewSelect().Model(&records).Order("updated_at ASC").Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading route catalog: %w", err)
	}

	defs := make([]*routes.Definition, 0, len(records))
	for _, rec := range records {
		def, err := routes.ParseDefinition([]byte(rec.DefinitionJSON))
		if err != nil {
			if errors.Is(err, errz.ErrSchemaVersion) {
				return nil, err
			}
			s.logger.Error("Skipping undecodable route row", "id", rec.ID, "error", err)
			continue
		}
		if def.Status == "" {
			def.Status = routes.Status(rec.Status)
		}

		if !strings.Contains(rec.ID, routes.KeySeparator) {
			s.migrateLegacyKey(ctx, rec, def)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// migrateLegacyKey rewrites a pre-tenancy row under its tenant-scoped key.
// Failure leaves the old row in place; it remains usable under the old key
// until the next successful save.
func (s *RouteStore) migrateLegacyKey(ctx context.Context, rec RouteRecord, def *routes.Definition) {
	newKey := def.Key()
	s.logger.Info("Migrating legacy route key", "old", rec.ID, "new", newKey)
	if err := s.Save(ctx, def); err != nil {
		s.logger.Warn("Legacy key migration failed, keeping old row", "id", rec.ID, "error", err)
		return
	}
	if _, err := s.db.NewDelete().
		Model((*RouteRecord)(nil)).
		Where("id = ?", rec.ID).
		Exec(ctx); err != nil {
		s.logger.Warn("Failed to delete legacy route row", "id", rec.ID, "error", err)
	}
}
