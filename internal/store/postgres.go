package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/config"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/pseudonym"
)

// MappingStore is the durable home of the export/import exchange format.
// Saving is idempotent at the database level: the original value is the
// primary key and conflicts are ignored, mirroring the manager's import
// semantics.
type MappingStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const mappingSchema = `
	CREATE TABLE IF NOT EXISTS pseudonym_mappings (
		original_value TEXT PRIMARY KEY,
		pseudonym      TEXT NOT NULL,
		type           TEXT NOT NULL,
		category       TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// SaveResult reports the outcome of a batch save.
type SaveResult struct {
	Inserted int64         `json:"inserted"`
	Skipped  int64         `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// NewMappingStore connects to Postgres and ensures the schema exists.
func NewMappingStore(cfg config.StoreConfig, logger *zap.Logger) (*MappingStore, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &MappingStore{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, mappingSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure mapping schema: %w", err)
	}

	logger.Info("Mapping store initialized",
		zap.String("database_url", maskURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return store, nil
}

// SaveAll persists a batch of mappings, skipping originals already stored.
func (s *MappingStore) SaveAll(ctx context.Context, mappings []pseudonym.Mapping) (*SaveResult, error) {
	if len(mappings) == 0 {
		return &SaveResult{}, nil
	}

	start := time.Now()
	valueStrings := make([]string, 0, len(mappings))
	valueArgs := make([]interface{}, 0, len(mappings)*5)

	for i, mapping := range mappings {
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", i*5+1, i*5+2, i*5+3, i*5+4, i*5+5))
		valueArgs = append(valueArgs,
			mapping.OriginalValue,
			mapping.Pseudonym,
			string(mapping.Type),
			string(mapping.Category),
			mapping.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO pseudonym_mappings (original_value, pseudonym, type, category, created_at)
		VALUES %s
		ON CONFLICT (original_value) DO NOTHING`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		s.logger.Error("Mapping batch save failed", zap.Error(err))
		return nil, fmt.Errorf("mapping batch save failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(mappings))
	}

	result := &SaveResult{
		Inserted: inserted,
		Skipped:  int64(len(mappings)) - inserted,
		Duration: time.Since(start),
	}

	s.logger.Info("Mappings persisted",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("skipped", result.Skipped),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// LoadAll returns every stored mapping in the exchange format.
func (s *MappingStore) LoadAll(ctx context.Context) ([]pseudonym.Mapping, error) {
	var mappings []pseudonym.Mapping
	query := `
		SELECT original_value, pseudonym, type, category, created_at
		FROM pseudonym_mappings
		ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &mappings, query); err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}
	return mappings, nil
}

// Count returns the number of stored mappings.
func (s *MappingStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM pseudonym_mappings"); err != nil {
		return 0, fmt.Errorf("failed to count mappings: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *MappingStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
