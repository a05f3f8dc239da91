package database

import (
	"context"
	"fmt"

	"content-regions/config"
	"content-regions/errors"
	"content-regions/models"
)

// Reader holds the read side of the chunk store
type Reader interface {
	// Get returns the chunk with the given id or a CHUNK_NOT_FOUND error
	Get(ctx context.Context, id int64) (*models.Chunk, error)
	// MaxPosition returns the highest position in the pair, 0 when empty
	MaxPosition(ctx context.Context, parent models.ParentRef, region string) (int, error)
	// ChunksAtOrAfter returns chunks with position >= position, ascending.
	// It and CountInRegion are store contract operations for callers outside
	// the reflow engine, which settles whole regions through ListRegion.
	ChunksAtOrAfter(ctx context.Context, parent models.ParentRef, region string, position int) ([]models.Chunk, error)
	// CountInRegion returns how many chunks the pair holds
	CountInRegion(ctx context.Context, parent models.ParentRef, region string) (int, error)
	CountByKind(ctx context.Context, parent models.ParentRef, region string, kind models.Kind) (int, error)
	// ListRegion orders by position, then most recently modified first, then id
	ListRegion(ctx context.Context, parent models.ParentRef, region string) ([]models.Chunk, error)
	// ListParent returns every chunk of a parent ordered by region, then as ListRegion
	ListParent(ctx context.Context, parent models.ParentRef) ([]models.Chunk, error)
	// RegionPairs returns position statistics for every (parent, region) pair
	RegionPairs(ctx context.Context) ([]models.RegionPair, error)
}

// Tx is a unit of work. Every reflow runs inside exactly one Tx; nothing it
// writes is visible to other readers until the transaction commits.
type Tx interface {
	Reader

	// Lock serializes reflows touching the given parent until the transaction ends
	Lock(ctx context.Context, parent models.ParentRef) error
	// Insert assigns ID, CreatedAt and ModifiedAt
	Insert(ctx context.Context, chunk *models.Chunk) error
	// Save persists region and position and bumps ModifiedAt
	Save(ctx context.Context, chunk *models.Chunk) error
	Delete(ctx context.Context, id int64) error
	// BulkShift adds delta to the position of every chunk in the pair whose
	// position is >= threshold, except excludeID, in a single statement
	BulkShift(ctx context.Context, parent models.ParentRef, region string, threshold, delta int, excludeID int64) (int64, error)
	// SetPosition rewrites one position without touching ModifiedAt
	SetPosition(ctx context.Context, id int64, position int) error
}

// Store owns chunk persistence
type Store interface {
	Reader

	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// ChunkNotFound builds the error returned when an id does not resolve
func ChunkNotFound(id int64) error {
	return errors.NewNotFoundError(
		errors.ErrCodeChunkNotFound,
		fmt.Sprintf("chunk %d not found", id),
		nil,
	)
}

func emptyPayload(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte("{}")
	}
	return payload
}

// Open connects the store selected by cfg.Driver and makes sure its table exists
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return OpenSQLiteStore(cfg.SQLitePath, cfg.Table)
	case config.DriverPostgres, "":
		pool, err := connectPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		repo := NewChunkRepository(pool, cfg.Table)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, errors.NewValidationError(
			errors.ErrCodeConfigurationError,
			fmt.Sprintf("unsupported database driver %q", cfg.Driver),
			nil,
		)
	}
}
