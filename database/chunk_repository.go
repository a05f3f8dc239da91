package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-regions/config"
	"content-regions/errors"
	"content-regions/models"
)

// PostgreSQL error classes that mean "run the transaction again"
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const chunkColumns = `id, parent_type, parent_id, region, position, kind, payload, created_at, modified_at`

// pgQuerier is satisfied by both the pool and a pgx.Tx
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ChunkRepository is the PostgreSQL chunk store
type ChunkRepository struct {
	pgQueries
	pool *pgxpool.Pool
}

// NewChunkRepository creates a chunk store over the given pool and table
func NewChunkRepository(pool *pgxpool.Pool, table string) *ChunkRepository {
	return &ChunkRepository{
		pgQueries: pgQueries{q: pool, table: quoteTable(table), rawTable: table},
		pool:      pool,
	}
}

// EnsureSchema creates the chunk table and its index when missing
func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	ddl, err := Schema(config.DriverPostgres, r.rawTable)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return pgError("failed to create chunk table", err)
	}
	return nil
}

// WithinTx runs fn in one read committed transaction, committed only when fn
// returns nil. Reflows serialize on an advisory lock taken inside it.
func (r *ChunkRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.NewDatabaseError(errors.ErrCodeDatabaseConnection, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{pgQueries{q: tx, table: r.table, rawTable: r.rawTable}}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return pgError("failed to commit transaction", err)
	}
	return nil
}

// Ping round-trips a trivial query through the pool
func (r *ChunkRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return pgError("ping failed", err)
	}
	return nil
}

func (r *ChunkRepository) Close() error {
	r.pool.Close()
	return nil
}

// pgTx exposes the write side of pgQueries
type pgTx struct {
	pgQueries
}

// Lock takes a transaction scoped advisory lock on the parent
func (t *pgTx) Lock(ctx context.Context, parent models.ParentRef) error {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, parent.Key()); err != nil {
		return pgError("failed to lock parent "+parent.Key(), err)
	}
	return nil
}

func (t *pgTx) Insert(ctx context.Context, chunk *models.Chunk) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO %s (parent_type, parent_id, region, position, kind, payload, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`, t.table)

	err := t.q.QueryRow(ctx, query,
		chunk.Parent.Type,
		chunk.Parent.ID,
		chunk.Region,
		chunk.Position,
		string(chunk.Kind),
		emptyPayload(chunk.Payload),
		now,
	).Scan(&chunk.ID)
	if err != nil {
		return pgError("failed to insert chunk", err)
	}

	chunk.CreatedAt = now
	chunk.ModifiedAt = now
	return nil
}

func (t *pgTx) Save(ctx context.Context, chunk *models.Chunk) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE %s SET region = $2, position = $3, modified_at = $4 WHERE id = $1`, t.table)

	tag, err := t.q.Exec(ctx, query, chunk.ID, chunk.Region, chunk.Position, now)
	if err != nil {
		return pgError("failed to save chunk", err)
	}
	if tag.RowsAffected() == 0 {
		return ChunkNotFound(chunk.ID)
	}
	chunk.ModifiedAt = now
	return nil
}

func (t *pgTx) Delete(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.table), id)
	if err != nil {
		return pgError("failed to delete chunk", err)
	}
	if tag.RowsAffected() == 0 {
		return ChunkNotFound(id)
	}
	return nil
}

func (t *pgTx) BulkShift(ctx context.Context, parent models.ParentRef, region string, threshold, delta int, excludeID int64) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET position = position + $4
		WHERE parent_type = $1 AND parent_id = $2 AND region = $3
		  AND position >= $5 AND id <> $6`, t.table)

	tag, err := t.q.Exec(ctx, query, parent.Type, parent.ID, region, delta, threshold, excludeID)
	if err != nil {
		return 0, pgError("failed to shift positions", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) SetPosition(ctx context.Context, id int64, position int) error {
	query := fmt.Sprintf(`UPDATE %s SET position = $2 WHERE id = $1`, t.table)
	if _, err := t.q.Exec(ctx, query, id, position); err != nil {
		return pgError("failed to set position", err)
	}
	return nil
}

// pgQueries implements Reader over any pgQuerier
type pgQueries struct {
	q        pgQuerier
	table    string
	rawTable string
}

func (p *pgQueries) Get(ctx context.Context, id int64) (*models.Chunk, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, chunkColumns, p.table)

	chunk, err := scanChunk(p.q.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, ChunkNotFound(id)
	}
	if err != nil {
		return nil, pgError("failed to query chunk", err)
	}
	return chunk, nil
}

func (p *pgQueries) MaxPosition(ctx context.Context, parent models.ParentRef, region string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(MAX(position), 0) FROM %s
		WHERE parent_type = $1 AND parent_id = $2 AND region = $3`, p.table)

	var highest int
	if err := p.q.QueryRow(ctx, query, parent.Type, parent.ID, region).Scan(&highest); err != nil {
		return 0, pgError("failed to query max position", err)
	}
	return highest, nil
}

func (p *pgQueries) ChunksAtOrAfter(ctx context.Context, parent models.ParentRef, region string, position int) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE parent_type = $1 AND parent_id = $2 AND region = $3 AND position >= $4
		ORDER BY position ASC, id ASC`, chunkColumns, p.table)

	return p.list(ctx, query, parent.Type, parent.ID, region, position)
}

func (p *pgQueries) CountInRegion(ctx context.Context, parent models.ParentRef, region string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE parent_type = $1 AND parent_id = $2 AND region = $3`, p.table)

	var count int
	if err := p.q.QueryRow(ctx, query, parent.Type, parent.ID, region).Scan(&count); err != nil {
		return 0, pgError("failed to count chunks", err)
	}
	return count, nil
}

func (p *pgQueries) CountByKind(ctx context.Context, parent models.ParentRef, region string, kind models.Kind) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE parent_type = $1 AND parent_id = $2 AND region = $3 AND kind = $4`, p.table)

	var count int
	if err := p.q.QueryRow(ctx, query, parent.Type, parent.ID, region, string(kind)).Scan(&count); err != nil {
		return 0, pgError("failed to count chunks by kind", err)
	}
	return count, nil
}

func (p *pgQueries) ListRegion(ctx context.Context, parent models.ParentRef, region string) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE parent_type = $1 AND parent_id = $2 AND region = $3
		ORDER BY position ASC, modified_at DESC, id ASC`, chunkColumns, p.table)

	return p.list(ctx, query, parent.Type, parent.ID, region)
}

func (p *pgQueries) ListParent(ctx context.Context, parent models.ParentRef) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE parent_type = $1 AND parent_id = $2
		ORDER BY region ASC, position ASC, modified_at DESC, id ASC`, chunkColumns, p.table)

	return p.list(ctx, query, parent.Type, parent.ID)
}

func (p *pgQueries) RegionPairs(ctx context.Context) ([]models.RegionPair, error) {
	query := fmt.Sprintf(`
		SELECT parent_type, parent_id, region,
		       COUNT(*), MIN(position), MAX(position), COUNT(DISTINCT position)
		FROM %s
		GROUP BY parent_type, parent_id, region
		ORDER BY parent_type, parent_id, region`, p.table)

	rows, err := p.q.Query(ctx, query)
	if err != nil {
		return nil, pgError("failed to query region pairs", err)
	}
	defer rows.Close()

	var pairs []models.RegionPair
	for rows.Next() {
		var pair models.RegionPair
		if err := rows.Scan(
			&pair.Parent.Type,
			&pair.Parent.ID,
			&pair.Region,
			&pair.Count,
			&pair.MinPosition,
			&pair.MaxPosition,
			&pair.DistinctPositions,
		); err != nil {
			return nil, pgError("failed to scan region pair", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("error iterating region pairs", err)
	}
	return pairs, nil
}

func (p *pgQueries) list(ctx context.Context, query string, args ...any) ([]models.Chunk, error) {
	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, pgError("failed to query chunks", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, pgError("failed to scan chunk", err)
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("error iterating rows", err)
	}
	return chunks, nil
}

func scanChunk(row pgx.Row) (*models.Chunk, error) {
	var chunk models.Chunk
	var kind string
	var payload []byte

	err := row.Scan(
		&chunk.ID,
		&chunk.Parent.Type,
		&chunk.Parent.ID,
		&chunk.Region,
		&chunk.Position,
		&kind,
		&payload,
		&chunk.CreatedAt,
		&chunk.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	chunk.Kind = models.Kind(kind)
	chunk.Payload = payload
	return &chunk, nil
}

// pgError classifies a driver error. Serialization failures and deadlocks
// are retryable, everything else is not.
func pgError(message string, err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return errors.NewSerializationError(message, err)
		}
	}
	return errors.NewDatabaseError(errors.ErrCodeDatabaseQuery, message, err)
}
