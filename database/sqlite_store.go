package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"content-regions/config"
	"content-regions/errors"
	"content-regions/models"
)

// SQLiteStore is a single connection chunk store for development, tests and
// the CLI. The mutex makes every transaction exclusive, which doubles as the
// per parent lock.
type SQLiteStore struct {
	mu   sync.Mutex
	conn *sqlite.Conn
	q    sqliteQueries
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the
// chunk table exists. ":memory:" opens a private in-memory database.
func OpenSQLiteStore(path, table string) (*SQLiteStore, error) {
	flags := []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate}
	if path == ":memory:" {
		flags = append(flags, sqlite.OpenMemory)
	} else {
		flags = append(flags, sqlite.OpenWAL)
	}

	conn, err := sqlite.OpenConn(path, flags...)
	if err != nil {
		return nil, errors.NewDatabaseError(errors.ErrCodeDatabaseConnection, "failed to open sqlite database "+path, err)
	}

	ddl, err := Schema(config.DriverSQLite, table)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := sqlitex.ExecuteScript(conn, ddl, nil); err != nil {
		conn.Close()
		return nil, errors.NewDatabaseError(errors.ErrCodeDatabaseQuery, "failed to create chunk table", err)
	}

	return &SQLiteStore{
		conn: conn,
		q:    sqliteQueries{conn: conn, table: quoteTable(table)},
	}, nil
}

// WithinTx runs fn inside an immediate transaction
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)

	endFn, err := sqlitex.ImmediateTransaction(s.conn)
	if err != nil {
		return errors.NewDatabaseError(errors.ErrCodeDatabaseConnection, "failed to begin transaction", err)
	}
	defer endFn(&err)

	return fn(&sqliteTx{s.q})
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.read(ctx, func(q *sqliteQueries) error {
		return sqlitex.Execute(q.conn, "SELECT 1", nil)
	})
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

func (s *SQLiteStore) read(ctx context.Context, fn func(q *sqliteQueries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)

	return fn(&s.q)
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (chunk *models.Chunk, err error) {
	err = s.read(ctx, func(q *sqliteQueries) error {
		chunk, err = q.Get(ctx, id)
		return err
	})
	return chunk, err
}

func (s *SQLiteStore) MaxPosition(ctx context.Context, parent models.ParentRef, region string) (n int, err error) {
	err = s.read(ctx, func(q *sqliteQueries) error {
		n, err = q.MaxPosition(ctx, parent, region)
		return err
	})
	return n, err
}

func (s *SQLiteStore) ChunksAtOrAfter(ctx context.Context, parent models.ParentRef, region string, position int) (chunks []models.Chunk, err error) {
	err = s.read(ctx, func(q *sqliteQueries) error {
		chunks, err = q.ChunksAtOrAfter(ctx, parent, region, position)
		return err
	})
	return chunks, err
}

func (s *SQLiteStore) CountInRegion(ctx context.Context, parent models.ParentRef, region string) (n int, err error) {
	err = s.read(ctx, func(q *sqliteQueries) error {
		n, err = q.CountInRegion(ctx, parent, region)
		return err
	})
	return n, err
}

func (s *SQLiteStore) CountByKind(ctx context.Context, parent models.ParentRef, region string, kind models.Kind) (n int, err error) {
	err = s.read(ctx, func(q *sqliteQueries) error {
		n, err = q.CountByKind(ctx, parent, region, kind)
		return err
	})
	return n, err
}

func (s *SQLiteStore) ListRegion(ctx context.Context, parent models.ParentRef, region string) (chunks []models.Chunk, err error) {
	err = s.read(ctx, func(q *sqliteQueries) error {
		chunks, err = q.ListRegion(ctx, parent, region)
		return err
	})
	return chunks, err
}

func (s *SQLiteStore) ListParent(ctx context.Context, parent models.ParentRef) (chunks []models.Chunk, err error) {
	err = s.read(ctx, func(q *sqliteQueries) error {
		chunks, err = q.ListParent(ctx, parent)
		return err
	})
	return chunks, err
}

func (s *SQLiteStore) RegionPairs(ctx context.Context) (pairs []models.RegionPair, err error) {
	err = s.read(ctx, func(q *sqliteQueries) error {
		pairs, err = q.RegionPairs(ctx)
		return err
	})
	return pairs, err
}

// sqliteTx adds the write side. It is only handed out while the store mutex
// is held by WithinTx.
type sqliteTx struct {
	sqliteQueries
}

// Lock is a no-op: the connection is already exclusive for the transaction
func (t *sqliteTx) Lock(ctx context.Context, parent models.ParentRef) error {
	return nil
}

func (t *sqliteTx) Insert(ctx context.Context, chunk *models.Chunk) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO %s (parent_type, parent_id, region, position, kind, payload, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, t.table)

	err := sqlitex.Execute(t.conn, query, &sqlitex.ExecOptions{
		Args: []any{
			chunk.Parent.Type,
			chunk.Parent.ID,
			chunk.Region,
			chunk.Position,
			string(chunk.Kind),
			string(emptyPayload(chunk.Payload)),
			now.UnixNano(),
			now.UnixNano(),
		},
	})
	if err != nil {
		return sqliteError("failed to insert chunk", err)
	}

	chunk.ID = t.conn.LastInsertRowID()
	chunk.CreatedAt = now
	chunk.ModifiedAt = now
	return nil
}

func (t *sqliteTx) Save(ctx context.Context, chunk *models.Chunk) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE %s SET region = ?, position = ?, modified_at = ? WHERE id = ?`, t.table)

	err := sqlitex.Execute(t.conn, query, &sqlitex.ExecOptions{
		Args: []any{chunk.Region, chunk.Position, now.UnixNano(), chunk.ID},
	})
	if err != nil {
		return sqliteError("failed to save chunk", err)
	}
	if t.conn.Changes() == 0 {
		return ChunkNotFound(chunk.ID)
	}
	chunk.ModifiedAt = now
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, id int64) error {
	err := sqlitex.Execute(t.conn, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.table), &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return sqliteError("failed to delete chunk", err)
	}
	if t.conn.Changes() == 0 {
		return ChunkNotFound(id)
	}
	return nil
}

func (t *sqliteTx) BulkShift(ctx context.Context, parent models.ParentRef, region string, threshold, delta int, excludeID int64) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET position = position + ?
		WHERE parent_type = ? AND parent_id = ? AND region = ?
		  AND position >= ? AND id <> ?`, t.table)

	err := sqlitex.Execute(t.conn, query, &sqlitex.ExecOptions{
		Args: []any{delta, parent.Type, parent.ID, region, threshold, excludeID},
	})
	if err != nil {
		return 0, sqliteError("failed to shift positions", err)
	}
	return int64(t.conn.Changes()), nil
}

func (t *sqliteTx) SetPosition(ctx context.Context, id int64, position int) error {
	err := sqlitex.Execute(t.conn, fmt.Sprintf(`UPDATE %s SET position = ? WHERE id = ?`, t.table), &sqlitex.ExecOptions{
		Args: []any{position, id},
	})
	if err != nil {
		return sqliteError("failed to set position", err)
	}
	return nil
}

// sqliteQueries implements Reader over a connection the caller owns
type sqliteQueries struct {
	conn  *sqlite.Conn
	table string
}

func (q *sqliteQueries) Get(ctx context.Context, id int64) (*models.Chunk, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, chunkColumns, q.table)

	chunks, err := q.list(query, id)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ChunkNotFound(id)
	}
	return &chunks[0], nil
}

func (q *sqliteQueries) MaxPosition(ctx context.Context, parent models.ParentRef, region string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(MAX(position), 0) FROM %s
		WHERE parent_type = ? AND parent_id = ? AND region = ?`, q.table)

	n, err := q.scalar(query, parent.Type, parent.ID, region)
	if err != nil {
		return 0, sqliteError("failed to query max position", err)
	}
	return n, nil
}

func (q *sqliteQueries) ChunksAtOrAfter(ctx context.Context, parent models.ParentRef, region string, position int) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE parent_type = ? AND parent_id = ? AND region = ? AND position >= ?
		ORDER BY position ASC, id ASC`, chunkColumns, q.table)

	return q.list(query, parent.Type, parent.ID, region, position)
}

func (q *sqliteQueries) CountInRegion(ctx context.Context, parent models.ParentRef, region string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE parent_type = ? AND parent_id = ? AND region = ?`, q.table)

	n, err := q.scalar(query, parent.Type, parent.ID, region)
	if err != nil {
		return 0, sqliteError("failed to count chunks", err)
	}
	return n, nil
}

func (q *sqliteQueries) CountByKind(ctx context.Context, parent models.ParentRef, region string, kind models.Kind) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE parent_type = ? AND parent_id = ? AND region = ? AND kind = ?`, q.table)

	n, err := q.scalar(query, parent.Type, parent.ID, region, string(kind))
	if err != nil {
		return 0, sqliteError("failed to count chunks by kind", err)
	}
	return n, nil
}

func (q *sqliteQueries) ListRegion(ctx context.Context, parent models.ParentRef, region string) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE parent_type = ? AND parent_id = ? AND region = ?
		ORDER BY position ASC, modified_at DESC, id ASC`, chunkColumns, q.table)

	return q.list(query, parent.Type, parent.ID, region)
}

func (q *sqliteQueries) ListParent(ctx context.Context, parent models.ParentRef) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE parent_type = ? AND parent_id = ?
		ORDER BY region ASC, position ASC, modified_at DESC, id ASC`, chunkColumns, q.table)

	return q.list(query, parent.Type, parent.ID)
}

func (q *sqliteQueries) RegionPairs(ctx context.Context) ([]models.RegionPair, error) {
	query := fmt.Sprintf(`
		SELECT parent_type, parent_id, region,
		       COUNT(*), MIN(position), MAX(position), COUNT(DISTINCT position)
		FROM %s
		GROUP BY parent_type, parent_id, region
		ORDER BY parent_type, parent_id, region`, q.table)

	var pairs []models.RegionPair
	err := sqlitex.Execute(q.conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			pairs = append(pairs, models.RegionPair{
				Parent: models.ParentRef{
					Type: stmt.ColumnText(0),
					ID:   stmt.ColumnText(1),
				},
				Region:            stmt.ColumnText(2),
				Count:             stmt.ColumnInt(3),
				MinPosition:       stmt.ColumnInt(4),
				MaxPosition:       stmt.ColumnInt(5),
				DistinctPositions: stmt.ColumnInt(6),
			})
			return nil
		},
	})
	if err != nil {
		return nil, sqliteError("failed to query region pairs", err)
	}
	return pairs, nil
}

func (q *sqliteQueries) list(query string, args ...any) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := sqlitex.Execute(q.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			chunks = append(chunks, models.Chunk{
				ID: stmt.ColumnInt64(0),
				Parent: models.ParentRef{
					Type: stmt.ColumnText(1),
					ID:   stmt.ColumnText(2),
				},
				Region:     stmt.ColumnText(3),
				Position:   stmt.ColumnInt(4),
				Kind:       models.Kind(stmt.ColumnText(5)),
				Payload:    []byte(stmt.ColumnText(6)),
				CreatedAt:  time.Unix(0, stmt.ColumnInt64(7)).UTC(),
				ModifiedAt: time.Unix(0, stmt.ColumnInt64(8)).UTC(),
			})
			return nil
		},
	})
	if err != nil {
		return nil, sqliteError("failed to query chunks", err)
	}
	return chunks, nil
}

func (q *sqliteQueries) scalar(query string, args ...any) (int, error) {
	var n int
	err := sqlitex.Execute(q.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt(0)
			return nil
		},
	})
	return n, err
}

// sqliteError maps busy and locked results to retryable errors
func sqliteError(message string, err error) error {
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return errors.NewSerializationError(message, err)
	}
	return errors.NewDatabaseError(errors.ErrCodeDatabaseQuery, message, err)
}
