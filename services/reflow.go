package services

import (
	"context"
	"sort"
	"time"

	"content-regions/database"
	"content-regions/errors"
	"content-regions/models"
)

// ReflowEngine is the only writer of chunk positions. Every operation locks
// the parent, mutates, and renumbers the touched regions to 1..N inside a
// single transaction, then publishes events once the transaction committed.
type ReflowEngine struct {
	store    database.Store
	resolver *RegionResolver
	registry *KindRegistry
	bus      *EventBus
	metrics  MetricsService
	logger   Logger
	retry    *errors.RetryConfig
}

// NewReflowEngine wires the engine. bus may be nil when nobody listens.
func NewReflowEngine(store database.Store, resolver *RegionResolver, registry *KindRegistry, bus *EventBus, logger Logger) *ReflowEngine {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &ReflowEngine{
		store:    store,
		resolver: resolver,
		registry: registry,
		bus:      bus,
		logger:   logger.With(String("component", "reflow")),
		retry:    errors.DatabaseRetryConfig(),
	}
}

// WithMetrics records operation durations and failures into m
func (e *ReflowEngine) WithMetrics(m MetricsService) *ReflowEngine {
	e.metrics = m
	return e
}

// Move places a chunk at the requested position, possibly in another region
// of the same parent, and renumbers what it displaced
func (e *ReflowEngine) Move(ctx context.Context, req models.MoveRequest) (*models.MoveResult, error) {
	start := time.Now()

	result, err := errors.ExecuteWithResult(ctx, e.retry, func() (*models.MoveResult, error) {
		var result *models.MoveResult
		err := e.store.WithinTx(ctx, func(tx database.Tx) error {
			var err error
			result, err = e.move(ctx, tx, req)
			return err
		})
		return result, err
	})
	e.observe("move", start, err)
	if err != nil {
		return nil, err
	}

	e.logger.Info("chunk moved",
		Int64("chunk_id", result.Chunk.ID),
		String("parent", result.Chunk.Parent.Key()),
		String("source_region", result.SourceRegion),
		String("region", result.Chunk.Region),
		Int("position", result.Chunk.Position),
		Int("affected", len(result.DestinationAffected)+len(result.SourceAffected)))

	e.publish(ctx, moveEvents(result)...)
	return result, nil
}

func (e *ReflowEngine) move(ctx context.Context, tx database.Tx, req models.MoveRequest) (*models.MoveResult, error) {
	chunk, err := e.lockChunk(ctx, tx, req.ChunkID)
	if err != nil {
		return nil, err
	}

	source := chunk.Region
	oldPosition := chunk.Position

	dest, err := e.resolver.ResolveRegion(req.Template, req.Region, source)
	if err != nil {
		return nil, err
	}
	position := req.Position
	if position < 1 {
		position = 1
	}
	cross := dest != source

	if cross {
		count, err := tx.CountByKind(ctx, chunk.Parent, dest, chunk.Kind)
		if err != nil {
			return nil, err
		}
		if err := e.resolver.CheckLimit(req.Template, dest, chunk.Kind, count); err != nil {
			return nil, err
		}
	}

	destBefore, err := e.snapshot(ctx, tx, chunk.Parent, dest)
	if err != nil {
		return nil, err
	}
	var sourceBefore map[int64]int
	if cross {
		if sourceBefore, err = e.snapshot(ctx, tx, chunk.Parent, source); err != nil {
			return nil, err
		}
	}

	if _, err := tx.BulkShift(ctx, chunk.Parent, dest, position, 1, chunk.ID); err != nil {
		return nil, err
	}

	chunk.Region = dest
	chunk.Position = position
	if err := tx.Save(ctx, chunk); err != nil {
		return nil, err
	}

	if cross {
		if _, err := tx.BulkShift(ctx, chunk.Parent, source, oldPosition, -1, 0); err != nil {
			return nil, err
		}
	}

	destAfter, _, err := e.settle(ctx, tx, chunk.Parent, dest, chunk.ID, position)
	if err != nil {
		return nil, err
	}

	result := &models.MoveResult{
		SourceRegion: source,
		CrossRegion:  cross,
	}
	result.DestinationAffected = affectedIDs(destBefore, destAfter, chunk.ID)

	if cross {
		sourceAfter, _, err := e.settle(ctx, tx, chunk.Parent, source, 0, 0)
		if err != nil {
			return nil, err
		}
		result.SourceAffected = affectedIDs(sourceBefore, sourceAfter, 0)
	}

	for _, c := range destAfter {
		if c.ID == chunk.ID {
			chunk.Position = c.Position
		}
	}
	result.Chunk = *chunk
	return result, nil
}

// Add inserts a new chunk. Without a position, or past the end, it is
// appended; otherwise the chunks from that slot on move down by one.
func (e *ReflowEngine) Add(ctx context.Context, req models.AddRequest) (*models.Chunk, error) {
	if req.Parent.Type == "" || req.Parent.ID == "" {
		return nil, errors.NewValidationError(errors.ErrCodeMissingField, "parent type and id are required", nil)
	}
	if err := ValidateRegionField(req.Region); err != nil {
		return nil, err
	}
	if _, err := e.registry.Decode(req.Kind, req.Payload); err != nil {
		return nil, err
	}

	start := time.Now()
	var affected []int64

	chunk, err := errors.ExecuteWithResult(ctx, e.retry, func() (*models.Chunk, error) {
		var chunk *models.Chunk
		err := e.store.WithinTx(ctx, func(tx database.Tx) error {
			var err error
			chunk, affected, err = e.add(ctx, tx, req)
			return err
		})
		return chunk, err
	})
	e.observe("add", start, err)
	if err != nil {
		return nil, err
	}

	e.logger.Info("chunk added",
		Int64("chunk_id", chunk.ID),
		String("parent", chunk.Parent.Key()),
		String("region", chunk.Region),
		String("kind", string(chunk.Kind)),
		Int("position", chunk.Position))

	e.publish(ctx, ChunkAdded{EventMeta: newEventMeta(), Chunk: *chunk, Affected: affected})
	return chunk, nil
}

func (e *ReflowEngine) add(ctx context.Context, tx database.Tx, req models.AddRequest) (*models.Chunk, []int64, error) {
	if err := tx.Lock(ctx, req.Parent); err != nil {
		return nil, nil, err
	}

	count, err := tx.CountByKind(ctx, req.Parent, req.Region, req.Kind)
	if err != nil {
		return nil, nil, err
	}
	if err := e.resolver.CheckLimit(req.Template, req.Region, req.Kind, count); err != nil {
		return nil, nil, err
	}

	highest, err := tx.MaxPosition(ctx, req.Parent, req.Region)
	if err != nil {
		return nil, nil, err
	}
	before, err := e.snapshot(ctx, tx, req.Parent, req.Region)
	if err != nil {
		return nil, nil, err
	}

	position := req.Position
	if position < 1 || position > highest {
		position = highest + 1
	} else if _, err := tx.BulkShift(ctx, req.Parent, req.Region, position, 1, 0); err != nil {
		return nil, nil, err
	}

	chunk := &models.Chunk{
		Parent:   req.Parent,
		Region:   req.Region,
		Position: position,
		Kind:     req.Kind,
		Payload:  req.Payload,
	}
	if err := tx.Insert(ctx, chunk); err != nil {
		return nil, nil, err
	}

	after, _, err := e.settle(ctx, tx, req.Parent, req.Region, chunk.ID, position)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range after {
		if c.ID == chunk.ID {
			chunk.Position = c.Position
		}
	}
	return chunk, affectedIDs(before, after, chunk.ID), nil
}

// Delete removes a chunk and closes the gap it leaves
func (e *ReflowEngine) Delete(ctx context.Context, id int64) (*models.Chunk, error) {
	start := time.Now()
	var affected []int64

	chunk, err := errors.ExecuteWithResult(ctx, e.retry, func() (*models.Chunk, error) {
		var chunk *models.Chunk
		err := e.store.WithinTx(ctx, func(tx database.Tx) error {
			locked, err := e.lockChunk(ctx, tx, id)
			if err != nil {
				return err
			}
			chunk = locked
			before, err := e.snapshot(ctx, tx, chunk.Parent, chunk.Region)
			if err != nil {
				return err
			}
			if err := tx.Delete(ctx, chunk.ID); err != nil {
				return err
			}
			if _, err := tx.BulkShift(ctx, chunk.Parent, chunk.Region, chunk.Position, -1, 0); err != nil {
				return err
			}
			after, _, err := e.settle(ctx, tx, chunk.Parent, chunk.Region, 0, 0)
			if err != nil {
				return err
			}
			affected = affectedIDs(before, after, 0)
			return nil
		})
		return chunk, err
	})
	e.observe("delete", start, err)
	if err != nil {
		return nil, err
	}

	e.logger.Info("chunk deleted",
		Int64("chunk_id", chunk.ID),
		String("parent", chunk.Parent.Key()),
		String("region", chunk.Region),
		Int("affected", len(affected)))

	e.publish(ctx, ChunkDeleted{EventMeta: newEventMeta(), Chunk: *chunk, Affected: affected})
	return chunk, nil
}

// Consolidate renumbers one region to 1..N and returns how many positions it
// rewrote. Any rewrite publishes RegionConsolidated. A second run right after
// the first writes nothing.
func (e *ReflowEngine) Consolidate(ctx context.Context, parent models.ParentRef, region string) (int, error) {
	start := time.Now()

	affected, err := errors.ExecuteWithResult(ctx, e.retry, func() ([]int64, error) {
		var affected []int64
		err := e.store.WithinTx(ctx, func(tx database.Tx) error {
			if err := tx.Lock(ctx, parent); err != nil {
				return err
			}
			before, err := e.snapshot(ctx, tx, parent, region)
			if err != nil {
				return err
			}
			ordered, _, err := e.settle(ctx, tx, parent, region, 0, 0)
			if err != nil {
				return err
			}
			affected = affectedIDs(before, ordered, 0)
			return nil
		})
		return affected, err
	})
	e.observe("consolidate", start, err)
	if err != nil {
		return 0, err
	}

	writes := len(affected)
	if writes > 0 {
		e.logger.Info("region consolidated",
			String("parent", parent.Key()),
			String("region", region),
			Int("writes", writes))
		e.publish(ctx, RegionConsolidated{
			EventMeta: newEventMeta(),
			Parent:    parent,
			Region:    region,
			Affected:  affected,
		})
	}
	return writes, nil
}

// lockChunk loads the chunk to learn its parent, takes the parent lock and
// reloads it so the positions read afterwards are current
func (e *ReflowEngine) lockChunk(ctx context.Context, tx database.Tx, id int64) (*models.Chunk, error) {
	chunk, err := tx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Lock(ctx, chunk.Parent); err != nil {
		return nil, err
	}
	return tx.Get(ctx, id)
}

func (e *ReflowEngine) snapshot(ctx context.Context, tx database.Tx, parent models.ParentRef, region string) (map[int64]int, error) {
	chunks, err := tx.ListRegion(ctx, parent, region)
	if err != nil {
		return nil, err
	}
	positions := make(map[int64]int, len(chunks))
	for _, c := range chunks {
		positions[c.ID] = c.Position
	}
	return positions, nil
}

// settle orders a region by position then id and writes ranks 1..N where
// they differ. When moverID is set the mover takes slot target, clamped to
// the region size, ahead of anything else there.
func (e *ReflowEngine) settle(ctx context.Context, tx database.Tx, parent models.ParentRef, region string, moverID int64, target int) ([]models.Chunk, int, error) {
	chunks, err := tx.ListRegion(ctx, parent, region)
	if err != nil {
		return nil, 0, err
	}

	ordered := settledOrder(chunks, moverID, target)

	writes := 0
	for i := range ordered {
		rank := i + 1
		if ordered[i].Position == rank {
			continue
		}
		if err := tx.SetPosition(ctx, ordered[i].ID, rank); err != nil {
			return nil, writes, err
		}
		ordered[i].Position = rank
		writes++
	}

	if e.metrics != nil && writes > 0 {
		e.metrics.AddCounter(MetricPositionWrites, int64(writes), nil)
	}
	return ordered, writes, nil
}

func settledOrder(chunks []models.Chunk, moverID int64, target int) []models.Chunk {
	rest := make([]models.Chunk, 0, len(chunks))
	var mover *models.Chunk
	for i := range chunks {
		if moverID != 0 && chunks[i].ID == moverID {
			m := chunks[i]
			mover = &m
			continue
		}
		rest = append(rest, chunks[i])
	}

	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Position != rest[j].Position {
			return rest[i].Position < rest[j].Position
		}
		return rest[i].ID < rest[j].ID
	})

	if mover == nil {
		return rest
	}

	slot := target - 1
	if slot < 0 {
		slot = 0
	}
	if slot > len(rest) {
		slot = len(rest)
	}

	ordered := make([]models.Chunk, 0, len(chunks))
	ordered = append(ordered, rest[:slot]...)
	ordered = append(ordered, *mover)
	ordered = append(ordered, rest[slot:]...)
	return ordered
}

// affectedIDs lists, in settled order, the chunks whose position differs from
// before. include is always listed.
func affectedIDs(before map[int64]int, after []models.Chunk, include int64) []int64 {
	affected := []int64{}
	for _, c := range after {
		old, existed := before[c.ID]
		if c.ID == include || !existed || old != c.Position {
			affected = append(affected, c.ID)
		}
	}
	return affected
}

func (e *ReflowEngine) publish(ctx context.Context, events ...Event) {
	if e.bus == nil {
		return
	}
	// listener failures are logged by the bus and never reach the caller
	_ = e.bus.Publish(ctx, events...)
}

func (e *ReflowEngine) observe(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	tags := map[string]string{"op": op}
	e.metrics.RecordDuration(MetricReflowDuration, time.Since(start), tags)
	if err != nil {
		code := "unknown"
		if appErr, ok := errors.AsAppError(err); ok {
			code = appErr.Code
		}
		e.metrics.IncrementCounter(MetricReflowErrors, map[string]string{"op": op, "code": code})
	}
}
