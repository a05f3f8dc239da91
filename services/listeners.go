package services

import (
	"context"

	"content-regions/models"
)

// EventChunk returns the chunk an event is about
func EventChunk(event Event) models.Chunk {
	switch e := event.(type) {
	case SameRegionMoveCompleted:
		return e.Chunk
	case DifferentRegionMoveCompleted:
		return e.Chunk
	case MoveCompleted:
		return e.Chunk
	case ChunkAdded:
		return e.Chunk
	case ChunkDeleted:
		return e.Chunk
	}
	return models.Chunk{}
}

// EventScope returns the parent and region an event touched
func EventScope(event Event) (models.ParentRef, string) {
	if consolidated, ok := event.(RegionConsolidated); ok {
		return consolidated.Parent, consolidated.Region
	}
	chunk := EventChunk(event)
	return chunk.Parent, chunk.Region
}

// AuditLogListener writes one structured line per event
type AuditLogListener struct {
	logger Logger
}

func NewAuditLogListener(logger Logger) *AuditLogListener {
	return &AuditLogListener{logger: logger.With(String("component", "audit"))}
}

func (l *AuditLogListener) Name() string { return "audit_log" }

func (l *AuditLogListener) Handle(ctx context.Context, event Event) error {
	parent, region := EventScope(event)
	fields := []LogField{
		String("event", string(event.Type())),
		String("event_id", event.Meta().ID),
		String("parent", parent.Key()),
		String("region", region),
	}
	switch e := event.(type) {
	case RegionConsolidated:
		fields = append(fields, Any("affected", e.Affected))
	case DifferentRegionMoveCompleted:
		fields = append(fields,
			Int64("chunk_id", e.Chunk.ID),
			Int("position", e.Chunk.Position),
			String("source_region", e.SourceRegion),
			Any("source_affected", e.SourceAffected),
			Any("destination_affected", e.DestinationAffected))
	default:
		chunk := EventChunk(event)
		fields = append(fields, Int64("chunk_id", chunk.ID), Int("position", chunk.Position))
	}
	l.logger.Info("region content changed", fields...)
	return nil
}

// CacheInvalidationListener drops every cached listing of the parent touched
// by an event. The generation moves first so a read already in flight cannot
// repopulate a key later reads use.
type CacheInvalidationListener struct {
	cache       CacheService
	generations *ParentGenerations
}

func NewCacheInvalidationListener(cache CacheService, generations *ParentGenerations) *CacheInvalidationListener {
	return &CacheInvalidationListener{cache: cache, generations: generations}
}

func (l *CacheInvalidationListener) Name() string { return "cache_invalidation" }

func (l *CacheInvalidationListener) Handle(ctx context.Context, event Event) error {
	parent, _ := EventScope(event)
	if parent.IsZero() {
		return nil
	}
	l.generations.Advance(parent)
	return l.cache.DeletePattern(ctx, ParentCachePrefix(parent)+"*")
}

// MetricsListener counts events by type
type MetricsListener struct {
	metrics MetricsService
}

func NewMetricsListener(metrics MetricsService) *MetricsListener {
	return &MetricsListener{metrics: metrics}
}

func (l *MetricsListener) Name() string { return "metrics" }

func (l *MetricsListener) Handle(ctx context.Context, event Event) error {
	l.metrics.IncrementCounter(MetricEvents, map[string]string{"type": string(event.Type())})
	return nil
}
