package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"content-regions/models"
)

// EventType names a notification
type EventType string

const (
	EventSameRegionMoveCompleted      EventType = "same_region_move_completed"
	EventDifferentRegionMoveCompleted EventType = "different_region_move_completed"
	EventMoveCompleted                EventType = "move_completed"
	EventChunkAdded                   EventType = "chunk_added"
	EventChunkDeleted                 EventType = "chunk_deleted"
	EventRegionConsolidated           EventType = "region_consolidated"
)

// Event is published after a reflow has committed
type Event interface {
	Type() EventType
	Meta() EventMeta
}

// EventMeta is shared by every event
type EventMeta struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newEventMeta() EventMeta {
	return EventMeta{ID: uuid.NewString(), OccurredAt: time.Now().UTC()}
}

// SameRegionMoveCompleted reports a reorder within one region
type SameRegionMoveCompleted struct {
	EventMeta
	Chunk    models.Chunk `json:"chunk"`
	Affected []int64      `json:"affected"`
}

func (e SameRegionMoveCompleted) Type() EventType { return EventSameRegionMoveCompleted }
func (e SameRegionMoveCompleted) Meta() EventMeta { return e.EventMeta }

// DifferentRegionMoveCompleted reports a move between two regions
type DifferentRegionMoveCompleted struct {
	EventMeta
	Chunk               models.Chunk `json:"chunk"`
	SourceRegion        string       `json:"source_region"`
	SourceAffected      []int64      `json:"source_affected"`
	DestinationAffected []int64      `json:"destination_affected"`
}

func (e DifferentRegionMoveCompleted) Type() EventType { return EventDifferentRegionMoveCompleted }
func (e DifferentRegionMoveCompleted) Meta() EventMeta { return e.EventMeta }

// MoveCompleted follows every specific move event
type MoveCompleted struct {
	EventMeta
	Chunk    models.Chunk `json:"chunk"`
	Affected []int64      `json:"affected"`
}

func (e MoveCompleted) Type() EventType { return EventMoveCompleted }
func (e MoveCompleted) Meta() EventMeta { return e.EventMeta }

// ChunkAdded reports an insert
type ChunkAdded struct {
	EventMeta
	Chunk    models.Chunk `json:"chunk"`
	Affected []int64      `json:"affected"`
}

func (e ChunkAdded) Type() EventType { return EventChunkAdded }
func (e ChunkAdded) Meta() EventMeta { return e.EventMeta }

// ChunkDeleted reports a removal and the compaction that followed
type ChunkDeleted struct {
	EventMeta
	Chunk    models.Chunk `json:"chunk"`
	Affected []int64      `json:"affected"`
}

func (e ChunkDeleted) Type() EventType { return EventChunkDeleted }
func (e ChunkDeleted) Meta() EventMeta { return e.EventMeta }

// RegionConsolidated reports a renumbering pass that rewrote positions
type RegionConsolidated struct {
	EventMeta
	Parent   models.ParentRef `json:"parent"`
	Region   string           `json:"region"`
	Affected []int64          `json:"affected"`
}

func (e RegionConsolidated) Type() EventType { return EventRegionConsolidated }
func (e RegionConsolidated) Meta() EventMeta { return e.EventMeta }

// moveEvents builds the notifications for a settled move, specific event first
func moveEvents(result *models.MoveResult) []Event {
	affected := append([]int64{}, result.DestinationAffected...)
	if result.CrossRegion {
		affected = append(affected, result.SourceAffected...)
	}

	var specific Event
	if result.CrossRegion {
		specific = DifferentRegionMoveCompleted{
			EventMeta:           newEventMeta(),
			Chunk:               result.Chunk,
			SourceRegion:        result.SourceRegion,
			SourceAffected:      result.SourceAffected,
			DestinationAffected: result.DestinationAffected,
		}
	} else {
		specific = SameRegionMoveCompleted{
			EventMeta: newEventMeta(),
			Chunk:     result.Chunk,
			Affected:  result.DestinationAffected,
		}
	}

	return []Event{
		specific,
		MoveCompleted{EventMeta: newEventMeta(), Chunk: result.Chunk, Affected: affected},
	}
}

// Listener consumes events. Returned errors are logged by the bus.
type Listener interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// ListenerFunc adapts a function to Listener
type ListenerFunc struct {
	ListenerName string
	Fn           func(ctx context.Context, event Event) error
}

func (l ListenerFunc) Name() string { return l.ListenerName }

func (l ListenerFunc) Handle(ctx context.Context, event Event) error {
	return l.Fn(ctx, event)
}

// EventBus delivers events synchronously to subscribed listeners. A listener
// subscribed with no types receives everything.
type EventBus struct {
	mu        sync.RWMutex
	listeners []subscription
	logger    Logger
}

type subscription struct {
	listener Listener
	types    map[EventType]bool
}

// NewEventBus creates an empty bus
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &EventBus{logger: logger.With(String("component", "event_bus"))}
}

// Subscribe registers a listener for the given event types
func (b *EventBus) Subscribe(listener Listener, types ...EventType) {
	sub := subscription{listener: listener}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, sub)
}

// Publish hands each event to every interested listener in subscription
// order. Failures are collected, logged and returned for inspection; callers
// of the reflow engine never see them.
func (b *EventBus) Publish(ctx context.Context, events ...Event) error {
	b.mu.RLock()
	listeners := make([]subscription, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	var errs error
	for _, event := range events {
		for _, sub := range listeners {
			if sub.types != nil && !sub.types[event.Type()] {
				continue
			}
			if err := b.deliver(ctx, sub.listener, event); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", sub.listener.Name(), err))
			}
		}
	}

	for _, err := range multierr.Errors(errs) {
		b.logger.Error("event listener failed", err)
	}
	return errs
}

func (b *EventBus) deliver(ctx context.Context, listener Listener, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked on %s: %v", event.Type(), r)
		}
	}()
	return listener.Handle(ctx, event)
}
