package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-regions/database"
	apperrors "content-regions/errors"
	"content-regions/models"
)

var testParent = models.ParentRef{Type: "page", ID: "1"}

type recordingListener struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingListener) Name() string { return "recorder" }

func (r *recordingListener) Handle(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingListener) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recordingListener) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

type engineFixture struct {
	engine   *ReflowEngine
	store    *database.SQLiteStore
	recorder *recordingListener
	bus      *EventBus
	metrics  *InMemoryMetrics
}

func newEngineFixture(t *testing.T, strict bool) *engineFixture {
	t.Helper()

	store, err := database.OpenSQLiteStore(":memory:", "region_chunks")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	recorder := &recordingListener{}
	bus := NewEventBus(NewNopLogger())
	bus.Subscribe(recorder)

	metrics := NewInMemoryMetrics()
	engine := NewReflowEngine(store, newTestResolver(t, strict), NewBuiltinKindRegistry(), bus, NewNopLogger()).
		WithMetrics(metrics)

	return &engineFixture{engine: engine, store: store, recorder: recorder, bus: bus, metrics: metrics}
}

// seed appends n text chunks to the region and returns their ids in order
func (f *engineFixture) seed(t *testing.T, parent models.ParentRef, region, template string, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		chunk, err := f.engine.Add(context.Background(), models.AddRequest{
			Parent:   parent,
			Region:   region,
			Kind:     models.KindText,
			Payload:  []byte(fmt.Sprintf(`{"body":"chunk %d"}`, i+1)),
			Template: template,
		})
		require.NoError(t, err)
		ids = append(ids, chunk.ID)
	}
	f.recorder.reset()
	return ids
}

// order returns the ids of a region in settled order and checks contiguity
func (f *engineFixture) order(t *testing.T, parent models.ParentRef, region string) []int64 {
	t.Helper()
	chunks, err := f.store.ListRegion(context.Background(), parent, region)
	require.NoError(t, err)

	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Position, "chunk %d in %s", c.ID, region)
		ids[i] = c.ID
	}
	return ids
}

func pick(ids []int64, idx ...int) []int64 {
	out := make([]int64, len(idx))
	for i, j := range idx {
		out[i] = ids[j]
	}
	return out
}

func TestReflowEngine_MoveWithinRegion(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	ids := f.seed(t, testParent, "test", "", 10)

	result, err := f.engine.Move(ctx, models.MoveRequest{ChunkID: ids[4], Position: 2})
	require.NoError(t, err)

	assert.False(t, result.CrossRegion)
	assert.Equal(t, "test", result.Chunk.Region)
	assert.Equal(t, 2, result.Chunk.Position)
	assert.Equal(t, pick(ids, 0, 4, 1, 2, 3, 5, 6, 7, 8, 9), f.order(t, testParent, "test"))
	assert.Equal(t, pick(ids, 4, 1, 2, 3), result.DestinationAffected)
	assert.Empty(t, result.SourceAffected)

	assert.Equal(t, []EventType{EventSameRegionMoveCompleted, EventMoveCompleted}, f.recorder.types())
	moved := f.recorder.events[1].(MoveCompleted)
	assert.Equal(t, pick(ids, 4, 1, 2, 3), moved.Affected)
}

func TestReflowEngine_MoveDownLandsOnRequestedSlot(t *testing.T) {
	tests := []struct {
		name     string
		mover    int
		position int
		want     []int
	}{
		{"down by two", 1, 4, []int{0, 2, 3, 1, 4}},
		{"to the end", 0, 5, []int{1, 2, 3, 4, 0}},
		{"past the end", 0, 99, []int{1, 2, 3, 4, 0}},
		{"onto itself", 2, 3, []int{0, 1, 2, 3, 4}},
		{"to the top", 4, 1, []int{4, 0, 1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, false)
			ids := f.seed(t, testParent, "test", "", 5)

			result, err := f.engine.Move(context.Background(), models.MoveRequest{ChunkID: ids[tt.mover], Position: tt.position})
			require.NoError(t, err)

			assert.Equal(t, pick(ids, tt.want...), f.order(t, testParent, "test"))
			assert.Contains(t, result.DestinationAffected, ids[tt.mover])
		})
	}
}

func TestReflowEngine_MoveAcrossRegions(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	ids := f.seed(t, testParent, "test", "", 5)

	result, err := f.engine.Move(ctx, models.MoveRequest{ChunkID: ids[2], Position: 1, Region: "other"})
	require.NoError(t, err)

	assert.True(t, result.CrossRegion)
	assert.Equal(t, "test", result.SourceRegion)
	assert.Equal(t, "other", result.Chunk.Region)
	assert.Equal(t, 1, result.Chunk.Position)

	assert.Equal(t, pick(ids, 2), f.order(t, testParent, "other"))
	assert.Equal(t, pick(ids, 0, 1, 3, 4), f.order(t, testParent, "test"))
	assert.Equal(t, pick(ids, 2), result.DestinationAffected)
	assert.Equal(t, pick(ids, 3, 4), result.SourceAffected)

	require.Equal(t, []EventType{EventDifferentRegionMoveCompleted, EventMoveCompleted}, f.recorder.types())
	specific := f.recorder.events[0].(DifferentRegionMoveCompleted)
	assert.Equal(t, "test", specific.SourceRegion)
	assert.Equal(t, pick(ids, 3, 4), specific.SourceAffected)
	generic := f.recorder.events[1].(MoveCompleted)
	assert.Equal(t, pick(ids, 2, 3, 4), generic.Affected)
}

func TestReflowEngine_MoveIntoMiddleOfOtherRegion(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	source := f.seed(t, testParent, "left", "", 3)
	dest := f.seed(t, testParent, "right", "", 3)

	_, err := f.engine.Move(ctx, models.MoveRequest{ChunkID: source[0], Position: 2, Region: "right"})
	require.NoError(t, err)

	assert.Equal(t, []int64{dest[0], source[0], dest[1], dest[2]}, f.order(t, testParent, "right"))
	assert.Equal(t, source[1:], f.order(t, testParent, "left"))
}

func TestReflowEngine_DeleteCompactsRegion(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	ids := f.seed(t, testParent, "test", "", 3)

	deleted, err := f.engine.Delete(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[0], deleted.ID)

	assert.Equal(t, ids[1:], f.order(t, testParent, "test"))

	require.Equal(t, []EventType{EventChunkDeleted}, f.recorder.types())
	assert.Equal(t, ids[1:], f.recorder.events[0].(ChunkDeleted).Affected)

	_, err = f.store.Get(ctx, ids[0])
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChunkNotFound))
}

func TestReflowEngine_NegativePositionClampsToTop(t *testing.T) {
	f := newEngineFixture(t, false)
	ids := f.seed(t, testParent, "test", "", 3)

	result, err := f.engine.Move(context.Background(), models.MoveRequest{ChunkID: ids[2], Position: -1})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Chunk.Position)
	assert.Equal(t, pick(ids, 2, 0, 1), f.order(t, testParent, "test"))
}

func TestReflowEngine_UndeclaredRegionFallsBack(t *testing.T) {
	f := newEngineFixture(t, false)
	ids := f.seed(t, testParent, "main_area", "home.html", 3)

	result, err := f.engine.Move(context.Background(), models.MoveRequest{
		ChunkID:  ids[2],
		Position: 1,
		Region:   "NOPE",
		Template: "home.html",
	})
	require.NoError(t, err)

	assert.False(t, result.CrossRegion)
	assert.Equal(t, "main_area", result.Chunk.Region)
	assert.Equal(t, pick(ids, 2, 0, 1), f.order(t, testParent, "main_area"))
	assert.Empty(t, f.order(t, testParent, "NOPE"))
}

func TestReflowEngine_UndeclaredRegionStrict(t *testing.T) {
	f := newEngineFixture(t, true)
	ids := f.seed(t, testParent, "main_area", "home.html", 3)

	_, err := f.engine.Move(context.Background(), models.MoveRequest{
		ChunkID:  ids[2],
		Position: 1,
		Region:   "NOPE",
		Template: "home.html",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRegionNotConfigured))

	assert.Equal(t, ids, f.order(t, testParent, "main_area"))
	assert.Empty(t, f.recorder.types())
}

func TestReflowEngine_InvalidRegionNameFallsBack(t *testing.T) {
	f := newEngineFixture(t, true)
	ids := f.seed(t, testParent, "main_area", "home.html", 2)

	result, err := f.engine.Move(context.Background(), models.MoveRequest{
		ChunkID:  ids[1],
		Position: 1,
		Region:   "_hidden",
		Template: "home.html",
	})
	require.NoError(t, err)
	assert.Equal(t, "main_area", result.Chunk.Region)
	assert.Equal(t, pick(ids, 1, 0), f.order(t, testParent, "main_area"))
}

func TestReflowEngine_MoveMissingChunk(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()

	_, err := f.engine.Move(ctx, models.MoveRequest{ChunkID: 999, Position: 1})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChunkNotFound))

	_, err = f.engine.Delete(ctx, 999)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChunkNotFound))
	assert.Empty(t, f.recorder.types())
	assert.Equal(t, int64(1), f.metrics.CounterValue(MetricReflowErrors, map[string]string{"op": "move", "code": apperrors.ErrCodeChunkNotFound}))
}

func TestReflowEngine_LimitReached(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()

	header := f.seed(t, testParent, "header", "home.html", 1)
	main := f.seed(t, testParent, "main_area", "home.html", 2)

	_, err := f.engine.Move(ctx, models.MoveRequest{
		ChunkID:  main[0],
		Position: 1,
		Region:   "header",
		Template: "home.html",
	})
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeLimitReached, appErr.Code)
	assert.Equal(t, 409, appErr.GetHTTPStatusCode())

	assert.Equal(t, header, f.order(t, testParent, "header"))
	assert.Equal(t, main, f.order(t, testParent, "main_area"))

	// a move within the full region is still a plain reorder
	_, err = f.engine.Move(ctx, models.MoveRequest{ChunkID: header[0], Position: 3, Template: "home.html"})
	require.NoError(t, err)
}

func TestReflowEngine_AddValidation(t *testing.T) {
	tests := []struct {
		name string
		req  models.AddRequest
		code string
	}{
		{
			name: "missing parent",
			req:  models.AddRequest{Region: "main_area", Kind: models.KindText},
			code: apperrors.ErrCodeMissingField,
		},
		{
			name: "invalid region",
			req:  models.AddRequest{Parent: testParent, Region: "_x", Kind: models.KindText},
			code: apperrors.ErrCodeRegionNameInvalid,
		},
		{
			name: "unknown kind",
			req:  models.AddRequest{Parent: testParent, Region: "main_area", Kind: "poll"},
			code: apperrors.ErrCodeUnknownKind,
		},
		{
			name: "bad payload",
			req:  models.AddRequest{Parent: testParent, Region: "main_area", Kind: models.KindText, Payload: []byte(`{"headline":"x"}`)},
			code: apperrors.ErrCodeInvalidPayload,
		},
		{
			name: "disabled kind",
			req: models.AddRequest{Parent: testParent, Region: "header", Kind: models.KindIframe, Template: "home.html",
				Payload: []byte(`{"url":"https://example.com"}`)},
			code: apperrors.ErrCodeKindNotAllowed,
		},
		{
			name: "undeclared region",
			req:  models.AddRequest{Parent: testParent, Region: "sidebar", Kind: models.KindText, Template: "home.html"},
			code: apperrors.ErrCodeRegionNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, false)

			_, err := f.engine.Add(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			assert.Empty(t, f.recorder.types())
		})
	}
}

func TestReflowEngine_AddRespectsLimit(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()

	f.seed(t, testParent, "main_area", "home.html", 1)
	for i := 0; i < 2; i++ {
		_, err := f.engine.Add(ctx, models.AddRequest{
			Parent:   testParent,
			Region:   "main_area",
			Kind:     models.KindFile,
			Payload:  []byte(`{"url":"https://example.com/a.pdf"}`),
			Template: "home.html",
		})
		require.NoError(t, err)
	}

	_, err := f.engine.Add(ctx, models.AddRequest{
		Parent:   testParent,
		Region:   "main_area",
		Kind:     models.KindFile,
		Payload:  []byte(`{"url":"https://example.com/b.pdf"}`),
		Template: "home.html",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeLimitReached))

	// limits are per parent
	other := models.ParentRef{Type: "page", ID: "2"}
	_, err = f.engine.Add(ctx, models.AddRequest{
		Parent:   other,
		Region:   "main_area",
		Kind:     models.KindFile,
		Payload:  []byte(`{"url":"https://example.com/b.pdf"}`),
		Template: "home.html",
	})
	require.NoError(t, err)
}

func TestReflowEngine_AddAtPosition(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	ids := f.seed(t, testParent, "test", "", 3)

	added, err := f.engine.Add(ctx, models.AddRequest{Parent: testParent, Region: "test", Kind: models.KindText, Position: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, added.Position)

	assert.Equal(t, []int64{ids[0], added.ID, ids[1], ids[2]}, f.order(t, testParent, "test"))

	require.Equal(t, []EventType{EventChunkAdded}, f.recorder.types())
	assert.Equal(t, []int64{added.ID, ids[1], ids[2]}, f.recorder.events[0].(ChunkAdded).Affected)

	appended, err := f.engine.Add(ctx, models.AddRequest{Parent: testParent, Region: "test", Kind: models.KindText, Position: 40})
	require.NoError(t, err)
	assert.Equal(t, 5, appended.Position)
}

func TestReflowEngine_ConsolidateIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	ids := f.seed(t, testParent, "test", "", 4)

	// introduce a gap and a duplicate behind the engine's back
	err := f.store.WithinTx(ctx, func(tx database.Tx) error {
		if err := tx.SetPosition(ctx, ids[0], 3); err != nil {
			return err
		}
		return tx.SetPosition(ctx, ids[3], 9)
	})
	require.NoError(t, err)
	f.recorder.reset()

	writes, err := f.engine.Consolidate(ctx, testParent, "test")
	require.NoError(t, err)
	assert.Equal(t, 3, writes)
	assert.Equal(t, pick(ids, 1, 0, 2, 3), f.order(t, testParent, "test"))

	require.Equal(t, []EventType{EventRegionConsolidated}, f.recorder.types())
	consolidated := f.recorder.events[0].(RegionConsolidated)
	assert.Equal(t, testParent, consolidated.Parent)
	assert.Equal(t, "test", consolidated.Region)
	assert.Equal(t, pick(ids, 1, 0, 3), consolidated.Affected)

	f.recorder.reset()
	writes, err = f.engine.Consolidate(ctx, testParent, "test")
	require.NoError(t, err)
	assert.Zero(t, writes)
	assert.Empty(t, f.recorder.types())
}

func TestReflowEngine_IsDeterministic(t *testing.T) {
	run := func() map[int64]int {
		f := newEngineFixture(t, false)
		ctx := context.Background()
		ids := f.seed(t, testParent, "a", "", 6)
		f.seed(t, testParent, "b", "", 3)

		_, err := f.engine.Move(ctx, models.MoveRequest{ChunkID: ids[1], Position: 2, Region: "b"})
		require.NoError(t, err)
		_, err = f.engine.Move(ctx, models.MoveRequest{ChunkID: ids[5], Position: 1})
		require.NoError(t, err)

		chunks, err := f.store.ListParent(ctx, testParent)
		require.NoError(t, err)
		positions := make(map[int64]int, len(chunks))
		for _, c := range chunks {
			positions[c.ID] = c.Position
		}
		return positions
	}

	assert.Equal(t, run(), run())
}

func TestReflowEngine_RandomOperationsKeepRegionsContiguous(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	parents := []models.ParentRef{{Type: "page", ID: "1"}, {Type: "page", ID: "2"}}
	regions := []string{"a", "b", "c"}

	parentCount := func(parent models.ParentRef) int {
		chunks, err := f.store.ListParent(ctx, parent)
		require.NoError(t, err)
		return len(chunks)
	}
	regionCount := func(parent models.ParentRef, region string) int {
		n, err := f.store.CountInRegion(ctx, parent, region)
		require.NoError(t, err)
		return n
	}

	for step := 0; step < 200; step++ {
		parent := parents[rng.Intn(len(parents))]
		chunks, err := f.store.ListParent(ctx, parent)
		require.NoError(t, err)

		switch op := rng.Intn(10); {
		case op < 4 || len(chunks) == 0:
			_, err := f.engine.Add(ctx, models.AddRequest{
				Parent:   parent,
				Region:   regions[rng.Intn(len(regions))],
				Kind:     models.KindText,
				Position: rng.Intn(8) - 1,
			})
			require.NoError(t, err)
		case op < 8:
			mover := chunks[rng.Intn(len(chunks))]
			region := regions[rng.Intn(len(regions))]
			total := parentCount(parent)
			src, dst := regionCount(parent, mover.Region), regionCount(parent, region)

			result, err := f.engine.Move(ctx, models.MoveRequest{
				ChunkID:  mover.ID,
				Position: rng.Intn(10) - 2,
				Region:   region,
			})
			require.NoError(t, err)

			assert.Equal(t, total, parentCount(parent), "move changed parent count at step %d", step)
			if result.CrossRegion {
				assert.Equal(t, src-1, regionCount(parent, mover.Region))
				assert.Equal(t, dst+1, regionCount(parent, region))
			}
		default:
			_, err := f.engine.Delete(ctx, chunks[rng.Intn(len(chunks))].ID)
			require.NoError(t, err)
		}

		pairs, err := f.store.RegionPairs(ctx)
		require.NoError(t, err)
		for _, pair := range pairs {
			require.True(t, pair.IsContiguous(), "step %d: %+v", step, pair)
		}
	}

	for _, parent := range parents {
		for _, region := range regions {
			writes, err := f.engine.Consolidate(ctx, parent, region)
			require.NoError(t, err)
			assert.Zero(t, writes)
		}
	}
}

func TestReflowEngine_ListenerFailureDoesNotFailMove(t *testing.T) {
	f := newEngineFixture(t, false)
	ids := f.seed(t, testParent, "test", "", 2)

	f.bus.Subscribe(ListenerFunc{
		ListenerName: "broken",
		Fn: func(ctx context.Context, event Event) error {
			return fmt.Errorf("listener down")
		},
	})

	_, err := f.engine.Move(context.Background(), models.MoveRequest{ChunkID: ids[1], Position: 1})
	require.NoError(t, err)
	assert.Equal(t, pick(ids, 1, 0), f.order(t, testParent, "test"))
	assert.Len(t, f.recorder.types(), 2)
}

func TestSettledOrder(t *testing.T) {
	chunks := []models.Chunk{
		{ID: 4, Position: 2},
		{ID: 2, Position: 2},
		{ID: 1, Position: 1},
		{ID: 9, Position: 7},
	}

	order := func(cs []models.Chunk) []int64 {
		ids := make([]int64, len(cs))
		for i, c := range cs {
			ids[i] = c.ID
		}
		return ids
	}

	assert.Equal(t, []int64{1, 2, 4, 9}, order(settledOrder(chunks, 0, 0)))
	assert.Equal(t, []int64{1, 4, 2, 9}, order(settledOrder(chunks, 4, 2)))
	assert.Equal(t, []int64{4, 1, 2, 9}, order(settledOrder(chunks, 4, -3)))
	assert.Equal(t, []int64{1, 2, 9, 4}, order(settledOrder(chunks, 4, 50)))
}
