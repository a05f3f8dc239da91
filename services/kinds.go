package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"content-regions/errors"
	"content-regions/models"
)

// Content is the decoded, kind specific part of a chunk
type Content interface {
	Kind() models.Kind
}

// RenderContext tells a renderer where its chunk sits
type RenderContext struct {
	Parent   models.ParentRef
	Template string
	Region   string
	ChunkID  int64
	Position int
}

// ChunkRenderer turns decoded content into markup. RenderIntoRegion returns
// false when the chunk has nothing to show.
type ChunkRenderer interface {
	RenderIntoRegion(ctx context.Context, content Content, rc RenderContext) (string, bool, error)
	RenderIntoSummary(ctx context.Context, content Content, rc RenderContext) string
}

// KindDecoder decodes a raw payload into the concrete content of one kind
type KindDecoder func(payload json.RawMessage) (Content, error)

// KindPlugin binds a discriminator to its decoder and renderer
type KindPlugin struct {
	Kind     models.Kind
	Decode   KindDecoder
	Renderer ChunkRenderer
}

// ResolvedChunk is a chunk row together with its decoded content
type ResolvedChunk struct {
	models.Chunk
	Content Content `json:"content"`
}

// KindRegistry maps discriminators to plugins. Plugins register once at
// startup; lookups are safe for concurrent use.
type KindRegistry struct {
	mu      sync.RWMutex
	plugins map[models.Kind]KindPlugin
}

// NewKindRegistry creates an empty registry
func NewKindRegistry() *KindRegistry {
	return &KindRegistry{plugins: make(map[models.Kind]KindPlugin)}
}

// Register adds a plugin. Registering the same kind twice is an error.
func (r *KindRegistry) Register(plugin KindPlugin) error {
	if plugin.Kind == "" || plugin.Decode == nil || plugin.Renderer == nil {
		return fmt.Errorf("kind plugin %q is incomplete", plugin.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[plugin.Kind]; exists {
		return fmt.Errorf("kind %q already registered", plugin.Kind)
	}
	r.plugins[plugin.Kind] = plugin
	return nil
}

// MustRegister is Register for startup code
func (r *KindRegistry) MustRegister(plugin KindPlugin) {
	if err := r.Register(plugin); err != nil {
		panic(err)
	}
}

// Lookup returns the plugin registered for kind
func (r *KindRegistry) Lookup(kind models.Kind) (KindPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugin, ok := r.plugins[kind]
	return plugin, ok
}

// Kinds lists registered kinds in name order
func (r *KindRegistry) Kinds() []models.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.Kind, 0, len(r.plugins))
	for kind := range r.plugins {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Decode checks that payload is valid content for kind
func (r *KindRegistry) Decode(kind models.Kind, payload json.RawMessage) (Content, error) {
	plugin, ok := r.Lookup(kind)
	if !ok {
		return nil, errors.NewValidationError(
			errors.ErrCodeUnknownKind,
			fmt.Sprintf("unknown chunk kind %q", kind),
			nil,
		)
	}

	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	content, err := plugin.Decode(payload)
	if err != nil {
		return nil, errors.NewValidationError(
			errors.ErrCodeInvalidPayload,
			fmt.Sprintf("invalid %s payload", kind),
			err,
		)
	}
	return content, nil
}

// Resolve decodes a stored chunk into its concrete content
func (r *KindRegistry) Resolve(chunk models.Chunk) (*ResolvedChunk, error) {
	content, err := r.Decode(chunk.Kind, chunk.Payload)
	if err != nil {
		return nil, err
	}
	return &ResolvedChunk{Chunk: chunk, Content: content}, nil
}

// ResolveAll resolves chunks keeping their order
func (r *KindRegistry) ResolveAll(chunks []models.Chunk) ([]ResolvedChunk, error) {
	resolved := make([]ResolvedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		rc, err := r.Resolve(chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", chunk.ID, err)
		}
		resolved = append(resolved, *rc)
	}
	return resolved, nil
}

// Dispatcher routes resolved chunks to their kind's renderer
type Dispatcher struct {
	registry *KindRegistry
	logger   Logger
}

// NewDispatcher creates a dispatcher over the registry
func NewDispatcher(registry *KindRegistry, logger Logger) *Dispatcher {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

func (d *Dispatcher) renderer(kind models.Kind) (ChunkRenderer, error) {
	plugin, ok := d.registry.Lookup(kind)
	if !ok {
		return nil, errors.NewValidationError(
			errors.ErrCodeUnknownKind,
			fmt.Sprintf("no renderer for kind %q", kind),
			nil,
		)
	}
	return plugin.Renderer, nil
}

func renderContextFor(chunk ResolvedChunk, template string) RenderContext {
	return RenderContext{
		Parent:   chunk.Parent,
		Template: template,
		Region:   chunk.Region,
		ChunkID:  chunk.ID,
		Position: chunk.Position,
	}
}

// RenderChunk renders one chunk into its region
func (d *Dispatcher) RenderChunk(ctx context.Context, chunk ResolvedChunk, template string) (string, bool, error) {
	renderer, err := d.renderer(chunk.Kind)
	if err != nil {
		return "", false, err
	}
	markup, ok, err := renderer.RenderIntoRegion(ctx, chunk.Content, renderContextFor(chunk, template))
	if err != nil {
		return "", false, errors.NewInternalError(
			errors.ErrCodeRenderFailed,
			fmt.Sprintf("failed to render chunk %d", chunk.ID),
			err,
		)
	}
	return markup, ok, nil
}

// Summary renders the short admin listing string of a chunk
func (d *Dispatcher) Summary(ctx context.Context, chunk ResolvedChunk, template string) string {
	renderer, err := d.renderer(chunk.Kind)
	if err != nil {
		return string(chunk.Kind)
	}
	return renderer.RenderIntoSummary(ctx, chunk.Content, renderContextFor(chunk, template))
}

// RenderRegion renders settled chunks in order, skipping chunks that have
// nothing to show
func (d *Dispatcher) RenderRegion(ctx context.Context, chunks []ResolvedChunk, template string) ([]string, error) {
	fragments := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		markup, ok, err := d.RenderChunk(ctx, chunk, template)
		if err != nil {
			return nil, err
		}
		if !ok {
			d.logger.Debug("chunk rendered nothing",
				Int64("chunk_id", chunk.ID),
				String("kind", string(chunk.Kind)))
			continue
		}
		fragments = append(fragments, markup)
	}
	return fragments, nil
}
