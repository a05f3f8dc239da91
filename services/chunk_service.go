package services

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"content-regions/database"
	"content-regions/errors"
	"content-regions/models"
)

// ChunkService is what the HTTP layer talks to. Reads go through the store
// and the listing cache, writes go through the reflow engine.
type ChunkService interface {
	TemplateRegions(template string) (*models.TemplateRegionsResponse, error)
	ListRegions(ctx context.Context, parent models.ParentRef, template string) (*models.ParentRegions, error)
	FetchPolymorphic(ctx context.Context, parent models.ParentRef, region string) ([]ResolvedChunk, error)
	RenderRegion(ctx context.Context, parent models.ParentRef, region, template string) (*models.RenderedRegion, error)
	AddChunk(ctx context.Context, req models.AddRequest) (*models.Chunk, error)
	MoveChunk(ctx context.Context, req models.MoveRequest) (*models.MoveResult, error)
	DeleteChunk(ctx context.Context, id int64) (*models.Chunk, error)
	Consolidate(ctx context.Context, parent models.ParentRef, region string) (int, error)
}

// ChunkServiceImpl implements ChunkService
type ChunkServiceImpl struct {
	store      database.Reader
	engine     *ReflowEngine
	resolver   *RegionResolver
	registry   *KindRegistry
	dispatcher *Dispatcher
	cache      CacheService
	gens       *ParentGenerations
	cacheTTL   time.Duration
	logger     Logger
}

// NewChunkService creates the service. A nil cache disables caching.
// generations must be the one the cache invalidation listener advances.
func NewChunkService(
	store database.Reader,
	engine *ReflowEngine,
	resolver *RegionResolver,
	registry *KindRegistry,
	cache CacheService,
	generations *ParentGenerations,
	cacheTTL time.Duration,
	logger Logger,
) *ChunkServiceImpl {
	if logger == nil {
		logger = NewNopLogger()
	}
	if cache == nil {
		cache = NoopCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &ChunkServiceImpl{
		store:      store,
		engine:     engine,
		resolver:   resolver,
		registry:   registry,
		dispatcher: NewDispatcher(registry, logger),
		cache:      cache,
		gens:       generations,
		cacheTTL:   cacheTTL,
		logger:     logger.With(String("component", "chunk_service")),
	}
}

// TemplateRegions describes the declared regions of a template
func (s *ChunkServiceImpl) TemplateRegions(template string) (*models.TemplateRegionsResponse, error) {
	regions, err := s.resolver.RegionsForTemplate(template)
	if err != nil {
		return nil, err
	}

	listings := make([]models.RegionListing, 0, len(regions))
	for _, region := range regions {
		listings = append(listings, s.describe(template, region.Code))
	}
	return &models.TemplateRegionsResponse{Template: template, Regions: listings}, nil
}

func (s *ChunkServiceImpl) describe(template, code string) models.RegionListing {
	listing := models.RegionListing{
		Code:   code,
		Name:   s.resolver.PrettyName(template, code),
		Chunks: []models.ChunkSummary{},
	}
	if template != "" {
		listing.EnabledKinds = s.resolver.EnabledKindsFor(template, code)
	}
	return listing
}

// ListRegions groups a parent's chunks by region with a summary line each.
// With a declared template the declared regions are listed in order, empty
// ones included; otherwise every region holding chunks is listed by code.
func (s *ChunkServiceImpl) ListRegions(ctx context.Context, parent models.ParentRef, template string) (*models.ParentRegions, error) {
	key := s.gens.Key(parent, ListingCacheKey(parent, template))

	var cached models.ParentRegions
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !stderrors.Is(err, ErrCacheMiss) {
		s.logger.Warn("listing cache read failed", String("key", key), String("error", err.Error()))
	}

	var declared []models.RegionDescriptor
	if template != "" {
		var err error
		if declared, err = s.resolver.RegionsForTemplate(template); err != nil {
			return nil, err
		}
	}

	chunks, err := s.store.ListParent(ctx, parent)
	if err != nil {
		return nil, err
	}

	byRegion := make(map[string][]models.Chunk)
	for _, chunk := range chunks {
		byRegion[chunk.Region] = append(byRegion[chunk.Region], chunk)
	}

	var codes []string
	if len(declared) > 0 {
		for _, region := range declared {
			codes = append(codes, region.Code)
		}
		for code := range byRegion {
			if !s.resolver.IsDeclared(template, code) {
				s.logger.Debug("chunks in undeclared region left out of listing",
					String("parent", parent.Key()),
					String("template", template),
					String("region", code))
			}
		}
	} else {
		for code := range byRegion {
			codes = append(codes, code)
		}
		sort.Strings(codes)
	}

	result := &models.ParentRegions{
		Parent:   parent,
		Template: template,
		Regions:  make([]models.RegionListing, 0, len(codes)),
	}
	for _, code := range codes {
		listing := s.describe(template, code)
		resolved, err := s.registry.ResolveAll(byRegion[code])
		if err != nil {
			return nil, err
		}
		for _, chunk := range resolved {
			listing.Chunks = append(listing.Chunks, models.ChunkSummary{
				Chunk:   chunk.Chunk,
				Summary: s.dispatcher.Summary(ctx, chunk, template),
			})
		}
		result.Regions = append(result.Regions, listing)
	}

	if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
		s.logger.Warn("listing cache write failed", String("key", key), String("error", err.Error()))
	}
	return result, nil
}

// FetchPolymorphic returns a parent's chunks decoded into their concrete
// kinds in settled order. An empty region means every region.
func (s *ChunkServiceImpl) FetchPolymorphic(ctx context.Context, parent models.ParentRef, region string) ([]ResolvedChunk, error) {
	var (
		chunks []models.Chunk
		err    error
	)
	if region == "" {
		chunks, err = s.store.ListParent(ctx, parent)
	} else {
		if err := ValidateRegionField(region); err != nil {
			return nil, err
		}
		chunks, err = s.store.ListRegion(ctx, parent, region)
	}
	if err != nil {
		return nil, err
	}
	return s.registry.ResolveAll(chunks)
}

// RenderRegion renders one region of a parent in settled order
func (s *ChunkServiceImpl) RenderRegion(ctx context.Context, parent models.ParentRef, region, template string) (*models.RenderedRegion, error) {
	if err := ValidateRegionField(region); err != nil {
		return nil, err
	}

	key := s.gens.Key(parent, RenderCacheKey(parent, region, template))
	var cached models.RenderedRegion
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	resolved, err := s.FetchPolymorphic(ctx, parent, region)
	if err != nil {
		return nil, err
	}

	fragments, err := s.dispatcher.RenderRegion(ctx, resolved, template)
	if err != nil {
		return nil, err
	}

	rendered := &models.RenderedRegion{Parent: parent, Region: region, Fragments: fragments}
	if err := s.cache.Set(ctx, key, rendered, s.cacheTTL); err != nil {
		s.logger.Warn("render cache write failed", String("key", key), String("error", err.Error()))
	}
	return rendered, nil
}

func (s *ChunkServiceImpl) AddChunk(ctx context.Context, req models.AddRequest) (*models.Chunk, error) {
	return s.engine.Add(ctx, req)
}

func (s *ChunkServiceImpl) MoveChunk(ctx context.Context, req models.MoveRequest) (*models.MoveResult, error) {
	if req.ChunkID <= 0 {
		return nil, errors.NewValidationError(errors.ErrCodeMissingField, "pk must be a positive integer", nil)
	}
	return s.engine.Move(ctx, req)
}

func (s *ChunkServiceImpl) DeleteChunk(ctx context.Context, id int64) (*models.Chunk, error) {
	return s.engine.Delete(ctx, id)
}

// Consolidate renumbers a region
func (s *ChunkServiceImpl) Consolidate(ctx context.Context, parent models.ParentRef, region string) (int, error) {
	if err := ValidateRegionField(region); err != nil {
		return 0, err
	}
	return s.engine.Consolidate(ctx, parent, region)
}
