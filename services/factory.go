package services

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"

	"content-regions/config"
	"content-regions/database"
	"content-regions/models"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// ServiceContainer holds all service instances
type ServiceContainer struct {
	// Core services
	Store              database.Store
	Resolver           *RegionResolver
	Registry           *KindRegistry
	Bus                *EventBus
	Engine             *ReflowEngine
	ChunkService       ChunkService
	ConsistencyChecker ConsistencyChecker

	// Notifications
	Publisher *RedisEventPublisher

	// Performance and monitoring
	CacheService   CacheService
	MetricsService MetricsService
	Logger         *StructuredLogger
	HealthService  HealthService

	closers []func() error
}

// ServiceFactory creates and configures all services
type ServiceFactory struct {
	config    *config.Config
	logOutput io.Writer
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(cfg *config.Config) *ServiceFactory {
	return &ServiceFactory{
		config:    cfg,
		logOutput: os.Stdout,
	}
}

// WithLogOutput sends service logs somewhere other than stdout
func (f *ServiceFactory) WithLogOutput(w io.Writer) *ServiceFactory {
	f.logOutput = w
	return f
}

// CreateServices creates and wires all services together
func (f *ServiceFactory) CreateServices(ctx context.Context) (*ServiceContainer, error) {
	logger := NewLoggerFromConfig(&LoggerConfig{
		Level:  ParseLogLevel(f.config.Logging.Level),
		Format: f.config.Logging.Format,
		Output: f.logOutput,
	})

	decls, err := f.loadDeclarations(logger)
	if err != nil {
		return nil, err
	}

	store, err := database.Open(ctx, f.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s chunk store: %w", f.config.Database.Driver, err)
	}

	return f.assemble(ctx, store, decls, logger)
}

func (f *ServiceFactory) loadDeclarations(logger Logger) (*models.RegionDeclarations, error) {
	path := f.config.Regions.File
	if _, err := os.Stat(path); os.IsNotExist(err) && !f.config.Regions.Strict {
		logger.Warn("region declaration file not found, running without declared regions",
			String("file", path))
		return models.NewRegionDeclarations(nil), nil
	}

	decls, err := config.LoadRegionDeclarations(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load region declarations: %w", err)
	}
	return decls, nil
}

// assemble wires everything on top of an open store. On failure the store
// and anything started so far are closed.
func (f *ServiceFactory) assemble(ctx context.Context, store database.Store, decls *models.RegionDeclarations, logger *StructuredLogger) (*ServiceContainer, error) {
	resolver, err := NewRegionResolver(decls, f.config.Regions.Strict, logger)
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	registry := NewBuiltinKindRegistry()
	bus := NewEventBus(logger)

	container := &ServiceContainer{
		Store:         store,
		Resolver:      resolver,
		Registry:      registry,
		Bus:           bus,
		Logger:        logger,
		HealthService: NewHealthService(Version, logger),
		CacheService:  NoopCache{},
	}
	container.closers = append(container.closers, store.Close)

	bus.Subscribe(NewAuditLogListener(logger))

	generations := NewParentGenerations()
	if f.config.Cache.Enabled {
		cache := NewInMemoryCache(f.config.Cache.MaxSize, f.config.Cache.CleanupInterval)
		container.CacheService = cache
		container.closers = append(container.closers, func() error {
			cache.Stop()
			return nil
		})
		bus.Subscribe(NewCacheInvalidationListener(cache, generations))
		container.HealthService.RegisterChecker(CacheCheck(cache))
	}

	if f.config.Metrics.Enabled {
		metrics := NewInMemoryMetrics()
		container.MetricsService = metrics
		bus.Subscribe(NewMetricsListener(metrics))
		container.HealthService.RegisterChecker(MetricsCheck(metrics))
	}

	if f.config.Redis.Enabled {
		publisher, err := NewRedisEventPublisher(ctx, f.config.Redis.Addr, f.config.Redis.Channel, logger)
		if err != nil {
			return nil, multierr.Append(err, container.Close())
		}
		container.Publisher = publisher
		container.closers = append(container.closers, publisher.Close)
		bus.Subscribe(publisher,
			EventSameRegionMoveCompleted,
			EventDifferentRegionMoveCompleted,
			EventChunkAdded,
			EventChunkDeleted,
			EventRegionConsolidated)
	}

	engine := NewReflowEngine(store, resolver, registry, bus, logger)
	if container.MetricsService != nil {
		engine.WithMetrics(container.MetricsService)
	}
	container.Engine = engine

	container.ChunkService = NewChunkService(store, engine, resolver, registry,
		container.CacheService, generations, f.config.Cache.DefaultTTL, logger)
	container.ConsistencyChecker = NewDatabaseConsistencyChecker(store, engine, container.MetricsService, logger)

	container.HealthService.RegisterChecker(DatabaseCheck(f.config.Database.Driver, store))
	container.HealthService.RegisterChecker(PositionsCheck(container.ConsistencyChecker))

	logger.Info("services created",
		String("driver", f.config.Database.Driver),
		Bool("strict_regions", resolver.Strict()),
		Int("templates", len(resolver.Templates())),
		Bool("cache", f.config.Cache.Enabled),
		Bool("redis", f.config.Redis.Enabled))

	return container, nil
}

// HealthCheck verifies the chunk store is reachable
func (c *ServiceContainer) HealthCheck(ctx context.Context) error {
	if err := c.Store.Ping(ctx); err != nil {
		return fmt.Errorf("chunk store health check failed: %w", err)
	}
	return nil
}

// Close releases everything the container opened, newest first
func (c *ServiceContainer) Close() error {
	var errs error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, c.closers[i]())
	}
	c.closers = nil
	if c.Logger != nil {
		// stdout cannot always be synced; that is not worth reporting
		_ = c.Logger.Sync()
	}
	return errs
}
