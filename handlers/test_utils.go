package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"content-regions/models"
	"content-regions/services"
)

// MockChunkService for testing handlers
type MockChunkService struct {
	mock.Mock
}

func (m *MockChunkService) TemplateRegions(template string) (*models.TemplateRegionsResponse, error) {
	args := m.Called(template)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TemplateRegionsResponse), args.Error(1)
}

func (m *MockChunkService) ListRegions(ctx context.Context, parent models.ParentRef, template string) (*models.ParentRegions, error) {
	args := m.Called(ctx, parent, template)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ParentRegions), args.Error(1)
}

func (m *MockChunkService) FetchPolymorphic(ctx context.Context, parent models.ParentRef, region string) ([]services.ResolvedChunk, error) {
	args := m.Called(ctx, parent, region)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.ResolvedChunk), args.Error(1)
}

func (m *MockChunkService) RenderRegion(ctx context.Context, parent models.ParentRef, region, template string) (*models.RenderedRegion, error) {
	args := m.Called(ctx, parent, region, template)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RenderedRegion), args.Error(1)
}

func (m *MockChunkService) AddChunk(ctx context.Context, req models.AddRequest) (*models.Chunk, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chunk), args.Error(1)
}

func (m *MockChunkService) MoveChunk(ctx context.Context, req models.MoveRequest) (*models.MoveResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MoveResult), args.Error(1)
}

func (m *MockChunkService) DeleteChunk(ctx context.Context, id int64) (*models.Chunk, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chunk), args.Error(1)
}

func (m *MockChunkService) Consolidate(ctx context.Context, parent models.ParentRef, region string) (int, error) {
	args := m.Called(ctx, parent, region)
	return args.Int(0), args.Error(1)
}

// MockConsistencyChecker for testing the consistency endpoints
type MockConsistencyChecker struct {
	mock.Mock
}

func (m *MockConsistencyChecker) CheckAllConsistency(ctx context.Context) (*models.ConsistencyReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ConsistencyReport), args.Error(1)
}

func (m *MockConsistencyChecker) RepairAllInconsistencies(ctx context.Context) (*models.RepairReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RepairReport), args.Error(1)
}
