package services

import (
	"context"
	"fmt"
	"time"

	"content-regions/database"
	"content-regions/models"
)

// ConsistencyChecker finds (parent, region) pairs whose positions are not
// exactly 1..N and repairs them
type ConsistencyChecker interface {
	CheckAllConsistency(ctx context.Context) (*models.ConsistencyReport, error)
	RepairAllInconsistencies(ctx context.Context) (*models.RepairReport, error)
}

// Consolidator renumbers one region; the reflow engine is the implementation
type Consolidator interface {
	Consolidate(ctx context.Context, parent models.ParentRef, region string) (int, error)
}

// DatabaseConsistencyChecker implements ConsistencyChecker over the chunk store
type DatabaseConsistencyChecker struct {
	store        database.Reader
	consolidator Consolidator
	metrics      MetricsService
	logger       Logger
}

// NewDatabaseConsistencyChecker creates a new database consistency checker.
// metrics may be nil.
func NewDatabaseConsistencyChecker(store database.Reader, consolidator Consolidator, metrics MetricsService, logger Logger) *DatabaseConsistencyChecker {
	if logger == nil {
		logger = NewNopLogger()
	}

	return &DatabaseConsistencyChecker{
		store:        store,
		consolidator: consolidator,
		metrics:      metrics,
		logger:       logger.With(String("component", "consistency_checker")),
	}
}

// CheckAllConsistency reports every pair with a gap, a duplicate or a
// position below 1
func (cc *DatabaseConsistencyChecker) CheckAllConsistency(ctx context.Context) (*models.ConsistencyReport, error) {
	start := time.Now()

	pairs, err := cc.store.RegionPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list region pairs: %w", err)
	}

	violations := []models.RegionPair{}
	for _, pair := range pairs {
		if !pair.IsContiguous() {
			violations = append(violations, pair)
			cc.logger.Warn("region positions are not contiguous",
				String("parent", pair.Parent.Key()),
				String("region", pair.Region),
				Int("count", pair.Count),
				Int("min_position", pair.MinPosition),
				Int("max_position", pair.MaxPosition),
				Int("distinct_positions", pair.DistinctPositions))
		}
	}

	report := &models.ConsistencyReport{
		CheckTime:    start,
		PairsChecked: len(pairs),
		Violations:   violations,
		IsHealthy:    len(violations) == 0,
	}

	if cc.metrics != nil {
		cc.metrics.AddCounter(MetricConsistencyPairs, int64(len(pairs)), nil)
		cc.metrics.SetGauge(MetricConsistencyBroken, float64(len(violations)), nil)
	}

	cc.logger.Info("Completed consistency check",
		Int("pairs_checked", len(pairs)),
		Int("violations", len(violations)),
		Duration("duration", time.Since(start)))

	return report, nil
}

// RepairAllInconsistencies consolidates every violating pair. A pair that
// fails to consolidate is reported and the run carries on.
func (cc *DatabaseConsistencyChecker) RepairAllInconsistencies(ctx context.Context) (*models.RepairReport, error) {
	start := time.Now()

	check, err := cc.CheckAllConsistency(ctx)
	if err != nil {
		return nil, err
	}

	report := &models.RepairReport{RepairTime: start}
	for _, pair := range check.Violations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		writes, err := cc.consolidator.Consolidate(ctx, pair.Parent, pair.Region)
		if err != nil {
			cc.logger.Error("Failed to consolidate region", err,
				String("parent", pair.Parent.Key()),
				String("region", pair.Region))
			report.Failed = append(report.Failed, pair)
			continue
		}
		report.PairsRepaired++
		report.PositionWrites += writes
	}
	report.Duration = time.Since(start)

	if cc.metrics != nil {
		cc.metrics.AddCounter(MetricConsistencyRepairs, int64(report.PairsRepaired), nil)
	}

	cc.logger.Info("Completed repair operations",
		Int("pairs_repaired", report.PairsRepaired),
		Int("position_writes", report.PositionWrites),
		Int("failed_repairs", len(report.Failed)),
		Duration("duration", report.Duration))

	return report, nil
}
