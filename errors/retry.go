package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"
)

// RetryConfig is an exponential backoff policy. Only retryable AppErrors whose
// type is listed in RetryOn are attempted again.
type RetryConfig struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	Multiplier float64       `json:"multiplier"`
	// Jitter spreads each delay by up to this fraction either way.
	Jitter  float64     `json:"jitter"`
	RetryOn []ErrorType `json:"retry_on"`
}

// DatabaseRetryConfig retries reflow transactions that lost a race.
func DatabaseRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 1.5,
		Jitter:     0.1,
		RetryOn:    []ErrorType{ErrTypeDatabase},
	}
}

// ExternalServiceRetryConfig retries event publication.
func ExternalServiceRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
		RetryOn:    []ErrorType{ErrTypeExternal},
	}
}

func (c *RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(c.MaxDelay))
	if c.Jitter > 0 {
		d += d * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

func (c *RetryConfig) retries(err error) bool {
	if !IsRetryable(err) {
		return false
	}
	appErr, _ := AsAppError(err)
	return slices.Contains(c.RetryOn, appErr.Type)
}

// Retryer runs error-only operations under a fixed policy.
type Retryer struct {
	config *RetryConfig
}

func NewRetryer(config *RetryConfig) *Retryer {
	if config == nil {
		config = DatabaseRetryConfig()
	}
	return &Retryer{config: config}
}

func (r *Retryer) Execute(ctx context.Context, operation func() error) error {
	_, err := ExecuteWithResult(ctx, r.config, func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

// ExecuteWithResult calls operation until it succeeds, fails with an error
// the policy does not retry, or runs out of attempts. Errors that are not
// retried come back unchanged; an exhausted error has Details filled in.
func ExecuteWithResult[T any](ctx context.Context, config *RetryConfig, operation func() (T, error)) (T, error) {
	if config == nil {
		config = DatabaseRetryConfig()
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(config.delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				var zero T
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := operation()
		if err == nil || !config.retries(err) {
			return result, err
		}
		if attempt == config.MaxRetries || ctx.Err() != nil {
			appErr, _ := AsAppError(err)
			appErr.Details = fmt.Sprintf("gave up after %d retries", attempt)
			return result, err
		}
	}
}
