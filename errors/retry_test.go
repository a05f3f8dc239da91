package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Multiplier: 2,
		RetryOn:    []ErrorType{ErrTypeDatabase},
	}
}

func TestRetryer_Execute(t *testing.T) {
	dbErr := NewDatabaseError(ErrCodeDatabaseQuery, "syntax error", nil)
	notFound := NewNotFoundError(ErrCodeChunkNotFound, "chunk 7 not found", nil)
	publish := NewExternalServiceError(ErrCodePublishFailed, "redis down", nil)

	tests := []struct {
		name      string
		failures  int
		fail      func() error
		wantCalls int
		wantErr   error
	}{
		{name: "first try", failures: 0, wantCalls: 1},
		{name: "serialization failures retried", failures: 2, fail: func() error { return NewSerializationError("race", nil) }, wantCalls: 3},
		{name: "plain database error", failures: 5, fail: func() error { return dbErr }, wantCalls: 1, wantErr: dbErr},
		{name: "not found", failures: 5, fail: func() error { return notFound }, wantCalls: 1, wantErr: notFound},
		{name: "retryable type not listed", failures: 5, fail: func() error { return publish }, wantCalls: 1, wantErr: publish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := NewRetryer(fastConfig(3)).Execute(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.fail()
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.Same(t, tt.wantErr, err)
			assert.Empty(t, tt.wantErr.(*AppError).Details)
		})
	}
}

func TestRetryer_Execute_Exhausted(t *testing.T) {
	calls := 0
	err := NewRetryer(fastConfig(2)).Execute(context.Background(), func() error {
		calls++
		return NewSerializationError("concurrent move", nil)
	})

	assert.Equal(t, 3, calls)
	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeSerializationFailure, appErr.Code)
	assert.Equal(t, "gave up after 2 retries", appErr.Details)
}

func TestRetryer_Execute_ContextCanceled(t *testing.T) {
	config := fastConfig(3)
	config.BaseDelay = 100 * time.Millisecond
	config.MaxDelay = time.Second
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := NewRetryer(config).Execute(ctx, func() error {
		calls++
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		return NewSerializationError("deadlock", nil)
	})

	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_Execute_CanceledDuringAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := NewRetryer(fastConfig(3)).Execute(ctx, func() error {
		calls++
		cancel()
		return NewSerializationError("deadlock", nil)
	})

	assert.Equal(t, 1, calls)
	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeSerializationFailure, appErr.Code)
	assert.Equal(t, "gave up after 0 retries", appErr.Details)
}

func TestExecuteWithResult(t *testing.T) {
	calls := 0
	result, err := ExecuteWithResult(context.Background(), fastConfig(3), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, NewSerializationError("retry me", fmt.Errorf("40001"))
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 2, calls)
}

func TestRetryConfig_delay(t *testing.T) {
	tests := []struct {
		name    string
		config  RetryConfig
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{"first retry", RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Second}, 1, 100 * time.Millisecond, 100 * time.Millisecond},
		{"second retry", RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Second}, 2, 200 * time.Millisecond, 200 * time.Millisecond},
		{"capped", RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 150 * time.Millisecond}, 2, 150 * time.Millisecond, 150 * time.Millisecond},
		{"jitter", RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Second, Jitter: 0.1}, 1, 90 * time.Millisecond, 110 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.config.delay(tt.attempt)
			assert.GreaterOrEqual(t, d, tt.min)
			assert.LessOrEqual(t, d, tt.max)
		})
	}
}

func TestDatabaseRetryConfig(t *testing.T) {
	config := DatabaseRetryConfig()

	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, []ErrorType{ErrTypeDatabase}, config.RetryOn)
	assert.True(t, config.retries(NewSerializationError("x", nil)))
	assert.False(t, config.retries(NewExternalServiceError(ErrCodePublishFailed, "x", nil)))
}
