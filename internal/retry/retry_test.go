package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts uint64) *Policy {
	return NewPolicy().
		WithSetting(KindSend, Setting{MaxAttempts: maxAttempts, InitialInterval: time.Millisecond})
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := fastPolicy(4)
	calls := 0

	err := p.Do(context.Background(), KindSend, func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	p := fastPolicy(5)
	calls := 0

	err := p.Do(context.Background(), KindSend, func() error {
		calls++
		if calls <= 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := fastPolicy(3)
	calls := 0
	failure := errors.New("still down")

	err := p.Do(context.Background(), KindSend, func() error {
		calls++
		return failure
	})

	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := fastPolicy(5)
	calls := 0
	authErr := errors.New("invalid credentials")

	err := p.Do(context.Background(), KindSend, func() error {
		calls++
		return Permanent(authErr)
	})

	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	p := NewPolicy().
		WithSetting(KindSend, Setting{MaxAttempts: 100, InitialInterval: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, KindSend, func() error {
			calls++
			return errors.New("transient")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Less(t, calls, 100)
	case <-time.After(time.Second):
		t.Fatal("Do did not stop after cancellation")
	}
}

func TestDoUnknownKindRunsOnce(t *testing.T) {
	p := NewPolicy()
	calls := 0

	err := p.Do(context.Background(), Kind("unknown"), func() error {
		calls++
		return errors.New("nope")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
