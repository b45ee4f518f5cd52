package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyNoneDoesNotRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var runs int32
	s := New(nil, nil, nil)
	s.Run(ctx, []Agent{{
		Name:   "executor",
		Policy: PolicyNone,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return errors.New("integrity violation")
		},
	}})

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRestartOnPanicDoesNotRestartCleanReturn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var runs int32
	s := New(nil, nil, nil)
	s.Run(ctx, []Agent{{
		Name:   "signal-detector",
		Policy: PolicyRestartOnPanic,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}})

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRestartOnPanicRestartsAfterPanic(t *testing.T) {
	// The first restart follows a 2s backoff, so the window must outlast it.
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	var runs int32
	s := New(nil, nil, nil)
	go s.Run(ctx, []Agent{{
		Name:   "risk-manager",
		Policy: PolicyRestartOnPanic,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			panic("boom")
		},
	}})

	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))
}
