package groutine

import (
	"context"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo(t *testing.T) {
	t.Run("context carries name and label", func(t *testing.T) {
		type result struct {
			name  string
			label string
			gid   uint64
		}
		done := make(chan result, 1)

		Go(context.Background(), "worker-42", func(ctx context.Context) {
			label, _ := pprof.Label(ctx, nameLabel)
			done <- result{name: Name(ctx), label: label, gid: GetGID()}
		})

		select {
		case r := <-done:
			assert.Equal(t, "worker-42", r.name, "Name MUST return the goroutine name")
			assert.Equal(t, "worker-42", r.label, "pprof label MUST be set")
			assert.NotZero(t, r.gid)
			assert.NotEqual(t, GetGID(), r.gid, "goroutine MUST have its own ID")
		case <-time.After(time.Second):
			t.Fatal("goroutine MUST run")
		}
	})

	t.Run("nil parent context", func(t *testing.T) {
		done := make(chan error, 1)
		//nolint:staticcheck // nil context is accepted on purpose
		Go(nil, "orphan", func(ctx context.Context) {
			done <- ctx.Err()
		})
		require.NoError(t, <-done)
	})

	t.Run("parent cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		Go(ctx, "waiter", func(ctx context.Context) {
			<-ctx.Done()
			close(done)
		})
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("cancellation MUST reach the goroutine")
		}
	})
}

func TestName(t *testing.T) {
	assert.Empty(t, Name(context.Background()))
	//nolint:staticcheck
	assert.Empty(t, Name(nil))
}

func TestGetGIDStable(t *testing.T) {
	assert.Equal(t, GetGID(), GetGID(), "ID MUST be stable within a goroutine")
}
