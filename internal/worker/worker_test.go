package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_Submit_RunsAndReportsSuccess(t *testing.T) {
	p := New(4, 2, time.Second)
	errCh := p.Submit(context.Background(), "tenant-1", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, <-errCh)
}

func TestPool_Submit_PropagatesFnError(t *testing.T) {
	p := New(4, 2, time.Second)
	wantErr := context.Canceled
	errCh := p.Submit(context.Background(), "tenant-1", func(ctx context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, <-errCh, wantErr)
}

func TestPool_Submit_EnforcesGlobalConcurrency(t *testing.T) {
	p := New(1, 10, time.Second)

	var running int32
	var maxObserved int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		tenantID := "tenant-1"
		go func() {
			defer wg.Done()
			errCh := p.Submit(context.Background(), tenantID, func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&maxObserved)
					if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
						break
					}
				}
				<-release
				atomic.AddInt32(&running, -1)
				return nil
			})
			<-errCh
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(1))
}

func TestPool_Submit_PerTenantLimitIsolatesTenants(t *testing.T) {
	p := New(10, 1, time.Second)

	start := make(chan struct{})
	blockA := make(chan struct{})

	errA := p.Submit(context.Background(), "tenant-a", func(ctx context.Context) error {
		close(start)
		<-blockA
		return nil
	})

	<-start
	// tenant-b's slot is independent of tenant-a's, so this must not block
	// on tenant-a's in-flight task.
	errB := p.Submit(context.Background(), "tenant-b", func(ctx context.Context) error {
		return nil
	})

	select {
	case err := <-errB:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tenant-b's submission was blocked by tenant-a's in-flight task")
	}

	close(blockA)
	require.NoError(t, <-errA)
}

func TestPool_Submit_TimesOutLongRunningTask(t *testing.T) {
	p := New(4, 2, 20*time.Millisecond)

	errCh := p.Submit(context.Background(), "tenant-1", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := <-errCh
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_Submit_CancelledParentContext(t *testing.T) {
	p := New(1, 1, time.Second)

	block := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(context.Background(), "tenant-1", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errCh := p.Submit(ctx, "tenant-1", func(ctx context.Context) error {
		return nil
	})

	require.ErrorIs(t, <-errCh, context.Canceled)
	close(block)
}

func TestNew_AppliesDefaultsForNonPositiveValues(t *testing.T) {
	p := New(0, 0, 0)
	require.Equal(t, 16, cap(p.global))
	require.Equal(t, 4, p.perLimit)
}
