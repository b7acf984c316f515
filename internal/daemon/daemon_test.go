package daemon

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestStartLoops_WaitsForEveryLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	finished := 0
	loop := func(ctx context.Context) {
		<-ctx.Done()
		// Simulate a drain that outlives the cancellation.
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		finished++
		mu.Unlock()
	}

	wg := startLoops(ctx, loop, loop, loop)
	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	// Wait must not return while any loop is still draining; the shared
	// store and bus close right after.
	if finished != 3 {
		t.Errorf("finished loops = %d at Wait return, want 3", finished)
	}
}
