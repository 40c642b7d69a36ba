// SPDX-License-Identifier: AGPL-3.0-or-later

package runner_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"melrun/internal/host/runner"
)

func TestTryAcquire_SecondCallerIsRejected(t *testing.T) {
	reg := runner.NewRegistry()
	require.True(t, reg.TryAcquire("key-1", "now", 1))
	require.False(t, reg.TryAcquire("key-1", "now", 1), "a second acquire attempt while active must be rejected")
}

func TestRelease_ReportsKickPending(t *testing.T) {
	reg := runner.NewRegistry()
	require.True(t, reg.TryAcquire("key-1", "now", 1))
	require.False(t, reg.TryAcquire("key-1", "now", 1))

	kicked := reg.Release("key-1")
	require.True(t, kicked, "a rejected acquire attempt while active must be remembered as a pending kick")

	kicked = reg.Release("key-1")
	require.False(t, kicked, "a second release with no intervening acquire attempt must not report a stale kick")
}

// TestSingleRunnerInvariant_ConcurrentAcquireAttempts is a fault-injection
// style test: many goroutines race to acquire the same key; at most one
// may ever hold it active at a time.
func TestSingleRunnerInvariant_ConcurrentAcquireAttempts(t *testing.T) {
	reg := runner.NewRegistry()
	const attempts = 200

	var concurrentActive int32
	var maxObserved int32
	var wg sync.WaitGroup
	wg.Add(attempts)

	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if !reg.TryAcquire("key-1", "now", 1) {
				return
			}
			n := atomic.AddInt32(&concurrentActive, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
					break
				}
			}
			atomic.AddInt32(&concurrentActive, -1)
			reg.Release("key-1")
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, maxObserved, int32(1), "at most one runner may be active for a key at any instant")
}
