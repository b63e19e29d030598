package ratelimit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const baseMillis = int64(1_000_000_000_000)

func TestCheckFixedWindowBoundary(t *testing.T) {
	table := NewTable(100)

	for i := int64(0); i < 100; i++ {
		require.True(t, table.Check("10.0.0.1", baseMillis+i), "request %d should be admitted", i+1)
	}

	require.False(t, table.Check("10.0.0.1", baseMillis+100), "101st request in-window must be denied")
}

func TestCheckNewWindowResets(t *testing.T) {
	table := NewTable(100)

	for i := int64(0); i <= 100; i++ {
		table.Check("10.0.0.1", baseMillis+i)
	}

	require.True(t, table.Check("10.0.0.1", baseMillis+1000), "first request of the next window must be admitted")

	table.mu.Lock()
	b := table.buckets["10.0.0.1"]
	table.mu.Unlock()
	require.Equal(t, (baseMillis+1000)/1000, b.windowStart)
	require.Equal(t, 1, b.count)
}

func TestCheckKeysAreIndependent(t *testing.T) {
	table := NewTable(100)

	for i := int64(0); i <= 100; i++ {
		table.Check("10.0.0.1", baseMillis+i%100)
	}
	require.False(t, table.Check("10.0.0.1", baseMillis), "exhausted key should stay denied")
	require.True(t, table.Check("10.0.0.2", baseMillis), "other keys keep their own allowance")
}

func TestCheckCustomLimit(t *testing.T) {
	table := NewTable(2)

	require.True(t, table.Check("k", baseMillis))
	require.True(t, table.Check("k", baseMillis+1))
	require.False(t, table.Check("k", baseMillis+2))
}

func TestSweepRemovesStaleBuckets(t *testing.T) {
	table := NewTable(100)
	table.Check("10.0.0.1", baseMillis)

	require.Equal(t, 0, table.Sweep(baseMillis, 20), "fresh bucket must be retained")
	require.Equal(t, 1, table.Len())

	require.Equal(t, 1, table.Sweep(baseMillis+30_000, 20), "30s-old bucket must be removed at 20s max age")
	require.Equal(t, 0, table.Len())
}

func TestSweepOnlyRemovesOldKeys(t *testing.T) {
	table := NewTable(100)
	table.Check("old", baseMillis)
	table.Check("new", baseMillis+30_000)

	removed := table.Sweep(baseMillis+30_000, 20)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, table.Len())
	require.True(t, table.Check("new", baseMillis+30_000), "surviving bucket keeps counting")
}

func TestCheckConcurrentSameKey(t *testing.T) {
	table := NewTable(100)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)

	allowed := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			allowed <- table.Check("10.0.0.1", baseMillis)
		}()
	}
	wg.Wait()
	close(allowed)

	admitted := 0
	for ok := range allowed {
		if ok {
			admitted++
		}
	}
	if admitted != 100 {
		t.Fatalf("expected exactly 100 admissions under concurrency, got %d", admitted)
	}
}
