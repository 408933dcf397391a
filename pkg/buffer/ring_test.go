package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingAppendAndSnapshotOrder(t *testing.T) {
	r, err := NewRing[int](10)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		r.Append(i)
	}

	assert.Equal(t, 5, r.Len())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, r.Snapshot(nil))
}

func TestRingDropsOldestOnOverflow(t *testing.T) {
	var dropped []int
	r, err := NewRing[int](3, WithDropCallback[int](func(i int) {
		dropped = append(dropped, i)
	}))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		r.Append(i)
	}

	assert.Equal(t, []int{3, 4, 5}, r.Snapshot(nil))
	assert.Equal(t, []int{1, 2}, dropped)

	_, _, overflows, drops, _ := r.Stats().Counts()
	assert.Equal(t, int64(2), overflows)
	assert.Equal(t, int64(2), drops)
}

func TestRingSnapshotFilter(t *testing.T) {
	r, err := NewRing[int](10)
	require.NoError(t, err)

	for i := 1; i <= 6; i++ {
		r.Append(i)
	}

	evens := r.Snapshot(func(i int) bool { return i%2 == 0 })
	assert.Equal(t, []int{2, 4, 6}, evens)

	// Snapshot does not consume
	assert.Equal(t, 6, r.Len())
}

func TestRingAgeEviction(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	current := now
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	r, err := NewRing[string](10,
		WithMaxAge[string](time.Hour),
		WithClock[string](clock),
	)
	require.NoError(t, err)

	r.Append("old")
	advance(30 * time.Minute)
	r.Append("mid")
	advance(45 * time.Minute) // "old" is now 75m stale, "mid" 45m

	assert.Equal(t, []string{"mid"}, r.Snapshot(nil))

	_, _, _, _, expires := r.Stats().Counts()
	assert.Equal(t, int64(1), expires)
}

func TestRingClear(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	r.Append(1)
	r.Append(2)
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot(nil))

	// Ring remains usable after Clear
	r.Append(9)
	assert.Equal(t, []int{9}, r.Snapshot(nil))
}

func TestRingMinimumCapacity(t *testing.T) {
	r, err := NewRing[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Capacity())
}

func TestRingConcurrentAccess(t *testing.T) {
	r, err := NewRing[int](100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Append(base*1000 + i)
				if i%10 == 0 {
					r.Snapshot(nil)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 100, r.Len())
}
