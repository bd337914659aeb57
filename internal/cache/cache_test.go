package cache_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"urlrisk/internal/cache"
)

// fakeClock is a manually advanced clock for deterministic expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCache_SetGetExpiry(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := cache.New[string](clk.Now)

	c.Set("k", "v", time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)

	clk.Advance(59 * time.Second)
	_, ok = c.Get("k")
	require.True(t, ok, "entry should survive within TTL")

	clk.Advance(2 * time.Second)
	_, ok = c.Get("k")
	require.False(t, ok, "entry should expire after TTL")
}

func TestCache_NonPositiveTTLStoresNothing(t *testing.T) {
	c := cache.New[int](nil)
	c.Set("k", 1, 0)
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestCache_Sweep(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := cache.New[int](clk.Now)

	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Second)
	}
	clk.Advance(2 * time.Second)
	c.Sweep()

	for i := 0; i < 100; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		require.False(t, ok)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := cache.New[int](nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%10)
				c.Set(key, g, time.Minute)
				c.Get(key)
				if i%50 == 0 {
					c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestURLKey_StableAndDistinct(t *testing.T) {
	k1 := cache.URLKey("https://example.com/")
	k2 := cache.URLKey("https://example.com/")
	k3 := cache.URLKey("https://example.org/")

	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.Len(t, k1, 64)

	require.Equal(t, k1+":urlhaus", cache.SourceKey(k1, "urlhaus"))
}
