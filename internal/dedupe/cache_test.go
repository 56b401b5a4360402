// ABOUTME: Tests for the dedupe cache used by the harvester
// ABOUTME: Validates TTL expiry, size eviction, sweeping, forgetting and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(ttl time.Duration, size int) (*Cache, *clock) {
	clk := newClock()
	return New(ttl, size, WithClock(clk.now), WithoutJanitor()), clk
}

func TestCache_SeenAfterMark(t *testing.T) {
	c, _ := newTestCache(time.Hour, 10)
	defer c.Close()

	assert.False(t, c.Seen("a"))
	c.Mark("a")
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
}

func TestCache_Expiry(t *testing.T) {
	c, clk := newTestCache(time.Hour, 10)
	defer c.Close()

	c.Mark("a")
	clk.advance(59 * time.Minute)
	assert.True(t, c.Seen("a"))
	clk.advance(time.Minute)
	assert.False(t, c.Seen("a"))
}

func TestCache_MarkRefreshes(t *testing.T) {
	c, clk := newTestCache(time.Hour, 10)
	defer c.Close()

	c.Mark("a")
	clk.advance(45 * time.Minute)
	c.Mark("a")
	clk.advance(45 * time.Minute)
	assert.True(t, c.Seen("a"))
}

func TestCache_CheckAndMark(t *testing.T) {
	c, clk := newTestCache(time.Hour, 10)
	defer c.Close()

	assert.False(t, c.CheckAndMark("a"), "first sighting is new")
	assert.True(t, c.CheckAndMark("a"), "second sighting is a duplicate")

	clk.advance(2 * time.Hour)
	assert.False(t, c.CheckAndMark("a"), "expired key is new again")
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)
	defer c.Close()

	c.Mark("a")
	c.Mark("b")
	c.Mark("c")
	c.Mark("a") // a is now newest
	c.Mark("d") // evicts b

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
	assert.True(t, c.Seen("d"))
}

func TestCache_Forget(t *testing.T) {
	c, _ := newTestCache(time.Hour, 10)
	defer c.Close()

	c.Mark("a")
	c.Forget("a")
	c.Forget("never-marked")
	assert.False(t, c.Seen("a"))
	assert.Zero(t, c.Len())
}

func TestCache_Sweep(t *testing.T) {
	c, clk := newTestCache(time.Hour, 10)
	defer c.Close()

	c.Mark("old-1")
	c.Mark("old-2")
	clk.advance(30 * time.Minute)
	c.Mark("fresh")
	clk.advance(40 * time.Minute)

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("fresh"))
}

func TestContentKey(t *testing.T) {
	a := ContentKey([]byte("%PDF-1.4 drawing"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, ContentKey([]byte("%PDF-1.4 drawing")))
	assert.NotEqual(t, a, ContentKey([]byte("%PDF-1.4 other")))
}

func TestCache_DefaultSizeAndClose(t *testing.T) {
	c := New(time.Minute, 0)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
	c.Close()
	c.Close()
}

func TestCache_Concurrent(t *testing.T) {
	c, _ := newTestCache(time.Hour, 1000)
	defer c.Close()

	var wg sync.WaitGroup
	dupes := make([]int, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if c.CheckAndMark(fmt.Sprintf("key-%d", i)) {
					dupes[w]++
				}
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, d := range dupes {
		total += d
	}
	// Each key is new exactly once across all workers.
	assert.Equal(t, 8*100-100, total)
	assert.Equal(t, 100, c.Len())
}
