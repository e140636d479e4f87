package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/horizonlab/prospect/internal/api"
)

func sampleResults(n int) []*api.ScenarioResult {
	results := make([]*api.ScenarioResult, n)
	for i := range results {
		results[i] = &api.ScenarioResult{
			ID:          fmt.Sprintf("r%d", i),
			Probability: 1 / float64(n),
			Utility:     float64(i) / float64(n),
		}
	}
	return results
}

func TestCachePutGet(t *testing.T) {
	c, err := New(10, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Put("key1", sampleResults(5), RunMeta{})

	got, _ := c.Get("key1")
	if len(got) != 5 {
		t.Fatalf("expected 5 cached results, got %d", len(got))
	}
	if got[0].ID != "r0" {
		t.Errorf("unexpected first result id %q", got[0].ID)
	}

	if missing, _ := c.Get("unknown"); missing != nil {
		t.Error("unknown key should miss")
	}
}

func TestCachePreservesRunMeta(t *testing.T) {
	c, err := New(10, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Put("partial", sampleResults(5), RunMeta{DroppedBatches: 2, UniformFallback: true})
	c.Put("clean", sampleResults(5), RunMeta{})

	_, meta := c.Get("partial")
	if meta.DroppedBatches != 2 {
		t.Errorf("expected 2 dropped batches on the partial entry, got %d", meta.DroppedBatches)
	}
	if !meta.UniformFallback {
		t.Error("uniform fallback flag lost on the partial entry")
	}

	_, meta = c.Get("clean")
	if meta.DroppedBatches != 0 || meta.UniformFallback {
		t.Errorf("clean entry should carry zero meta, got %+v", meta)
	}
}

func TestCacheCopiesOnPut(t *testing.T) {
	c, err := New(10, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	results := sampleResults(3)
	c.Put("key1", results, RunMeta{})

	// Mutating the caller's results after Put must not reach the cache.
	results[0].Utility = 999

	got, _ := c.Get("key1")
	if got[0].Utility == 999 {
		t.Error("cache returned aliased results; Put must snapshot")
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c, err := New(2, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Put("a", sampleResults(1), RunMeta{})
	c.Put("b", sampleResults(1), RunMeta{})
	c.Put("c", sampleResults(1), RunMeta{})

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", c.Len())
	}
	if got, _ := c.Get("a"); got != nil {
		t.Error("oldest entry should have been evicted")
	}
	if got, _ := c.Get("c"); got == nil {
		t.Error("newest entry should survive")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c, err := New(10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Put("key1", sampleResults(1), RunMeta{})
	if got, _ := c.Get("key1"); got == nil {
		t.Fatal("entry should be fresh immediately after Put")
	}

	time.Sleep(20 * time.Millisecond)
	if got, _ := c.Get("key1"); got != nil {
		t.Error("entry should have expired")
	}
}

func TestCacheStats(t *testing.T) {
	c, err := New(10, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Put("key1", sampleResults(1), RunMeta{})
	c.Get("key1")
	c.Get("key1")
	c.Get("missing")

	hits, misses := c.Stats()
	if hits != 2 {
		t.Errorf("expected 2 hits, got %d", hits)
	}
	if misses != 1 {
		t.Errorf("expected 1 miss, got %d", misses)
	}
}
