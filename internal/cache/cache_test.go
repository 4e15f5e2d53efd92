package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"divrecon/internal/types"
)

func result(id string) *types.AnalysisResult {
	return &types.AnalysisResult{RunID: id, State: "CONSOLIDATED"}
}

func TestFingerprintStable(t *testing.T) {
	nbim := []types.EventRecord{{ISIN: "US1", EventKey: "E1", Source: types.SourceNBIM}}
	custody := []types.EventRecord{{ISIN: "US1", EventKey: "E1", Source: types.SourceCustody}}

	a := Fingerprint(nbim, custody)
	b := Fingerprint(nbim, custody)
	if a != b {
		t.Error("same inputs produced different fingerprints")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}

	custody[0].EventKey = "E2"
	if Fingerprint(nbim, custody) == a {
		t.Error("changed input kept the same fingerprint")
	}

	// Source order matters: swapping collections is a different snapshot.
	if Fingerprint(custody, nbim) == Fingerprint(nbim, custody) {
		t.Error("swapped collections share a fingerprint")
	}
}

func TestGetPutExpiry(t *testing.T) {
	c := New(50 * time.Millisecond)

	c.Put("k", result("r1"))
	if got := c.Get("k"); got == nil || got.RunID != "r1" {
		t.Fatalf("Get = %v", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := c.Get("k"); got != nil {
		t.Error("expired entry still served")
	}
}

func TestGetOrComputeCoalesces(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(time.Minute)
	var computations atomic.Int64

	compute := func(ctx context.Context) (*types.AnalysisResult, error) {
		computations.Add(1)
		time.Sleep(20 * time.Millisecond)
		return result("shared"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := c.GetOrCompute(context.Background(), "same-key", false, compute)
			if err != nil || got.RunID != "shared" {
				t.Errorf("got %v, %v", got, err)
			}
		}()
	}
	wg.Wait()

	if n := computations.Load(); n != 1 {
		t.Errorf("compute ran %d times, want 1", n)
	}
}

func TestGetOrComputeCacheHit(t *testing.T) {
	c := New(time.Minute)
	var computations atomic.Int64
	compute := func(ctx context.Context) (*types.AnalysisResult, error) {
		computations.Add(1)
		return result("r"), nil
	}

	if _, hit, _ := c.GetOrCompute(context.Background(), "k", false, compute); hit {
		t.Error("first call reported a hit")
	}
	if _, hit, _ := c.GetOrCompute(context.Background(), "k", false, compute); !hit {
		t.Error("second call missed")
	}
	if n := computations.Load(); n != 1 {
		t.Errorf("compute ran %d times, want 1", n)
	}
}

func TestForceRefreshRecomputes(t *testing.T) {
	c := New(time.Minute)
	var computations atomic.Int64
	compute := func(ctx context.Context) (*types.AnalysisResult, error) {
		computations.Add(1)
		return result(fmt.Sprintf("r%d", computations.Load())), nil
	}

	c.GetOrCompute(context.Background(), "k", false, compute)
	got, hit, _ := c.GetOrCompute(context.Background(), "k", true, compute)

	if hit {
		t.Error("forced refresh reported a hit")
	}
	if got.RunID != "r2" {
		t.Errorf("got %s, want fresh r2", got.RunID)
	}
	if n := computations.Load(); n != 2 {
		t.Errorf("compute ran %d times, want 2", n)
	}

	// The refreshed result replaced the cached one.
	if cached := c.Get("k"); cached == nil || cached.RunID != "r2" {
		t.Errorf("cached = %v, want r2", cached)
	}
}

func TestFailedComputationNotCached(t *testing.T) {
	c := New(time.Minute)
	boom := fmt.Errorf("pipeline failed")
	_, _, err := c.GetOrCompute(context.Background(), "k", false,
		func(ctx context.Context) (*types.AnalysisResult, error) {
			return nil, boom
		})
	if err == nil {
		t.Fatal("error swallowed")
	}
	if c.Get("k") != nil {
		t.Error("failed run was cached")
	}

	// Next call recomputes.
	var ran bool
	c.GetOrCompute(context.Background(), "k", false,
		func(ctx context.Context) (*types.AnalysisResult, error) {
			ran = true
			return result("ok"), nil
		})
	if !ran {
		t.Error("recompute did not run after failure")
	}
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	c := New(0)
	c.Put("k", result("r"))
	if c.Get("k") != nil {
		t.Error("zero-TTL cache returned an entry")
	}
}

func TestInvalidateAll(t *testing.T) {
	c := New(time.Minute)
	c.Put("a", result("1"))
	c.Put("b", result("2"))
	c.InvalidateAll()
	if c.Get("a") != nil || c.Get("b") != nil {
		t.Error("entries survived InvalidateAll")
	}
}
