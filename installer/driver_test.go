package installer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDriverBoundsConcurrency(t *testing.T) {
	driver, _ := NewDriver(context.Background(), 2, nil)

	var inflight, maxInflight atomic.Int64
	for i := 0; i < 6; i++ {
		driver.Go(func(ctx context.Context) error {
			n := inflight.Add(1)
			for {
				cur := maxInflight.Load()
				if n <= cur || maxInflight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
			return nil
		})
	}
	if err := driver.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := maxInflight.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent workers, saw %d", got)
	}
}

func TestDriverWaitPropagatesFirstError(t *testing.T) {
	driver, _ := NewDriver(context.Background(), 4, nil)
	wantErr := errors.New("boom")

	driver.Go(func(ctx context.Context) error { return wantErr })
	driver.Go(func(ctx context.Context) error { return nil })

	if err := driver.Wait(); !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestClaimPathManglesOnCollision(t *testing.T) {
	driver, _ := NewDriver(context.Background(), 1, nil)

	first := driver.claimPath("bin/tool", "pkg-a")
	second := driver.claimPath("bin/tool", "pkg-b")
	third := driver.claimPath("bin/tool", "pkg-c")

	if first != "bin/tool" {
		t.Fatalf("expected first claimant to get canonical path, got %q", first)
	}
	if second == "bin/tool" || third == "bin/tool" || second == third {
		t.Fatalf("expected distinct mangled paths for later claimants, got %q and %q", second, third)
	}
	if driver.ownerOf(first) != "pkg-a" {
		t.Fatalf("expected pkg-a to own %q", first)
	}
}
