// Package installer turns a [transaction.Op] list into on-disk changes: it
// links package files into a target prefix, removes files belonging to
// uninstalled packages, and resolves filesystem contention between packages
// that ship the same path.
package installer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	rattler "github.com/mamba-org/rattler-go"
)

// ScriptRunner executes a package's pre-unlink and post-link scripts. A nil
// ScriptRunner makes PreProcess/PostProcess skip script execution entirely.
type ScriptRunner interface {
	RunPreUnlink(ctx context.Context, prefix string, rec *rattler.PrefixRecord) error
	RunPostLink(ctx context.Context, prefix string, rec *rattler.PrefixRecord) error
}

// Driver is a bounded-parallelism executor for the blocking filesystem work
// an install performs. Unlike a hand-rolled channel token bucket, it bounds
// concurrency with [semaphore.Weighted].
type Driver struct {
	sem  *semaphore.Weighted
	grp  *errgroup.Group
	gctx context.Context

	clobberMu sync.Mutex
	clobber   map[string]string // canonical path -> owning package identity

	scripts ScriptRunner

	// txID identifies this install transaction in logs and traces.
	txID string
}

// NewDriver constructs a Driver bounding concurrent work to concurrencyLimit
// (clamped to at least 1). scripts may be nil to disable link script
// execution.
func NewDriver(ctx context.Context, concurrencyLimit int64, scripts ScriptRunner) (*Driver, context.Context) {
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}
	grp, gctx := errgroup.WithContext(ctx)
	return &Driver{
		sem:     semaphore.NewWeighted(concurrencyLimit),
		grp:     grp,
		gctx:    gctx,
		clobber: make(map[string]string),
		scripts: scripts,
		txID:    uuid.New().String(),
	}, gctx
}

// Go schedules work on a throttled worker: it blocks until a slot is free
// (or the driver's context is cancelled) before running work. An error
// returned by work cancels sibling work through the shared errgroup
// context, mirroring spawn_throttled.
func (d *Driver) Go(work func(ctx context.Context) error) {
	d.grp.Go(func() error {
		if err := d.sem.Acquire(d.gctx, 1); err != nil {
			return &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscCancelled, Reason: "install driver cancelled before work could start", Op: "installer.Driver.Go"}
		}
		defer d.sem.Release(1)
		return work(d.gctx)
	})
}

// Wait blocks until every scheduled work item has finished, returning the
// first error encountered, if any.
func (d *Driver) Wait() error {
	return d.grp.Wait()
}

// ownerOf reports the package identity currently registered as owning
// canonical (or mangled) path, or "" if unclaimed.
func (d *Driver) ownerOf(path string) string {
	d.clobberMu.Lock()
	defer d.clobberMu.Unlock()
	return d.clobber[path]
}

// claimPath registers owner as a writer of canonical. The first caller for
// a given canonical path gets it; later callers for the same path are
// handed a ".c<n>" mangled alternative instead. Safe for concurrent use.
func (d *Driver) claimPath(canonical, owner string) string {
	d.clobberMu.Lock()
	defer d.clobberMu.Unlock()

	if _, taken := d.clobber[canonical]; !taken {
		d.clobber[canonical] = owner
		return canonical
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.c%d", canonical, n)
		if _, taken := d.clobber[candidate]; !taken {
			d.clobber[candidate] = owner
			return candidate
		}
	}
}
