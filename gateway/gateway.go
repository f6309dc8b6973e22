// Package gateway implements the repodata gateway: a coalescing,
// cache-aware reader of conda channel repodata.
package gateway

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	rattler "github.com/mamba-org/rattler-go"
	"github.com/mamba-org/rattler-go/config"
	internalsf "github.com/mamba-org/rattler-go/internal/singleflight"
	"github.com/mamba-org/rattler-go/matchspec"
	rlog "github.com/mamba-org/rattler-go/toolkit/log"
	"github.com/mamba-org/rattler-go/transport"
)

// subdirKey identifies one (channel, subdir) pair the Gateway tracks
// independently, mirroring upstream's (Channel, Platform) map key.
type subdirKey struct {
	Channel string
	Subdir  string
}

// subdirEntry is a committed, fully-loaded subdir: its records plus an index
// by package name so LoadRecordsRecursive doesn't rescan the whole slice per
// dependency name.
type subdirEntry struct {
	records []rattler.RepoDataRecord
	byName  map[string][]rattler.RepoDataRecord
	policy  CachePolicy
	source  subdirSource
}

func newSubdirEntry(source subdirSource, payload Payload) *subdirEntry {
	e := &subdirEntry{
		records: payload.Records,
		byName:  make(map[string][]rattler.RepoDataRecord, len(payload.Records)),
		policy:  payload.Policy,
		source:  source,
	}
	for _, r := range payload.Records {
		e.byName[r.Name] = append(e.byName[r.Name], r)
	}
	return e
}

// Gateway is the coalescing, cache-aware entry point for reading repodata
// across channels and subdirs. The zero value is not ready to use; build one
// with New. A Gateway is safe for concurrent use and caches subdirs for its
// lifetime, so calling LoadRecordsRecursive twice with the same channels
// will not re-fetch repodata that is still fresh, per CachePolicy.Evaluate.
type Gateway struct {
	fetcher transport.Fetcher
	auth    transport.AuthProvider
	cfg     *config.Config

	mu      sync.Mutex
	subdirs map[subdirKey]*subdirEntry
	sf      internalsf.Group[subdirKey, *subdirEntry]
}

// New builds a Gateway. cfg may be nil, in which case every channel uses
// config's defaults.
func New(fetcher transport.Fetcher, auth transport.AuthProvider, cfg *config.Config) *Gateway {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Gateway{
		fetcher: fetcher,
		auth:    auth,
		cfg:     cfg,
		subdirs: make(map[subdirKey]*subdirEntry),
	}
}

// getOrCreateSubdir returns the entry for (channel, subdir), fetching it if
// this is the first request and coalescing concurrent first-requesters onto
// a single fetch, mirroring GatewayInner::get_or_create_subdir.
func (g *Gateway) getOrCreateSubdir(ctx context.Context, channel, subdir string) (*subdirEntry, error) {
	key := subdirKey{Channel: channel, Subdir: subdir}

	g.mu.Lock()
	if e, ok := g.subdirs[key]; ok {
		g.mu.Unlock()
		if e.policy.Evaluate(timeNow()) == Fresh {
			return e, nil
		}
	} else {
		g.mu.Unlock()
	}

	fetchCtx := rlog.With(ctx, "channel", channel, "subdir", subdir)

	ch := g.sf.DoChan(key, func() (*subdirEntry, error) {
		cc := g.cfg.ChannelConfigFor(channel)
		src, err := newSource(channel, subdir, g.fetcher, g.auth, cc)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		var prevPolicy *CachePolicy
		if prev, ok := g.subdirs[key]; ok {
			p := prev.policy
			prevPolicy = &p
		}
		g.mu.Unlock()

		payload, err := src.fetch(fetchCtx, prevPolicy)
		if err != nil {
			return nil, err
		}
		entry := newSubdirEntry(src, payload)
		if len(payload.Records) == 0 && prevPolicy != nil {
			g.mu.Lock()
			if prev, ok := g.subdirs[key]; ok {
				entry.records = prev.records
				entry.byName = prev.byName
			}
			g.mu.Unlock()
		}

		g.mu.Lock()
		g.subdirs[key] = entry
		g.mu.Unlock()
		return entry, nil
	})

	select {
	case res := <-ch:
		if res.Err == nil {
			if res.Shared {
				subdirFetchCounter.WithLabelValues("coalesced").Inc()
			} else {
				subdirFetchCounter.WithLabelValues("fetched").Inc()
			}
		}
		return res.Val, res.Err
	case <-ctx.Done():
		g.sf.Forget(key)
		return nil, ctx.Err()
	}
}

// LoadRecordsRecursive loads every repodata record for the cartesian product
// of channels and subdirs matching any of names, plus the transitive closure
// of their dependencies. Dependency names are extracted from each record's
// Depends field via dependencyName (the match-spec operand is discarded;
// only the package name drives closure expansion).
func (g *Gateway) LoadRecordsRecursive(ctx context.Context, channels, subdirs, names []string) (_ []rattler.RepoDataRecord, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.LoadRecordsRecursive", trace.WithAttributes(
		attribute.StringSlice("channels", channels),
		attribute.StringSlice("subdirs", subdirs),
	))
	defer span.End()
	defer func() {
		span.RecordError(err)
		if err == nil {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	entries := make([]*subdirEntry, len(channels)*len(subdirs))
	grp, gctx := errgroup.WithContext(ctx)
	i := 0
	for _, ch := range channels {
		for _, sd := range subdirs {
			idx := i
			c, s := ch, sd
			grp.Go(func() error {
				e, err := g.getOrCreateSubdir(gctx, c, s)
				if err != nil {
					return err
				}
				entries[idx] = e
				return nil
			})
			i++
		}
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(names))
	pending := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			pending = append(pending, n)
		}
	}

	var result []rattler.RepoDataRecord
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]
		for _, e := range entries {
			recs, ok := e.byName[name]
			if !ok {
				continue
			}
			result = append(result, recs...)
			for _, r := range recs {
				for _, dep := range r.Depends {
					depName := dependencyName(ctx, dep)
					if !seen[depName] {
						seen[depName] = true
						pending = append(pending, depName)
					}
				}
			}
		}
	}
	return result, nil
}

// dependencyName extracts the package name a "depends" entry refers to, such
// as "numpy >=1.20,<2" or "channel::numpy", via the same MatchSpec parser
// used everywhere else in this module. Depends entries repeat heavily
// across a subdir's records, so this goes through matchspec.ParseCached
// rather than matchspec.Parse. A malformed entry falls back to the raw
// text up to the first whitespace, so closure expansion degrades rather
// than aborts on a record with an unparsable depends string.
func dependencyName(ctx context.Context, dep string) string {
	if spec, err := matchspec.ParseCached(ctx, dep); err == nil && spec.Name != "" {
		return spec.Name
	}
	if i := strings.IndexByte(dep, ' '); i != -1 {
		return dep[:i]
	}
	return dep
}
