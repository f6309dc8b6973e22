package matchspec

import (
	"context"

	"github.com/mamba-org/rattler-go/internal/cache"
)

// parseCache memoizes Parse results. MatchSpec strings overwhelmingly repeat
// across a subdir's records (a "depends" list reuses the same handful of
// specs across thousands of records), and Parse already returns a pointer,
// so a weak-reference cache that only keeps an entry alive while some caller
// still holds it is a good fit: no eviction policy to tune, and a spec that
// falls out of use is reclaimed by the garbage collector like any other
// value.
var parseCache cache.Live[string, MatchSpec]

// ParseCached behaves like Parse, but coalesces concurrent and repeated
// parses of the same textual spec through an internal weak-reference cache.
func ParseCached(ctx context.Context, s string) (*MatchSpec, error) {
	return parseCache.Get(ctx, s, func(_ context.Context, s string) (*MatchSpec, error) {
		return Parse(s)
	})
}
