// Package singleflight adapts [golang.org/x/sync/singleflight] to a generic,
// comparable-keyed API so callers don't need to format keys into strings
// themselves.
package singleflight

import (
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Result is the value sent on the channel returned by [Group.DoChan].
type Result[V any] struct {
	Val V
	Err error

	// Shared reports whether Val/Err were also delivered to other callers
	// that coalesced onto this call instead of running fn themselves.
	Shared bool
}

// Group wraps a [singleflight.Group], deduplicating concurrent calls that
// share a key.
//
// The zero value is ready to use.
type Group[K comparable, V any] struct {
	g singleflight.Group
}

// DoChan executes and returns the results of the given function, making sure
// that only one execution is in-flight for a given key at a time.
func (g *Group[K, V]) DoChan(key K, fn func() (V, error)) <-chan Result[V] {
	ch := make(chan Result[V], 1)
	inner := g.g.DoChan(fmt.Sprint(key), func() (any, error) {
		return fn()
	})
	go func() {
		res := <-inner
		var v V
		if res.Val != nil {
			v = res.Val.(V)
		}
		ch <- Result[V]{Val: v, Err: res.Err, Shared: res.Shared}
	}()
	return ch
}

// Forget tells the Group to forget about the key, so a subsequent call to
// DoChan will execute fn rather than waiting for an earlier call to complete.
func (g *Group[K, V]) Forget(key K) {
	g.g.Forget(fmt.Sprint(key))
}
