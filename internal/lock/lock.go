// Package lock serializes work on production orders. Completion, edit and delete of a
// report hold the lock of every order they touch for the length of their transaction.
package lock

import (
	"context"
	"sort"
)

// Locker grants exclusive access to a set of keys.
type Locker interface {
	// Acquire blocks until every key is held or ctx is done. The returned release func
	// must be called exactly once.
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// normalize sorts and dedups keys so that concurrent multi-key acquisitions never
// deadlock on each other.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
