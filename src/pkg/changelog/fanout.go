package changelog

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// fanOut runs fn once per item with at most limit calls in flight (limit <= 0 means no cap).
// Results keep the order of items. The first error cancels the context handed to the
// remaining calls and is the error returned; no partial result is ever returned.
func fanOut[In, Out any](ctx context.Context, limit int, items []In, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	results := make([]Out, len(items))
	if len(items) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// flattenUnique concatenates the groups and drops every item whose key was already seen,
// keeping the first occurrence in place.
func flattenUnique[T any, K comparable](groups [][]T, key func(T) K) []T {
	seen := make(map[K]struct{})
	out := make([]T, 0)
	for _, group := range groups {
		for _, item := range group {
			k := key(item)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
