package votes

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// coalesce shares one in-flight tally read among identical concurrent requests.
// The shared read runs detached from any single caller's cancellation.
func coalesce[T any](ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	detached := context.WithoutCancel(ctx)
	resultChan := group.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
