package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
)

// Run is the typed form of RunExclusive: the operation's result is stored as
// JSON and decoded again for replays. replayed reports whether the value came
// from the cache.
func Run[T any](ctx context.Context, c *Core, key string, p Params, op func(context.Context) (T, error)) (v T, replayed bool, err error) {
	res, err := c.RunExclusive(ctx, key, p, func(ctx context.Context) ([]byte, error) {
		out, err := op(ctx)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode idempotent result: %w", err)
		}
		return b, nil
	})
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(res.Value, &v); err != nil {
		return v, res.Replayed, fmt.Errorf("decode idempotent result: %w", err)
	}
	return v, res.Replayed, nil
}
