package app

import (
	"context"
	"time"

	"github.com/nuclio/errors"

	"wsrpc/endpoint"
)

// newDemoEndpoint returns the methods served by "wsrpc serve".
func newDemoEndpoint() (*endpoint.Endpoint, error) {
	return endpoint.New(map[string]any{
		"echo": func(ctx context.Context, args []any) (any, error) {
			if len(args) == 0 {
				return nil, nil
			}
			return args[0], nil
		},
		"sum": []any{
			func(ctx context.Context, args []any) (any, error) {
				return args[0].(float64) + args[1].(float64), nil
			},
			[]string{"float", "float"},
		},
		"sleep": func(ctx context.Context, ms int) (int, error) {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
				return ms, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		},
		"fail": func(reason string) error {
			return errors.New(reason)
		},
	})
}
