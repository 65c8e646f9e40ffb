package client

import (
	"context"
	"fmt"

	"github.com/listenify-platform/listenify-app/pkg/events"
)

// CallResult issues a call and decodes its result into T.
//
// Example:
//
//	profile, err := client.CallResult[Profile](ctx, c, "user.getProfile", map[string]string{"id": "u1"})
func CallResult[T any](ctx context.Context, c *Client, method string, params any, opts ...CallOption) (T, error) {
	var out T
	raw, err := c.Call(ctx, method, params, opts...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := (events.Event{Name: method, Data: raw}).Decode(&out); err != nil {
		return out, fmt.Errorf("client: decode %s result: %w", method, err)
	}
	return out, nil
}

// Subscribe registers fn for event, decoding the payload into T first. A decode failure is
// reported like any other handler error.
func Subscribe[T any](c *Client, event string, fn func(T) error) *events.Subscription {
	return c.On(event, func(e events.Event) error {
		var v T
		if err := e.Decode(&v); err != nil {
			return fmt.Errorf("decode %s payload: %w", event, err)
		}
		return fn(v)
	})
}
