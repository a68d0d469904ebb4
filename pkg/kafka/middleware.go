package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// ErrPermanent marks handler errors that retrying cannot fix, e.g. a bad
// payload. Such messages skip the remaining attempts.
var ErrPermanent = errors.New("permanent failure")

// HandlerFunc processes one fetched message.
type HandlerFunc func(ctx context.Context, km kafka.Message) error

// Middleware decorates a HandlerFunc. It runs once per attempt.
type Middleware func(HandlerFunc) HandlerFunc

// Chain composes mws so the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(h HandlerFunc) HandlerFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				h = mws[i](h)
			}
		}
		return h
	}
}

type headersKey struct{}

// WithHeaders exposes the headers of km to Header.
func WithHeaders(ctx context.Context, km kafka.Message) context.Context {
	h := make(map[string]string, len(km.Headers))
	for _, kv := range km.Headers {
		h[kv.Key] = string(kv.Value)
	}
	return context.WithValue(ctx, headersKey{}, h)
}

// Header returns a header of the message being handled, or "".
func Header(ctx context.Context, key string) string {
	h, _ := ctx.Value(headersKey{}).(map[string]string)
	return h[key]
}

// RequireHeaders puts the message headers on the context and fails the
// message permanently when one of keys is missing or empty.
func RequireHeaders(keys ...string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, km kafka.Message) error {
			ctx = WithHeaders(ctx, km)
			for _, k := range keys {
				if Header(ctx, k) == "" {
					return fmt.Errorf("%w: missing header %q", ErrPermanent, k)
				}
			}
			return next(ctx, km)
		}
	}
}

// Recover turns a handler panic into a permanent failure.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, km kafka.Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: handler panic: %v", ErrPermanent, r)
				}
			}()
			return next(ctx, km)
		}
	}
}
