package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireHeaders(t *testing.T) {
	var seen string
	h := RequireHeaders("dataset")(func(ctx context.Context, _ kafka.Message) error {
		seen = Header(ctx, "dataset")
		return nil
	})

	km := kafka.Message{Headers: []kafka.Header{{Key: "dataset", Value: []byte("lak0014")}}}
	require.NoError(t, h(context.Background(), km))
	assert.Equal(t, "lak0014", seen)

	err := h(context.Background(), kafka.Message{})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorContains(t, err, `"dataset"`)
}

func TestChainOrderAndRecover(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, km kafka.Message) error {
				order = append(order, name)
				return next(ctx, km)
			}
		}
	}
	h := Chain(tag("outer"), nil, tag("inner"), Recover())(func(context.Context, kafka.Message) error {
		panic("boom")
	})

	err := h(context.Background(), kafka.Message{})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorContains(t, err, "handler panic")
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestConsumerAttemptStopsOnPermanent(t *testing.T) {
	c := &Consumer{cfg: ConsumerConfig{RetryMax: 3, BackoffMin: time.Millisecond, BackoffMax: time.Millisecond}}

	calls := 0
	err := c.attempt(context.Background(), fetched{handle: func(context.Context, kafka.Message) error {
		calls++
		return errors.New("flaky")
	}})
	assert.Error(t, err)
	assert.Equal(t, 4, calls)

	calls = 0
	err = c.attempt(context.Background(), fetched{handle: func(context.Context, kafka.Message) error {
		calls++
		return ErrPermanent
	}})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, calls)
}

func TestLaneIsStablePerPartition(t *testing.T) {
	for p := 0; p < 12; p++ {
		l := lane("kshpull.tidy", p, 4)
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 4)
		assert.Equal(t, l, lane("kshpull.tidy", p, 4))
	}
	assert.NotEqual(t, lane("t", 0, 4), lane("t", 1, 4))
}

func TestBackoff(t *testing.T) {
	for retry := 0; retry < 40; retry++ {
		d := backoff(100*time.Millisecond, time.Second, retry)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestEncode(t *testing.T) {
	b, err := Encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))
	b, _ = Encode("raw")
	assert.Equal(t, "raw", string(b))
	_, err = Encode(func() {})
	assert.Error(t, err)
}
