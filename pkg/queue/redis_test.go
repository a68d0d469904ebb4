package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runJob struct {
	calls atomic.Int32
	seen  chan string
	fail  bool
}

func (j *runJob) Name() string { return "forecast-run" }
func (j *runJob) Type() string { return "forecast" }

func (j *runJob) Handle(_ context.Context, payload json.RawMessage) error {
	j.calls.Add(1)
	req, err := ParsePayload[struct {
		Job string `json:"job"`
	}](payload)
	if err != nil {
		return err
	}
	if j.fail {
		return errors.New("boom")
	}
	j.seen <- req.Job
	return nil
}

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIdentity: true})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisQueueDeliversToJob(t *testing.T) {
	_, client := newTestClient(t)
	job := &runJob{seen: make(chan string, 1)}

	q := NewRedisQueue(nil, &QueueConfig{Workers: 1}, client, ModeProducerConsumer)
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	id, err := q.Enqueue(context.Background(), "forecast", map[string]string{"job": "sarimax_groups"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case got := <-job.seen:
		assert.Equal(t, "sarimax_groups", got)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not delivered")
	}
}

func TestRedisQueueRejectsUnknownTypeAndStopped(t *testing.T) {
	_, client := newTestClient(t)
	q := NewRedisQueue(nil, nil, client, ModeProducerConsumer)

	_, err := q.Enqueue(context.Background(), "forecast", nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()
	_, err = q.Enqueue(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestRedisQueueDeadLettersAfterRetries(t *testing.T) {
	_, client := newTestClient(t)
	job := &runJob{seen: make(chan string, 1), fail: true}

	q := NewRedisQueue(nil, &QueueConfig{Workers: 1, RetryLimit: 0}, client, ModeProducerConsumer)
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	_, err := q.Enqueue(context.Background(), "forecast", map[string]string{"job": "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		dead, err := q.DeadLetters(context.Background(), 10)
		return err == nil && len(dead) == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(1), job.calls.Load())
}

func TestParsePayload(t *testing.T) {
	_, err := ParsePayload[struct{}](nil)
	assert.Error(t, err)

	v, err := ParsePayload[[]int](json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, *v)
}

type flakyJob struct {
	calls atomic.Int32
	done  chan struct{}
}

func (j *flakyJob) Name() string { return "flaky" }
func (j *flakyJob) Type() string { return "flaky" }

func (j *flakyJob) Handle(context.Context, json.RawMessage) error {
	if j.calls.Add(1) == 1 {
		return errors.New("transient")
	}
	close(j.done)
	return nil
}

func TestRedisQueueRetriesAfterDelay(t *testing.T) {
	_, client := newTestClient(t)
	job := &flakyJob{done: make(chan struct{})}

	q := NewRedisQueue(nil, &QueueConfig{Workers: 1, RetryLimit: 1, RetryDelay: time.Millisecond},
		client, ModeProducerConsumer, WithKeyPrefix("test:q"), WithRetryPoll(20*time.Millisecond))
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	_, err := q.Enqueue(context.Background(), "flaky", struct{}{})
	require.NoError(t, err)

	select {
	case <-job.done:
	case <-time.After(5 * time.Second):
		t.Fatal("retry was not delivered")
	}
	assert.Equal(t, int32(2), job.calls.Load())

	dead, err := q.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestPromoteMovesOnlyDueMessages(t *testing.T) {
	mr, client := newTestClient(t)
	q := NewRedisQueue(nil, nil, client, ModeProducerConsumer, WithKeyPrefix("p"))
	now := time.Now()

	require.NoError(t, client.ZAdd(context.Background(), "p:retry",
		redis.Z{Score: float64(now.Add(-time.Second).UnixMilli()), Member: `{"id":"due"}`},
		redis.Z{Score: float64(now.Add(time.Hour).UnixMilli()), Member: `{"id":"later"}`},
	).Err())

	n, err := q.promote(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ready, err := mr.List("p:messages")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"due"}`}, ready)
	left, err := mr.ZMembers("p:retry")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"later"}`}, left)
}
