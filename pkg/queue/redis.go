package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"KSHPull/pkg/logger"
)

// RedisQueue is a list-backed job queue. Failed messages wait in a sorted
// set until their retry is due and end up in a dead letter list once the
// retry budget is spent.
type RedisQueue struct {
	client    *redis.Client
	log       *logger.Logger
	cfg       QueueConfig
	mode      QueueMode
	keys      keys
	pollEvery time.Duration

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces every key of the queue.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keys = newKeys(prefix)
		}
	}
}

// WithRetryPoll sets how often due retries are moved back to the queue.
func WithRetryPoll(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) {
		if d > 0 {
			r.pollEvery = d
		}
	}
}

// NewRedisQueue creates a queue on client. cfg and lgr may be nil.
func NewRedisQueue(lgr *logger.Logger, cfg *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	var c QueueConfig
	if cfg != nil {
		c = *cfg
	}
	r := &RedisQueue{
		client:    client,
		log:       lgr,
		cfg:       c.withDefaults(),
		mode:      mode,
		keys:      newKeys("kshpull:queue"),
		pollEvery: time.Second,
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob routes messages of job.Type() to job. A second job for the
// same type is ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	if !r.mode.consumes() {
		r.log.Warn("job registration ignored in producer-only mode", logger.String("job", job.Name()))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.jobs[job.Type()]; ok {
		r.log.Warn("message type already handled",
			logger.String("type", job.Type()),
			logger.String("job", prev.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

// Start pings Redis and, unless producer-only, launches the workers and
// the retry pump.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	if r.mode.consumes() {
		for i := 0; i < r.cfg.Workers; i++ {
			r.wg.Add(1)
			go r.work(ctx, i)
		}
		r.wg.Add(1)
		go r.pumpRetries(ctx)
	}
	r.log.Info("redis queue started",
		logger.String("ready", r.keys.ready),
		logger.String("mode", r.mode.String()),
		logger.Int("workers", r.cfg.Workers),
		logger.Int("jobs", len(r.jobs)))
	return nil
}

// Stop cancels the workers and waits for them until ctx expires. Messages
// cancelled mid-run are not retried.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for queue workers: %w", ctx.Err())
	}
}

// Enqueue stores payload as a new message of msgType and returns its id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return "", ErrNotRunning
	}
	if r.mode.consumes() && !known {
		return "", fmt.Errorf("no job registered for type %q", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
	if err := r.push(ctx, r.keys.ready, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// DeadLetters returns up to n messages from the dead letter list, newest
// first. Entries that no longer decode are skipped.
func (r *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := r.client.LRange(ctx, r.keys.dead, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, s := range raw {
		var m Message
		if json.Unmarshal([]byte(s), &m) == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *RedisQueue) push(ctx context.Context, key string, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.LPush(ctx, key, b).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

func (r *RedisQueue) job(msgType string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[msgType]
	return j, ok
}
