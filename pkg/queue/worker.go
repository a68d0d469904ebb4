package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"KSHPull/pkg/logger"
)

// promoteDue moves up to ARGV[2] delayed messages whose score is at most
// ARGV[1] back onto the ready list in one step, so two pumps never deliver
// the same retry twice.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

const (
	popTimeout   = time.Second
	promoteBatch = 100
)

func (r *RedisQueue) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		msg, ok := r.next(ctx)
		if !ok {
			continue
		}
		r.handle(ctx, msg)
	}
	r.log.Debug("queue worker stopped", logger.Int("worker_id", id))
}

// next blocks for at most popTimeout. It reports false on an empty poll,
// a Redis error or an undecodable entry.
func (r *RedisQueue) next(ctx context.Context) (Message, bool) {
	res, err := r.client.BRPop(ctx, popTimeout, r.keys.ready).Result()
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil), ctx.Err() != nil:
		return Message{}, false
	default:
		r.log.Error("queue pop failed", logger.Error(err))
		sleep(ctx, popTimeout)
		return Message{}, false
	}

	var msg Message
	if len(res) < 2 {
		return msg, false
	}
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.log.Error("dropping undecodable message", logger.Error(err), logger.String("raw", res[1]))
		return msg, false
	}
	return msg, true
}

func (r *RedisQueue) handle(ctx context.Context, msg Message) {
	job, ok := r.job(msg.Type)
	if !ok {
		msg.LastError = "no job registered"
		r.bury(msg)
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	fields := []logger.Field{
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Duration("elapsed", time.Since(start)),
	}
	switch {
	case err == nil:
		r.log.Debug("message processed", fields...)
	case errors.Is(err, context.Canceled):
		r.log.Warn("message cancelled", fields...)
	case msg.Attempts < r.cfg.RetryLimit:
		msg.Attempts++
		msg.LastError = err.Error()
		due := time.Now().Add(r.cfg.RetryDelay)
		r.log.Warn("message failed, retrying", append(fields,
			logger.Error(err),
			logger.Int("attempt", msg.Attempts),
			logger.String("retry_at", due.Format(time.RFC3339)))...)
		r.postpone(msg, due)
	default:
		msg.LastError = err.Error()
		r.log.Error("message failed, giving up", append(fields,
			logger.Error(err),
			logger.Int("attempts", msg.Attempts+1))...)
		r.bury(msg)
	}
}

// postpone parks msg in the delayed set until due. Bookkeeping writes use a
// fresh context so a stopping queue still records the outcome.
func (r *RedisQueue) postpone(msg Message, due time.Time) {
	b, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("encode retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.keys.delayed, redis.Z{Score: float64(due.UnixMilli()), Member: b}).Err(); err != nil {
		r.log.Error("schedule retry", logger.Error(err), logger.String("id", msg.ID))
	}
}

func (r *RedisQueue) bury(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.push(ctx, r.keys.dead, msg); err != nil {
		r.log.Error("dead letter write failed", logger.Error(err), logger.String("id", msg.ID))
		return
	}
	r.log.Warn("message dead-lettered",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.String("reason", msg.LastError))
}

func (r *RedisQueue) pumpRetries(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.pollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.promote(ctx, time.Now()); err != nil && ctx.Err() == nil {
				r.log.Error("promote retries", logger.Error(err))
			}
		}
	}
}

// promote moves every retry due at now back to the ready list.
func (r *RedisQueue) promote(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		n, err := promoteDue.Run(ctx, r.client,
			[]string{r.keys.delayed, r.keys.ready},
			strconv.FormatInt(now.UnixMilli(), 10), promoteBatch).Int()
		if err != nil {
			return total, err
		}
		total += n
		if n < promoteBatch {
			return total, nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
