package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"FinFeat/pkg/logger"
)

const promoteEvery = time.Second

var (
	ErrNotRunning  = errors.New("queue: not running")
	ErrUnknownType = errors.New("queue: no job registered for type")
)

// RedisQueue is a work queue on a Redis list. Failed deliveries wait in a
// sorted set scored by due time and move back to the list when due; messages
// that exhaust RetryLimit land on a dead-letter list.
type RedisQueue struct {
	client  *redis.Client
	cfg     Config
	log     *logger.Logger
	observe Observer

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

type Option func(*RedisQueue)

// WithObserver reports every delivery outcome, e.g. to metrics.
func WithObserver(o Observer) Option {
	return func(q *RedisQueue) { q.observe = o }
}

func NewRedisQueue(client *redis.Client, cfg Config, l *logger.Logger, opts ...Option) *RedisQueue {
	if cfg.Prefix == "" {
		cfg.Prefix = "finfeat:queue"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.MaxDelay < cfg.RetryDelay {
		cfg.MaxDelay = 10 * cfg.RetryDelay
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	if l == nil {
		l = logger.Nop()
	}
	q := &RedisQueue{
		client:  client,
		cfg:     cfg,
		log:     l.With(logger.String("component", "queue")),
		observe: func(string, time.Duration, error) {},
		jobs:    make(map[string]Job),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RegisterJob routes messages of job.Type() to job. Registering a type twice
// replaces the earlier job.
func (q *RedisQueue) RegisterJob(job Job) {
	q.mu.Lock()
	q.jobs[job.Type()] = job
	q.mu.Unlock()
	q.log.Debug("job registered", logger.String("type", job.Type()))
}

// Start pings Redis, then launches the workers and the retry promoter.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue: already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := q.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("queue: redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	q.wg.Add(1)
	go q.promoteLoop(ctx)

	q.log.Info("queue started",
		logger.Int("workers", q.cfg.Workers),
		logger.String("key", q.key("messages")),
	)
	return nil
}

// Stop cancels in-flight handlers and waits for workers until ctx expires.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.log.Info("queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: stop: %w", ctx.Err())
	}
}

// Enqueue stores payload as JSON under msgType.
func (q *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	q.mu.RLock()
	running := q.running
	_, known := q.jobs[msgType]
	q.mu.RUnlock()
	if !running {
		return "", ErrNotRunning
	}
	if !known {
		return "", fmt.Errorf("%w %q", ErrUnknownType, msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: encode payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, EnqueuedAt: q.now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if err := q.client.LPush(ctx, q.key("messages"), data).Err(); err != nil {
		return "", fmt.Errorf("queue: lpush: %w", err)
	}
	return msg.ID, nil
}

// PublishMessage implements Publisher.
func (q *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	_, err := q.Enqueue(ctx, msgType, payload)
	return err
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.key("messages"))
	retrying := pipe.ZCard(ctx, q.key("retry"))
	dead := pipe.LLen(ctx, q.key("dlq"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return Stats{Pending: pending.Val(), Retrying: retrying.Val(), DeadLetter: dead.Val()}, nil
}

func (q *RedisQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		res, err := q.client.BRPop(ctx, q.cfg.Poll, q.key("messages")).Result()
		switch {
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		case err != nil:
			q.log.Error("queue pop failed", logger.Error(err))
			sleepCtx(ctx, q.cfg.Poll)
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			q.log.Error("queue message unreadable", logger.Error(err))
			continue
		}
		oc, settled := q.deliver(ctx, msg)
		q.settle(ctx, oc, settled)
	}
}

type outcome int

const (
	done outcome = iota
	retry
	dead
	abandoned
)

// deliver runs the job for msg and decides what happens to it next. It
// increments msg.Attempts on failure.
func (q *RedisQueue) deliver(ctx context.Context, msg Message) (outcome, *Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		msg.LastError = fmt.Sprintf("%v %q", ErrUnknownType, msg.Type)
		return dead, &msg
	}

	start := q.now()
	err := job.Handle(ctx, msg.Payload)
	q.observe(msg.Type, q.now().Sub(start), err)
	switch {
	case err == nil:
		return done, &msg
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return abandoned, &msg
	}

	msg.Attempts++
	msg.LastError = err.Error()
	if msg.Attempts > q.cfg.RetryLimit {
		return dead, &msg
	}
	return retry, &msg
}

func (q *RedisQueue) settle(ctx context.Context, oc outcome, msg *Message) {
	// settle writes survive shutdown so no delivery is silently lost
	wctx := context.WithoutCancel(ctx)
	fields := []logger.Field{
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempts", msg.Attempts),
	}
	switch oc {
	case done:
		return
	case abandoned:
		// put it back for the next process to pick up
		if err := q.push(wctx, q.key("messages"), msg); err != nil {
			q.log.Error("queue requeue failed", append(fields, logger.Error(err))...)
		}
	case retry:
		due := q.now().Add(q.cfg.backoff(msg.Attempts))
		data, err := json.Marshal(msg)
		if err == nil {
			err = q.client.ZAdd(wctx, q.key("retry"), redis.Z{Score: float64(due.UnixMilli()), Member: data}).Err()
		}
		if err != nil {
			q.log.Error("queue retry schedule failed", append(fields, logger.Error(err))...)
			return
		}
		q.log.Warn("queue delivery failed, retrying", append(fields, logger.String("error", msg.LastError), logger.String("due", due.Format(time.RFC3339)))...)
	case dead:
		if err := q.push(wctx, q.key("dlq"), msg); err != nil {
			q.log.Error("queue dead-letter failed", append(fields, logger.Error(err))...)
			return
		}
		q.log.Error("queue message dead-lettered", append(fields, logger.String("error", msg.LastError))...)
	}
}

func (q *RedisQueue) promoteLoop(ctx context.Context) {
	defer q.wg.Done()
	t := time.NewTicker(promoteEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				q.log.Error("queue retry promotion failed", logger.Error(err))
			} else if n > 0 {
				q.log.Debug("queue retries promoted", logger.Int("count", n))
			}
		}
	}
}

// promoteDue moves due retries back to the main list. ZREM acts as the claim,
// so two processes never promote the same member.
func (q *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key("retry"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, m := range members {
		claimed, err := q.client.ZRem(ctx, q.key("retry"), m).Result()
		if err != nil {
			return moved, err
		}
		if claimed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key("messages"), m).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (q *RedisQueue) push(ctx context.Context, key string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, key, data).Err()
}

func (q *RedisQueue) key(name string) string {
	return q.cfg.Prefix + ":" + name
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
