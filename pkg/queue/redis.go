package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"PatternScan/pkg/cache"
	"PatternScan/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis list backed job queue with delayed retries, a dead
// letter list and optional per-message status tracking.
type RedisQueue struct {
	logger    *logger.Logger
	config    *QueueConfig
	client    *redis.Client
	status    cache.Service
	jobs      map[string]Job
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	keyPrefix string
	now       func() time.Time
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// WithStatusStore records message statuses in s. Without it Status always
// reports ErrStatusNotFound.
func WithStatusStore(s cache.Service) RedisQueueOption {
	return func(r *RedisQueue) {
		r.status = s
	}
}

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.StatusTTL <= 0 {
		config.StatusTTL = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	rq := &RedisQueue{
		logger:    lgr,
		config:    config,
		client:    client,
		jobs:      make(map[string]Job),
		ctx:       ctx,
		cancel:    cancel,
		keyPrefix: "patternscan:queue",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob registers the handler for job.Type(). The first registration
// for a type wins.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start pings Redis and starts the workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.mu.Lock()
		r.isRunning = false
		r.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryProcessor()

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("addr", r.client.Options().Addr),
		logger.String("prefix", r.keyPrefix))
	return nil
}

// Stop cancels in-flight jobs and waits for the workers. Cancelled messages
// are put back on the queue.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.mu.Unlock()

	r.logger.Info("stopping redis queue")
	r.cancel()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes a message for a registered job type and returns its id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	r.mu.RLock()
	running := r.isRunning
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return "", ErrNotRunning
	}
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}

	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return "", err
	}
	msg.Timestamp = r.now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	// status first so a fast worker never overwrites "running" with "queued"
	r.track(ctx, msg, StateQueued, nil, nil)
	if err := r.client.LPush(ctx, r.getQueueKey(), data).Err(); err != nil {
		if r.status != nil {
			_ = r.status.Delete(ctx, r.getStatusKey(msg.ID))
		}
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

// Status returns the tracked status of a message.
func (r *RedisQueue) Status(ctx context.Context, id string) (*Status, error) {
	if r.status == nil {
		return nil, ErrStatusNotFound
	}
	var st Status
	if err := r.status.Get(ctx, r.getStatusKey(id), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &st, nil
}

// NewMessage wraps payload into a message with a fresh id.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	r.logger.Debug("queue worker started", logger.Int("worker_id", id))

	queueKey := r.getQueueKey()
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("queue worker stopped", logger.Int("worker_id", id))
			return
		default:
			r.processNextMessage(queueKey)
		}
	}
}

func (r *RedisQueue) processNextMessage(queueKey string) {
	result, err := r.client.BRPop(r.ctx, time.Second, queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("brpop error", logger.Error(err))
		select {
		case <-r.ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		return
	}
	r.processMessage(msg)
}

func (r *RedisQueue) processMessage(msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.logger.Error("no job found",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		r.track(r.ctx, msg, StateDead, fmt.Errorf("%w: %s", ErrUnknownType, msg.Type), nil)
		return
	}

	r.track(r.ctx, msg, StateRunning, nil, nil)
	start := r.now()
	result, err := job.Handle(r.ctx, msg.Payload)
	elapsed := r.now().Sub(start)

	switch {
	case err == nil:
		r.track(context.Background(), msg, StateDone, nil, result)
		r.logger.Debug("message processed",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", elapsed))
	case errors.Is(err, context.Canceled) && r.ctx.Err() != nil:
		r.logger.Warn("message interrupted by shutdown, requeueing",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
		r.requeue(msg)
	default:
		r.handleProcessingError(msg, job, err)
	}
}

func (r *RedisQueue) handleProcessingError(msg Message, job Job, err error) {
	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if !shouldRetry(msg, r.config.RetryLimit) {
		r.logger.Error("max retries reached",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
		msg.Attempts++
		r.track(context.Background(), msg, StateDead, err, nil)
		r.moveToDeadLetterQueue(msg)
		return
	}

	msg.Attempts++
	retryAt := r.now().Add(r.config.RetryDelay)
	r.track(context.Background(), msg, StateRetrying, err, nil)
	r.scheduleRetry(msg, retryAt)
	r.logger.Info("scheduled retry",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", retryAt.Format(time.RFC3339)))
}

func shouldRetry(msg Message, limit int) bool {
	return msg.Attempts < limit
}

// track records a status transition. Failures are logged only: the queue
// keeps working when the status store is unavailable.
func (r *RedisQueue) track(ctx context.Context, msg Message, state State, cause error, result interface{}) {
	if r.status == nil {
		return
	}
	st := Status{
		ID:         msg.ID,
		Type:       msg.Type,
		State:      state,
		Attempts:   msg.Attempts,
		EnqueuedAt: msg.Timestamp,
		UpdatedAt:  r.now().UTC(),
	}
	if cause != nil {
		st.Error = cause.Error()
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			r.logger.Warn("encode job result", logger.String("id", msg.ID), logger.Error(err))
		} else {
			st.Result = raw
		}
	}
	if err := r.status.Set(ctx, r.getStatusKey(msg.ID), st, r.config.StatusTTL); err != nil {
		r.logger.Warn("record job status",
			logger.String("id", msg.ID),
			logger.String("state", string(state)),
			logger.Error(err))
	}
}

func (r *RedisQueue) requeue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal requeue", logger.Error(err))
		return
	}
	if err := r.client.RPush(context.Background(), r.getQueueKey(), data).Err(); err != nil {
		r.logger.Error("requeue", logger.String("id", msg.ID), logger.Error(err))
		return
	}
	r.track(context.Background(), msg, StateQueued, nil, nil)
}

func (r *RedisQueue) scheduleRetry(msg Message, retryAt time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}
	err = r.client.ZAdd(context.Background(), r.getRetryKey(), redis.Z{
		Score:  float64(retryAt.Unix()),
		Member: data,
	}).Err()
	if err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) moveToDeadLetterQueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dlq", logger.Error(err))
		return
	}
	if err := r.client.LPush(context.Background(), r.getDeadLetterKey(), data).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (r *RedisQueue) retryProcessor() {
	defer r.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.processRetryMessages()
		}
	}
}

// processRetryMessages moves due retries back onto the work list.
func (r *RedisQueue) processRetryMessages() {
	due, err := r.client.ZRangeByScore(r.ctx, r.getRetryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(r.now().Unix(), 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("fetch retry messages", logger.Error(err))
		}
		return
	}

	for _, data := range due {
		if r.ctx.Err() != nil {
			return
		}
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.getRetryKey(), data)
		pipe.LPush(r.ctx, r.getQueueKey(), data)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				r.logger.Error("move retry to queue", logger.Error(err))
			}
		}
	}
}

func (r *RedisQueue) getQueueKey() string {
	return cache.Key(r.keyPrefix, "messages")
}

func (r *RedisQueue) getRetryKey() string {
	return cache.Key(r.keyPrefix, "retry")
}

func (r *RedisQueue) getDeadLetterKey() string {
	return cache.Key(r.keyPrefix, "dlq")
}

func (r *RedisQueue) getStatusKey(id string) string {
	return cache.Key(r.keyPrefix, "status", id)
}
