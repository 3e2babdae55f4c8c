// Package queue implements a Redis-backed delayed task queue. Ready tasks
// live in a ZSET scored by availability time, claimed tasks move to a
// processing ZSET scored by their visibility deadline, and exhausted tasks
// land in a Postgres dead letter table. Webhook delivery rides on it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/technoprod/backend-gestion/internal/resilience"
)

const defaultTaskMaxAttempts = 10

// Task represents a job to be processed asynchronously. Attempt is only set
// when replaying a dead letter entry; normal enqueues start at zero.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

// Enqueuer publishes tasks to Redis backed queues.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task into its kind's queue. With an idempotency key the
// task is only accepted once per deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = defaultTaskMaxAttempts
	}
	msg.AvailableAt = time.Now().Add(t.Delay).UnixNano()

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, e.dedupKey(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, e.queueKey(kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

func (e Enqueuer) queueKey(kind string) string { return prefixedKey(e.Prefix, "queue:"+kind) }

func (e Enqueuer) dedupKey(kind, k string) string {
	return prefixedKey(e.Prefix, "dedup:"+kind+":"+k)
}

// Worker consumes tasks for a single kind. Tasks whose handler outlives the
// visibility timeout are reclaimed and retried by the next pass.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	SoftDeadline      time.Duration
	RetryBase         time.Duration
	RetryJitter       float64
	Store             Store
	Logger            *zerolog.Logger
	Handler           func(context.Context, Task) error
}

// Run processes tasks until the context is cancelled.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	queueKey := w.queueKey(kind)
	processingKey := w.processingKey(kind)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	reclaimEvery := visibility / 2
	if reclaimEvery < 50*time.Millisecond {
		reclaimEvery = 50 * time.Millisecond
	}
	if reclaimEvery > time.Second {
		reclaimEvery = time.Second
	}
	reclaimTicker := time.NewTicker(reclaimEvery)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-reclaimTicker.C:
			if err := w.reclaimExpired(ctx, processingKey, queueKey); err != nil {
				return err
			}
		default:
		}

		msg, ok, err := w.pop(ctx, queueKey)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				wg.Wait()
				return nil
			}
			return err
		}
		if !ok {
			sleepOrDone(ctx, 50*time.Millisecond)
			continue
		}

		msg.Attempt++
		claimed, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, processingKey, redis.Z{Score: float64(deadline), Member: claimed}).Err(); err != nil {
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(claimed string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			w.process(ctx, kind, queueKey, processingKey, claimed, m, retryBase)
		}(string(claimed), msg)
	}
}

// pop claims the smallest-score member when it is due. Not-yet-due tasks are
// pushed back untouched.
func (w Worker) pop(ctx context.Context, queueKey string) (taskMessage, bool, error) {
	res, err := w.R.ZPopMin(ctx, queueKey, 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return taskMessage{}, false, nil
		}
		return taskMessage{}, false, err
	}
	if len(res) == 0 {
		return taskMessage{}, false, nil
	}
	raw, ok := res[0].Member.(string)
	if !ok {
		return taskMessage{}, false, nil
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		w.logWarn("queue: dropping undecodable task", err)
		return taskMessage{}, false, nil
	}
	if now := time.Now().UnixNano(); msg.AvailableAt > now {
		w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: raw})
		wait := time.Duration(msg.AvailableAt - now)
		if wait > time.Second {
			wait = time.Second
		}
		sleepOrDone(ctx, wait)
		return taskMessage{}, false, nil
	}
	return msg, true, nil
}

func (w Worker) process(ctx context.Context, kind, queueKey, processingKey, claimed string, msg taskMessage, retryBase time.Duration) {
	var jobCtx context.Context
	var cancel context.CancelFunc
	if w.SoftDeadline > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.SoftDeadline)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	err := w.Handler(jobCtx, Task{
		Kind:           kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        msg.Attempt,
	})
	if err == nil {
		w.ack(ctx, processingKey, claimed, msg)
		w.countProcessed(kind, "ok")
		return
	}
	if jobCtx.Err() != nil && ctx.Err() == nil {
		// soft deadline hit, leave the claim for the visibility reclaim
		w.countProcessed(kind, "timeout")
		return
	}
	w.fail(ctx, kind, queueKey, processingKey, claimed, msg, retryBase, err)
}

func (w Worker) fail(ctx context.Context, kind, queueKey, processingKey, claimed string, msg taskMessage, retryBase time.Duration, cause error) {
	_ = w.R.ZRem(ctx, processingKey, claimed).Err()
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		w.deadLetter(ctx, kind, claimed, msg, cause)
		return
	}
	msg.AvailableAt = time.Now().Add(resilience.Backoff(retryBase, msg.Attempt, w.RetryJitter)).UnixNano()
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
	w.countProcessed(kind, "retry")
}

func (w Worker) deadLetter(ctx context.Context, kind, claimed string, msg taskMessage, cause error) {
	defer func() {
		if msg.Key != "" {
			_ = w.R.Del(ctx, w.dedupKey(kind, msg.Key)).Err()
		}
		w.countProcessed(kind, "dlq")
		if QueueDLQSize != nil && w.Store != nil {
			if count, err := w.Store.CountQueueDlq(ctx, kind); err == nil {
				QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(count))
			}
		}
	}()
	if w.Store == nil {
		// no database store wired, keep the payload in a redis list
		_ = w.R.LPush(ctx, w.dlqKey(kind), claimed).Err()
		return
	}
	reason := cause.Error()
	_, err := w.Store.InsertQueueDlq(ctx, DLQEntry{
		Kind:           kind,
		IdempotencyKey: msg.Key,
		Payload:        []byte(claimed),
		Attempts:       msg.Attempt,
		LastError:      &reason,
	})
	if err != nil {
		w.logWarn("queue: dead letter insert failed", err)
		_ = w.R.LPush(ctx, w.dlqKey(kind), claimed).Err()
	}
}

func (w Worker) ack(ctx context.Context, processingKey, claimed string, msg taskMessage) {
	_ = w.R.ZRem(ctx, processingKey, claimed).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, w.dedupKey(msg.Kind, msg.Key)).Err()
	}
}

// reclaimExpired returns tasks whose visibility deadline passed to the ready
// queue. Their attempt counter is preserved; the next pop increments it.
func (w Worker) reclaimExpired(ctx context.Context, processingKey, queueKey string) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		msg, err := decodeMessage(raw)
		if err != nil {
			_ = w.R.ZRem(ctx, processingKey, raw).Err()
			continue
		}
		_ = w.R.ZRem(ctx, processingKey, raw).Err()
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
	}
	return nil
}

func (w Worker) countProcessed(kind, status string) {
	if QueueProcessedTotal != nil {
		QueueProcessedTotal.WithLabelValues(queueLabel(kind), status).Inc()
	}
}

func (w Worker) logWarn(msg string, err error) {
	if w.Logger != nil {
		w.Logger.Warn().Err(err).Msg(msg)
	}
}

func (w Worker) queueKey(kind string) string { return prefixedKey(w.Prefix, "queue:"+kind) }

func (w Worker) processingKey(kind string) string {
	return prefixedKey(w.Prefix, "queue:"+kind+":processing")
}

func (w Worker) dlqKey(kind string) string { return prefixedKey(w.Prefix, "queue:"+kind+":dlq") }

func (w Worker) dedupKey(kind, k string) string { return prefixedKey(w.Prefix, "dedup:"+kind+":"+k) }

func prefixedKey(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + ":" + suffix
}

// queueLabel strips a tenant prefix from a kind so metric cardinality stays
// bounded by task kinds, not tenants.
func queueLabel(kind string) string {
	if i := strings.LastIndexByte(kind, ':'); i >= 0 {
		return kind[i+1:]
	}
	return kind
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == ':' {
			continue
		}
		return ""
	}
	return kind
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
