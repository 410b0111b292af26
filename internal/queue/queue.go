// Package queue is a durable delayed job queue on Redis.
//
// Jobs wait in a sorted set scored by due time. Claiming atomically moves
// due jobs into an in-flight set scored by a visibility deadline; a job that
// is neither acked, retried, nor dead-lettered before its deadline is
// returned to the delayed set by RecoverExpired. Delivery is at least once.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var claimScript = redis.NewScript(`
local delayed = KEYS[1]
local inflight = KEYS[2]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local deadline = tonumber(ARGV[3])

local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', now, 'LIMIT', 0, limit)
for _, member in ipairs(due) do
    redis.call('ZREM', delayed, member)
    redis.call('ZADD', inflight, deadline, member)
end

return due
`)

// requeueScript replaces an in-flight member with a new delayed member, but
// only while the caller still holds it.
var requeueScript = redis.NewScript(`
local inflight = KEYS[1]
local delayed = KEYS[2]
local member = ARGV[1]
local entry = ARGV[2]
local dueAt = tonumber(ARGV[3])

if redis.call('ZREM', inflight, member) == 0 then
    return 0
end
redis.call('ZADD', delayed, dueAt, entry)
return 1
`)

var deadLetterScript = redis.NewScript(`
local inflight = KEYS[1]
local dead = KEYS[2]
local member = ARGV[1]
local entry = ARGV[2]

if redis.call('ZREM', inflight, member) == 0 then
    return 0
end
redis.call('RPUSH', dead, entry)
return 1
`)

var recoverScript = redis.NewScript(`
local inflight = KEYS[1]
local delayed = KEYS[2]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local expired = redis.call('ZRANGEBYSCORE', inflight, '-inf', now, 'LIMIT', 0, limit)
for _, member in ipairs(expired) do
    redis.call('ZREM', inflight, member)
    redis.call('ZADD', delayed, now, member)
end

return #expired
`)

// Job is one deferred unit of work. Members are stored as their JSON form.
type Job struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	SessionID  string `json:"sessionId"`
	Attempts   int    `json:"attempts"`
	DueAt      int64  `json:"dueAt"`
	EnqueuedAt int64  `json:"enqueuedAt"`
	LastError  string `json:"lastError,omitempty"`

	raw string
}

// Due is the time the job became eligible to run.
func (j *Job) Due() time.Time {
	return time.UnixMilli(j.DueAt)
}

type Stats struct {
	Delayed  int64 `json:"delayed"`
	InFlight int64 `json:"inFlight"`
	Dead     int64 `json:"dead"`
}

type Queue struct {
	client      *redis.Client
	delayedKey  string
	inflightKey string
	deadKey     string
	visibility  time.Duration
	now         func() time.Time
}

func New(client *redis.Client, prefix string, visibility time.Duration) *Queue {
	return &Queue{
		client:      client,
		delayedKey:  prefix + ":delayed",
		inflightKey: prefix + ":inflight",
		deadKey:     prefix + ":dead",
		visibility:  visibility,
		now:         time.Now,
	}
}

// EnqueueAfter stores job to become due after delay. ID, DueAt and
// EnqueuedAt are assigned here.
func (q *Queue) EnqueueAfter(ctx context.Context, delay time.Duration, job Job) (*Job, error) {
	now := q.now()
	job.ID = uuid.NewString()
	job.EnqueuedAt = now.UnixMilli()
	job.DueAt = dueMillis(now.Add(delay))

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	job.raw = string(data)

	if err := q.client.ZAdd(ctx, q.delayedKey, redis.Z{
		Score:  float64(job.DueAt),
		Member: job.raw,
	}).Err(); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return &job, nil
}

// dueMillis rounds t up to the next whole millisecond so a job is never
// claimable before the time it was scheduled for.
func dueMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	if time.UnixMilli(ms).Before(t) {
		ms++
	}
	return ms
}

// Claim moves up to limit jobs due at now into flight.
func (q *Queue) Claim(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	deadline := now.Add(q.visibility).UnixMilli()
	members, err := claimScript.Run(ctx, q.client,
		[]string{q.delayedKey, q.inflightKey},
		now.UnixMilli(), limit, deadline,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	jobs := make([]Job, 0, len(members))
	for _, member := range members {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			log.Error().Err(err).Str("member", member).Msg("discarding malformed job")
			if _, dlErr := deadLetterScript.Run(ctx, q.client,
				[]string{q.inflightKey, q.deadKey}, member, member,
			).Int(); dlErr != nil {
				log.Error().Err(dlErr).Msg("failed to dead-letter malformed job")
			}
			continue
		}
		job.raw = member
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Ack removes a finished job from flight.
func (q *Queue) Ack(ctx context.Context, job Job) error {
	if err := q.client.ZRem(ctx, q.inflightKey, job.raw).Err(); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// Retry puts the job back in the delayed set after backoff with its attempt
// count incremented. It reports false when the job was no longer in flight.
func (q *Queue) Retry(ctx context.Context, job Job, backoff time.Duration, cause error) (bool, error) {
	next := job
	next.Attempts++
	next.DueAt = dueMillis(q.now().Add(backoff))
	if cause != nil {
		next.LastError = cause.Error()
	}

	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}

	moved, err := requeueScript.Run(ctx, q.client,
		[]string{q.inflightKey, q.delayedKey},
		job.raw, string(data), next.DueAt,
	).Int()
	if err != nil {
		return false, fmt.Errorf("retry job: %w", err)
	}
	return moved == 1, nil
}

// DeadLetter parks the job in the dead list. It reports false when the job
// was no longer in flight.
func (q *Queue) DeadLetter(ctx context.Context, job Job, cause error) (bool, error) {
	if cause != nil {
		job.LastError = cause.Error()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}

	moved, err := deadLetterScript.Run(ctx, q.client,
		[]string{q.inflightKey, q.deadKey},
		job.raw, string(data),
	).Int()
	if err != nil {
		return false, fmt.Errorf("dead-letter job: %w", err)
	}
	return moved == 1, nil
}

// RecoverExpired returns up to limit in-flight jobs whose visibility
// deadline passed before now to the delayed set, due immediately.
func (q *Queue) RecoverExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	n, err := recoverScript.Run(ctx, q.client,
		[]string{q.inflightKey, q.delayedKey},
		now.UnixMilli(), limit,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("recover jobs: %w", err)
	}
	return n, nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	delayed := pipe.ZCard(ctx, q.delayedKey)
	inflight := pipe.ZCard(ctx, q.inflightKey)
	dead := pipe.LLen(ctx, q.deadKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Delayed:  delayed.Val(),
		InFlight: inflight.Val(),
		Dead:     dead.Val(),
	}, nil
}

// DeadLetters returns up to limit dead jobs, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	members, err := q.client.LRange(ctx, q.deadKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	jobs := make([]Job, 0, len(members))
	for _, member := range members {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			continue
		}
		job.raw = member
		jobs = append(jobs, job)
	}
	return jobs, nil
}
