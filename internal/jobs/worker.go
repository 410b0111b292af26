package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sleepwatch/sleep-server-go/internal/config"
	apperrors "github.com/sleepwatch/sleep-server-go/internal/errors"
	"github.com/sleepwatch/sleep-server-go/internal/metrics"
	"github.com/sleepwatch/sleep-server-go/internal/queue"
	"github.com/sleepwatch/sleep-server-go/internal/service"
)

var errUnknownKind = errors.New("unknown job kind")

type JobQueue interface {
	Claim(ctx context.Context, now time.Time, limit int) ([]queue.Job, error)
	Ack(ctx context.Context, job queue.Job) error
	Retry(ctx context.Context, job queue.Job, backoff time.Duration, cause error) (bool, error)
	DeadLetter(ctx context.Context, job queue.Job, cause error) (bool, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

type AutoCompleter interface {
	AutoComplete(ctx context.Context, sessionID string, now time.Time) (service.AutoCompleteResult, error)
}

type WorkerPoolConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

// WorkerPool claims due jobs and runs them on a fixed set of goroutines.
// Jobs claimed but not started when the pool stops stay in flight and are
// redelivered after their visibility deadline.
type WorkerPool struct {
	queue     JobQueue
	completer AutoCompleter
	cfg       WorkerPoolConfig
	now       func() time.Time
	jobs      chan queue.Job
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewWorkerPool(q JobQueue, completer AutoCompleter, cfg WorkerPoolConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &WorkerPool{
		queue:     q,
		completer: completer,
		cfg:       cfg,
		now:       time.Now,
		jobs:      make(chan queue.Job),
		done:      make(chan struct{}),
	}
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.wg.Add(1)
	go p.poll()

	log.Info().
		Int("workers", p.cfg.Workers).
		Dur("pollInterval", p.cfg.PollInterval).
		Msg("scheduler worker pool started")
}

// Stop waits for running jobs to finish. It is safe to call more than once.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		log.Info().Msg("scheduler worker pool stopped")
	})
}

func (p *WorkerPool) poll() {
	defer p.wg.Done()
	defer close(p.jobs)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if !p.dispatch() {
			return
		}
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
	}
}

// dispatch claims one batch and hands it to the workers. It returns false
// once the pool is stopping.
func (p *WorkerPool) dispatch() bool {
	ctx, cancel := context.WithTimeout(context.Background(), config.JobTimeout)
	defer cancel()

	if stats, err := p.queue.Stats(ctx); err == nil {
		metrics.SetQueueDepth(stats.Delayed, stats.InFlight, stats.Dead)
	}

	claimed, err := p.queue.Claim(ctx, p.now(), p.cfg.BatchSize)
	if err != nil {
		log.Warn().Err(err).Msg("failed to claim jobs")
		return true
	}

	for _, job := range claimed {
		select {
		case <-p.done:
			return false
		case p.jobs <- job:
		}
	}
	return true
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.handle(job)
	}
}

func (p *WorkerPool) handle(job queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), config.JobTimeout)
	defer cancel()

	now := p.now()
	lag := now.Sub(job.Due()).Seconds()
	logger := log.With().
		Str("jobId", job.ID).
		Str("kind", job.Kind).
		Str("sessionId", job.SessionID).
		Int("attempts", job.Attempts).
		Logger()

	rearm, err := p.run(ctx, job, now)

	switch {
	case err == nil && rearm > 0:
		// Ran before the session reached the threshold; deliver it again
		// once it has.
		if _, retryErr := p.queue.Retry(ctx, job, rearm, nil); retryErr != nil {
			logger.Warn().Err(retryErr).Msg("failed to re-arm early job")
		}
		metrics.RecordJob("rearm", lag)
		logger.Debug().Dur("rearm", rearm).Msg("job ran early, re-armed")

	case err == nil:
		if ackErr := p.queue.Ack(ctx, job); ackErr != nil {
			logger.Warn().Err(ackErr).Msg("failed to ack job")
		}
		metrics.RecordJob("ack", lag)
		logger.Debug().Msg("job completed")

	case permanent(err) || job.Attempts+1 >= p.cfg.MaxAttempts:
		if _, dlErr := p.queue.DeadLetter(ctx, job, err); dlErr != nil {
			logger.Warn().Err(dlErr).Msg("failed to dead-letter job")
		}
		metrics.RecordJob("dead", lag)
		logger.Error().Err(err).Msg("job dead-lettered")

	default:
		backoff := retryBackoff(job.Attempts)
		if _, retryErr := p.queue.Retry(ctx, job, backoff, err); retryErr != nil {
			logger.Warn().Err(retryErr).Msg("failed to requeue job")
		}
		metrics.RecordJob("retry", lag)
		logger.Warn().Err(err).Dur("backoff", backoff).Msg("job failed, will retry")
	}
}

// run executes job. A positive rearm means the job ran too early and should
// be delivered again after that long.
func (p *WorkerPool) run(ctx context.Context, job queue.Job, now time.Time) (rearm time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			rearm, err = 0, fmt.Errorf("job panicked: %v", r)
		}
	}()

	switch job.Kind {
	case KindAutoComplete:
		result, acErr := p.completer.AutoComplete(ctx, job.SessionID, now)
		if apperrors.IsNotFound(acErr) {
			return 0, nil
		}
		if acErr != nil {
			return 0, acErr
		}
		log.Debug().
			Str("jobId", job.ID).
			Str("sessionId", job.SessionID).
			Str("outcome", string(result.Outcome)).
			Msg("auto complete handled")
		if result.Outcome == service.AutoCompleteTooEarly {
			return result.RetryAfter, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnknownKind, job.Kind)
	}
}

// permanent errors will not succeed on retry.
func permanent(err error) bool {
	return errors.Is(err, errUnknownKind) || apperrors.IsValidation(err)
}

func retryBackoff(attempts int) time.Duration {
	backoff := config.RetryBaseBackoff
	for i := 0; i < attempts; i++ {
		backoff *= 2
		if backoff >= config.RetryMaxBackoff {
			return config.RetryMaxBackoff
		}
	}
	return backoff
}
