package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sleepwatch/sleep-server-go/internal/config"
	"github.com/sleepwatch/sleep-server-go/internal/metrics"
)

type Recoverer interface {
	RecoverExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

// RecoveryJob periodically returns in-flight jobs abandoned by crashed or
// stopped workers to the delayed set.
type RecoveryJob struct {
	queue    Recoverer
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRecoveryJob(q Recoverer, interval time.Duration) *RecoveryJob {
	return &RecoveryJob{
		queue:    q,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (j *RecoveryJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("recovery job started")
}

// Stop waits for an in-progress sweep to finish. It is safe to call more
// than once.
func (j *RecoveryJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("recovery job stopped")
	})
}

func (j *RecoveryJob) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.recoverExpired()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.recoverExpired()
		}
	}
}

func (j *RecoveryJob) recoverExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), config.JobTimeout)
	defer cancel()

	count, err := j.queue.RecoverExpired(ctx, j.now(), config.RecoveryBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to recover expired jobs")
		return
	}
	if count > 0 {
		metrics.RecoveredJobs.Add(float64(count))
		log.Info().Int64("count", count).Msg("recovered expired jobs")
	}
}
