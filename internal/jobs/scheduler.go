package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sleepwatch/sleep-server-go/internal/queue"
)

const KindAutoComplete = "auto_complete"

type Enqueuer interface {
	EnqueueAfter(ctx context.Context, delay time.Duration, job queue.Job) (*queue.Job, error)
}

// AutoCompleteScheduler turns a session id into a durable delayed job.
type AutoCompleteScheduler struct {
	queue Enqueuer
}

func NewAutoCompleteScheduler(q Enqueuer) *AutoCompleteScheduler {
	return &AutoCompleteScheduler{queue: q}
}

func (s *AutoCompleteScheduler) Schedule(ctx context.Context, sessionID string, delay time.Duration) error {
	job, err := s.queue.EnqueueAfter(ctx, delay, queue.Job{
		Kind:      KindAutoComplete,
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("schedule auto complete: %w", err)
	}

	log.Debug().
		Str("jobId", job.ID).
		Str("sessionId", sessionID).
		Time("dueAt", job.Due()).
		Msg("auto complete scheduled")

	return nil
}
