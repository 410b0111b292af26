package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/sleepwatch/sleep-server-go/internal/config"
	"github.com/sleepwatch/sleep-server-go/internal/database"
	apperrors "github.com/sleepwatch/sleep-server-go/internal/errors"
	"github.com/sleepwatch/sleep-server-go/internal/metrics"
	"github.com/sleepwatch/sleep-server-go/internal/model"
	"github.com/sleepwatch/sleep-server-go/internal/repository"
)

const (
	msgActiveSessionExists = "You already have an active sleep record"
	msgNoActiveSession     = "No active sleep record found"
)

// Transactor runs fn inside a database transaction. *database.DB satisfies it.
type Transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// AutoCompleteScheduler registers a durable, deferred auto-complete for a
// session. Implementations deliver at least once.
type AutoCompleteScheduler interface {
	Schedule(ctx context.Context, sessionID string, delay time.Duration) error
}

// AutoCompleteOutcome describes what an auto-complete invocation did.
type AutoCompleteOutcome string

const (
	AutoCompleted        AutoCompleteOutcome = "completed"
	AutoCompleteMissing  AutoCompleteOutcome = "missing"
	AutoCompleteInactive AutoCompleteOutcome = "not_active"
	AutoCompleteTooEarly AutoCompleteOutcome = "too_early"
)

// AutoCompleteResult reports an auto-complete invocation. RetryAfter is set
// for AutoCompleteTooEarly and is how long until the session reaches the
// threshold.
type AutoCompleteResult struct {
	Outcome    AutoCompleteOutcome
	RetryAfter time.Duration
}

type SleepService struct {
	tx          Transactor
	sessionRepo repository.SleepSessionRepository
	scheduler   AutoCompleteScheduler
	durations   *DurationCalculator
	threshold   time.Duration
}

func NewSleepService(
	tx Transactor,
	sessionRepo repository.SleepSessionRepository,
	scheduler AutoCompleteScheduler,
) *SleepService {
	return &SleepService{
		tx:          tx,
		sessionRepo: sessionRepo,
		scheduler:   scheduler,
		durations:   NewDurationCalculator(sessionRepo),
		threshold:   config.AutoCompleteThreshold,
	}
}

// ClockIn opens a session for the user and schedules its auto-completion in
// the same transaction. A failed enqueue rolls the session back.
func (s *SleepService) ClockIn(ctx context.Context, userID string, now time.Time) (*model.SleepSession, error) {
	if userID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	if now.IsZero() {
		return nil, apperrors.MissingRequired("clockInAt")
	}
	now = storedTime(now)

	var session *model.SleepSession
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		created, err := s.sessionRepo.WithTx(tx).Create(ctx, model.CreateSleepSessionParams{
			UserID:    userID,
			ClockInAt: now,
		})
		if errors.Is(err, repository.ErrActiveSessionExists) {
			return apperrors.Conflict(msgActiveSessionExists)
		}
		if err != nil {
			return apperrors.Database(err)
		}

		if err := s.scheduler.Schedule(ctx, created.ID, s.threshold); err != nil {
			return apperrors.Queue(err)
		}

		session = created
		return nil
	})
	if err != nil {
		if apperrors.IsConflict(err) {
			metrics.RecordClockIn("conflict")
			log.Debug().Str("userId", userID).Msg("clock in rejected: active session exists")
		} else {
			metrics.RecordClockIn("error")
		}
		return nil, err
	}

	metrics.RecordClockIn("created")
	log.Info().
		Str("sessionId", session.ID).
		Str("userId", userID).
		Time("clockInAt", session.ClockInAt).
		Dur("autoCompleteAfter", s.threshold).
		Msg("sleep session clocked in")

	return session, nil
}

// ClockOut completes the user's active session identified by sessionID.
// Sessions owned by someone else, missing, or already closed are NotFound.
func (s *SleepService) ClockOut(ctx context.Context, userID, sessionID string, now time.Time) (*model.SleepSession, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		metrics.RecordClockOut("not_found")
		return nil, apperrors.New(apperrors.ErrCodeNotFound, msgNoActiveSession)
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		metrics.RecordClockOut("error")
		return nil, apperrors.Database(err)
	}
	if session == nil || session.UserID != userID || !session.IsActive() {
		metrics.RecordClockOut("not_found")
		return nil, apperrors.New(apperrors.ErrCodeNotFound, msgNoActiveSession)
	}

	now = storedTime(now)
	if err := validateTimes(session.ClockInAt, &now); err != nil {
		metrics.RecordClockOut("invalid")
		return nil, err
	}

	closed, err := s.sessionRepo.Close(ctx, model.CloseSleepSessionParams{
		ID:              session.ID,
		ClockOutAt:      now,
		DurationSeconds: Elapsed(session.ClockInAt, now),
		Status:          model.SleepStatusCompleted,
	})
	if err != nil {
		metrics.RecordClockOut("error")
		return nil, apperrors.Database(err)
	}
	if closed == nil {
		// Lost a race with another clock out or the scheduler.
		metrics.RecordClockOut("not_found")
		return nil, apperrors.New(apperrors.ErrCodeNotFound, msgNoActiveSession)
	}

	metrics.RecordClockOut("completed")
	log.Info().
		Str("sessionId", closed.ID).
		Str("userId", userID).
		Int64("durationSeconds", *closed.DurationSeconds).
		Msg("sleep session clocked out")

	return closed, nil
}

// AutoComplete force-closes a session left open past the threshold. Missing,
// closed, or too-young sessions are no-ops so repeated delivery is safe.
func (s *SleepService) AutoComplete(ctx context.Context, sessionID string, now time.Time) (AutoCompleteResult, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		metrics.RecordAutoCompletion(string(AutoCompleteMissing))
		return AutoCompleteResult{Outcome: AutoCompleteMissing}, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return AutoCompleteResult{}, apperrors.Database(err)
	}

	result, err := s.autoComplete(ctx, session, now)
	if err != nil {
		return AutoCompleteResult{}, err
	}
	metrics.RecordAutoCompletion(string(result.Outcome))
	return result, nil
}

func (s *SleepService) autoComplete(ctx context.Context, session *model.SleepSession, now time.Time) (AutoCompleteResult, error) {
	if session == nil {
		return AutoCompleteResult{Outcome: AutoCompleteMissing}, nil
	}
	if !session.IsActive() {
		return AutoCompleteResult{Outcome: AutoCompleteInactive}, nil
	}
	if age := now.Sub(session.ClockInAt); age < s.threshold {
		log.Debug().
			Str("sessionId", session.ID).
			Time("clockInAt", session.ClockInAt).
			Dur("remaining", s.threshold-age).
			Msg("auto complete fired before threshold")
		return AutoCompleteResult{Outcome: AutoCompleteTooEarly, RetryAfter: s.threshold - age}, nil
	}

	clockOutAt, err := s.durations.DefaultCloseTime(ctx, session.UserID, session.ClockInAt, now)
	if err != nil {
		return AutoCompleteResult{}, apperrors.Database(err)
	}
	clockOutAt = storedTime(clockOutAt)
	if err := validateTimes(session.ClockInAt, &clockOutAt); err != nil {
		return AutoCompleteResult{}, err
	}

	closed, err := s.sessionRepo.Close(ctx, model.CloseSleepSessionParams{
		ID:              session.ID,
		ClockOutAt:      clockOutAt,
		DurationSeconds: Elapsed(session.ClockInAt, clockOutAt),
		Status:          model.SleepStatusAutoCompleted,
	})
	if err != nil {
		return AutoCompleteResult{}, apperrors.Database(err)
	}
	if closed == nil {
		return AutoCompleteResult{Outcome: AutoCompleteInactive}, nil
	}

	log.Info().
		Str("sessionId", closed.ID).
		Str("userId", closed.UserID).
		Time("clockOutAt", clockOutAt).
		Int64("durationSeconds", *closed.DurationSeconds).
		Msg("sleep session auto completed")

	return AutoCompleteResult{Outcome: AutoCompleted}, nil
}

func (s *SleepService) ActiveSession(ctx context.Context, userID string) (*model.SleepSession, error) {
	session, err := s.sessionRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return session, nil
}

// ListByUser returns the user's sessions, newest first.
func (s *SleepService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.SleepSession, error) {
	sessions, err := s.sessionRepo.FindByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return sessions, nil
}

func (s *SleepService) CountByUser(ctx context.Context, userID string) (int, error) {
	count, err := s.sessionRepo.CountByUserID(ctx, userID)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	return count, nil
}

// storedTime drops precision below what a timestamptz column keeps, so
// durations computed here match the stored clock columns.
func storedTime(t time.Time) time.Time {
	return t.Truncate(time.Microsecond)
}

// validateTimes checks the temporal shape of a session before any write.
func validateTimes(clockInAt time.Time, clockOutAt *time.Time) error {
	if clockInAt.IsZero() {
		return apperrors.MissingRequired("clockInAt")
	}
	if clockOutAt != nil && !clockOutAt.After(clockInAt) {
		return apperrors.ValidationError("clockOutAt must be after clockInAt").
			WithDetails(map[string]any{
				"clockInAt":  clockInAt,
				"clockOutAt": *clockOutAt,
			})
	}
	return nil
}
