package service

import (
	"context"
	"iter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sleepwatch/sleep-server-go/internal/config"
	apperrors "github.com/sleepwatch/sleep-server-go/internal/errors"
	"github.com/sleepwatch/sleep-server-go/internal/model"
	"github.com/sleepwatch/sleep-server-go/internal/repository"
)

const feedBatchSize = 100

// WeekWindow returns the range from the start of the day days ago, in loc,
// up to now.
func WeekWindow(now time.Time, loc *time.Location, days int) (from, to time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).AddDate(0, 0, -days).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), now
}

type FollowingSleepService struct {
	followRepo  repository.FollowRepository
	sessionRepo repository.SleepSessionRepository
	loc         *time.Location
	windowDays  int
}

func NewFollowingSleepService(
	followRepo repository.FollowRepository,
	sessionRepo repository.SleepSessionRepository,
	loc *time.Location,
) *FollowingSleepService {
	return &FollowingSleepService{
		followRepo:  followRepo,
		sessionRepo: sessionRepo,
		loc:         loc,
		windowDays:  config.FollowingWindowDays,
	}
}

// PreviousWeek resolves the user's follow set once and returns a feed over
// the closed sessions those users started during the previous week.
func (s *FollowingSleepService) PreviousWeek(ctx context.Context, userID string, now time.Time) (*FollowingSleepFeed, error) {
	ids, err := s.followRepo.FollowedIDs(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	from, to := WeekWindow(now, s.loc, s.windowDays)

	log.Debug().
		Str("userId", userID).
		Int("following", len(ids)).
		Time("from", from).
		Time("to", to).
		Msg("following sleep feed resolved")

	return &FollowingSleepFeed{
		sessionRepo: s.sessionRepo,
		userIDs:     ids,
		from:        from,
		to:          to,
		batchSize:   feedBatchSize,
	}, nil
}

// FollowingSleepFeed is a lazy, restartable sequence of followed users'
// closed sessions, longest first. Nothing is read until it is consumed.
type FollowingSleepFeed struct {
	sessionRepo repository.SleepSessionRepository
	userIDs     []string
	from        time.Time
	to          time.Time
	batchSize   int
}

func (f *FollowingSleepFeed) Window() (from, to time.Time) {
	return f.from, f.to
}

func (f *FollowingSleepFeed) Page(ctx context.Context, limit, offset int) ([]model.FollowingSleepSession, error) {
	if len(f.userIDs) == 0 {
		return []model.FollowingSleepSession{}, nil
	}
	rows, err := f.sessionRepo.FindClosedByUserIDsBetween(ctx, f.userIDs, f.from, f.to, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return rows, nil
}

func (f *FollowingSleepFeed) Count(ctx context.Context) (int, error) {
	if len(f.userIDs) == 0 {
		return 0, nil
	}
	count, err := f.sessionRepo.CountClosedByUserIDsBetween(ctx, f.userIDs, f.from, f.to)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	return count, nil
}

// All yields every row in order, reading one batch at a time. Each call
// starts over from the first row. Batches continue from the sort key of the
// last row yielded, so sessions closed mid-iteration are never yielded twice
// and never push an unread row out of reach.
func (f *FollowingSleepFeed) All(ctx context.Context) iter.Seq2[model.FollowingSleepSession, error] {
	return func(yield func(model.FollowingSleepSession, error) bool) {
		if len(f.userIDs) == 0 {
			return
		}
		var cursor *repository.FeedCursor
		for {
			rows, err := f.sessionRepo.FindClosedByUserIDsAfter(ctx, f.userIDs, f.from, f.to, cursor, f.batchSize)
			if err != nil {
				yield(model.FollowingSleepSession{}, apperrors.Database(err))
				return
			}
			for _, row := range rows {
				if !yield(row, nil) {
					return
				}
			}
			if len(rows) < f.batchSize {
				return
			}
			last := rows[len(rows)-1]
			cursor = &repository.FeedCursor{DurationSeconds: *last.DurationSeconds, ID: last.ID}
		}
	}
}
