package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sleepwatch/sleep-server-go/internal/database"
	"github.com/sleepwatch/sleep-server-go/internal/model"
)

// activeSessionIndex enforces at most one active session per user.
const activeSessionIndex = "sleep_sessions_one_active_per_user_idx"

// ErrActiveSessionExists is returned by Create when the user already has an
// active session.
var ErrActiveSessionExists = errors.New("active sleep session already exists")

// FeedCursor is the sort key of the last row read from a following feed.
// Closed sessions never change duration, so the key is stable across reads.
type FeedCursor struct {
	DurationSeconds int64
	ID              string
}

type SleepSessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.SleepSession, error)
	FindActiveByUserID(ctx context.Context, userID string) (*model.SleepSession, error)
	FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.SleepSession, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
	Create(ctx context.Context, params model.CreateSleepSessionParams) (*model.SleepSession, error)
	// Close transitions an active session to a terminal status. It returns
	// nil without error when the session is missing or no longer active.
	Close(ctx context.Context, params model.CloseSleepSessionParams) (*model.SleepSession, error)
	// AverageDurationSince averages duration_seconds over the user's closed
	// sessions clocked in after since. ok is false when there are none.
	AverageDurationSince(ctx context.Context, userID string, since time.Time) (avg float64, ok bool, err error)
	FindClosedByUserIDsBetween(ctx context.Context, userIDs []string, from, to time.Time, limit, offset int) ([]model.FollowingSleepSession, error)
	// FindClosedByUserIDsAfter reads the rows that sort after the cursor,
	// or from the first row when after is nil.
	FindClosedByUserIDsAfter(ctx context.Context, userIDs []string, from, to time.Time, after *FeedCursor, limit int) ([]model.FollowingSleepSession, error)
	CountClosedByUserIDsBetween(ctx context.Context, userIDs []string, from, to time.Time) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SleepSessionRepository
}

type sleepSessionRepo struct {
	db database.DBTX
}

func NewSleepSessionRepository(db *sqlx.DB) SleepSessionRepository {
	return &sleepSessionRepo{db: db}
}

func (r *sleepSessionRepo) WithTx(tx *sqlx.Tx) SleepSessionRepository {
	return &sleepSessionRepo{db: tx}
}

func (r *sleepSessionRepo) FindByID(ctx context.Context, id string) (*model.SleepSession, error) {
	var session model.SleepSession
	err := r.db.GetContext(ctx, &session, `SELECT * FROM sleep_sessions WHERE id = $1`, id)
	return HandleNotFound(&session, err)
}

func (r *sleepSessionRepo) FindActiveByUserID(ctx context.Context, userID string) (*model.SleepSession, error) {
	var session model.SleepSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sleep_sessions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	return HandleNotFound(&session, err)
}

func (r *sleepSessionRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.SleepSession, error) {
	sessions := []model.SleepSession{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sleep_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return sessions, err
}

func (r *sleepSessionRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sleep_sessions WHERE user_id = $1
	`, userID)
	return count, err
}

func (r *sleepSessionRepo) Create(ctx context.Context, params model.CreateSleepSessionParams) (*model.SleepSession, error) {
	var session model.SleepSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sleep_sessions (user_id, clock_in_at, status)
		VALUES ($1, $2, 'active')
		RETURNING *
	`, params.UserID, params.ClockInAt)
	if database.IsUniqueViolation(err, activeSessionIndex) {
		return nil, ErrActiveSessionExists
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sleepSessionRepo) Close(ctx context.Context, params model.CloseSleepSessionParams) (*model.SleepSession, error) {
	var session model.SleepSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE sleep_sessions SET
			clock_out_at = $2,
			duration_seconds = $3,
			status = $4,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING *
	`, params.ID, params.ClockOutAt, params.DurationSeconds, params.Status)
	return HandleNotFound(&session, err)
}

func (r *sleepSessionRepo) AverageDurationSince(ctx context.Context, userID string, since time.Time) (float64, bool, error) {
	var avg sql.NullFloat64
	err := r.db.GetContext(ctx, &avg, `
		SELECT AVG(duration_seconds)::float8 FROM sleep_sessions
		WHERE user_id = $1
		AND status <> 'active'
		AND duration_seconds IS NOT NULL
		AND clock_in_at > $2
	`, userID, since)
	if err != nil {
		return 0, false, err
	}
	return avg.Float64, avg.Valid, nil
}

func (r *sleepSessionRepo) FindClosedByUserIDsBetween(
	ctx context.Context,
	userIDs []string,
	from, to time.Time,
	limit, offset int,
) ([]model.FollowingSleepSession, error) {
	rows := []model.FollowingSleepSession{}
	if len(userIDs) == 0 {
		return rows, nil
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT s.*, u.id AS "user.id", u.name AS "user.name"
		FROM sleep_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.user_id = ANY($1::uuid[])
		AND s.status <> 'active'
		AND s.created_at BETWEEN $2 AND $3
		ORDER BY s.duration_seconds DESC, s.id ASC
		LIMIT $4 OFFSET $5
	`, pq.Array(userIDs), from, to, limit, offset)
	return rows, err
}

func (r *sleepSessionRepo) FindClosedByUserIDsAfter(
	ctx context.Context,
	userIDs []string,
	from, to time.Time,
	after *FeedCursor,
	limit int,
) ([]model.FollowingSleepSession, error) {
	rows := []model.FollowingSleepSession{}
	if len(userIDs) == 0 {
		return rows, nil
	}
	if after == nil {
		return r.FindClosedByUserIDsBetween(ctx, userIDs, from, to, limit, 0)
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT s.*, u.id AS "user.id", u.name AS "user.name"
		FROM sleep_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.user_id = ANY($1::uuid[])
		AND s.status <> 'active'
		AND s.created_at BETWEEN $2 AND $3
		AND (s.duration_seconds < $4 OR (s.duration_seconds = $4 AND s.id > $5))
		ORDER BY s.duration_seconds DESC, s.id ASC
		LIMIT $6
	`, pq.Array(userIDs), from, to, after.DurationSeconds, after.ID, limit)
	return rows, err
}

func (r *sleepSessionRepo) CountClosedByUserIDsBetween(ctx context.Context, userIDs []string, from, to time.Time) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sleep_sessions
		WHERE user_id = ANY($1::uuid[])
		AND status <> 'active'
		AND created_at BETWEEN $2 AND $3
	`, pq.Array(userIDs), from, to)
	return count, err
}
