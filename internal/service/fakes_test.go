package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/sleepwatch/sleep-server-go/internal/database"
	"github.com/sleepwatch/sleep-server-go/internal/model"
	"github.com/sleepwatch/sleep-server-go/internal/repository"
)

var errStore = errors.New("store unavailable")

// memSessionRepo is an in-memory SleepSessionRepository. Like the partial
// unique index, it allows one active session per user. Sessions created
// through a transaction view are removed when that transaction rolls back.
type memSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]*model.SleepSession
	names     map[string]string
	pending   map[*sqlx.Tx][]string
	fail      bool
	feedReads int
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[string]*model.SleepSession),
		names:    make(map[string]string),
		pending:  make(map[*sqlx.Tx][]string),
	}
}

type memSessionTxRepo struct {
	*memSessionRepo
	tx *sqlx.Tx
}

func (r *memSessionRepo) WithTx(tx *sqlx.Tx) repository.SleepSessionRepository {
	return &memSessionTxRepo{memSessionRepo: r, tx: tx}
}

func (r *memSessionTxRepo) Create(ctx context.Context, params model.CreateSleepSessionParams) (*model.SleepSession, error) {
	session, err := r.memSessionRepo.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.pending[r.tx] = append(r.pending[r.tx], session.ID)
	r.mu.Unlock()
	return session, nil
}

func (r *memSessionRepo) settle(tx *sqlx.Tx, commit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !commit {
		for _, id := range r.pending[tx] {
			delete(r.sessions, id)
		}
	}
	delete(r.pending, tx)
}

func (r *memSessionRepo) copyOf(s *model.SleepSession) *model.SleepSession {
	c := *s
	return &c
}

func (r *memSessionRepo) FindByID(ctx context.Context, id string) (*model.SleepSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errStore
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return r.copyOf(s), nil
}

func (r *memSessionRepo) FindActiveByUserID(ctx context.Context, userID string) (*model.SleepSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errStore
	}
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive() {
			return r.copyOf(s), nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) byUser(userID string) []model.SleepSession {
	out := []model.SleepSession{}
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memSessionRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.SleepSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errStore
	}
	return page(r.byUser(userID), limit, offset), nil
}

func (r *memSessionRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return 0, errStore
	}
	return len(r.byUser(userID)), nil
}

func (r *memSessionRepo) Create(ctx context.Context, params model.CreateSleepSessionParams) (*model.SleepSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errStore
	}
	for _, s := range r.sessions {
		if s.UserID == params.UserID && s.IsActive() {
			return nil, repository.ErrActiveSessionExists
		}
	}
	s := &model.SleepSession{
		ID:        uuid.NewString(),
		UserID:    params.UserID,
		ClockInAt: params.ClockInAt,
		Status:    model.SleepStatusActive,
		CreatedAt: params.ClockInAt,
		UpdatedAt: params.ClockInAt,
	}
	r.sessions[s.ID] = s
	return r.copyOf(s), nil
}

func (r *memSessionRepo) Close(ctx context.Context, params model.CloseSleepSessionParams) (*model.SleepSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errStore
	}
	s, ok := r.sessions[params.ID]
	if !ok || !s.IsActive() {
		return nil, nil
	}
	clockOut := params.ClockOutAt
	duration := params.DurationSeconds
	s.ClockOutAt = &clockOut
	s.DurationSeconds = &duration
	s.Status = params.Status
	s.UpdatedAt = clockOut
	return r.copyOf(s), nil
}

func (r *memSessionRepo) AverageDurationSince(ctx context.Context, userID string, since time.Time) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return 0, false, errStore
	}
	var sum float64
	var n int
	for _, s := range r.sessions {
		if s.UserID != userID || s.IsActive() || s.DurationSeconds == nil || !s.ClockInAt.After(since) {
			continue
		}
		sum += float64(*s.DurationSeconds)
		n++
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

func (r *memSessionRepo) closedBetween(userIDs []string, from, to time.Time) []model.FollowingSleepSession {
	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}
	out := []model.FollowingSleepSession{}
	for _, s := range r.sessions {
		if !wanted[s.UserID] || s.IsActive() || s.CreatedAt.Before(from) || s.CreatedAt.After(to) {
			continue
		}
		out = append(out, model.FollowingSleepSession{
			SleepSession: *s,
			User:         model.UserSummary{ID: s.UserID, Name: r.names[s.UserID]},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if *out[i].DurationSeconds != *out[j].DurationSeconds {
			return *out[i].DurationSeconds > *out[j].DurationSeconds
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memSessionRepo) FindClosedByUserIDsBetween(ctx context.Context, userIDs []string, from, to time.Time, limit, offset int) ([]model.FollowingSleepSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedReads++
	if r.fail {
		return nil, errStore
	}
	return page(r.closedBetween(userIDs, from, to), limit, offset), nil
}

func (r *memSessionRepo) FindClosedByUserIDsAfter(ctx context.Context, userIDs []string, from, to time.Time, after *repository.FeedCursor, limit int) ([]model.FollowingSleepSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedReads++
	if r.fail {
		return nil, errStore
	}
	rows := r.closedBetween(userIDs, from, to)
	if after != nil {
		start := len(rows)
		for i, row := range rows {
			d := *row.DurationSeconds
			if d < after.DurationSeconds || (d == after.DurationSeconds && row.ID > after.ID) {
				start = i
				break
			}
		}
		rows = rows[start:]
	}
	return page(rows, limit, 0), nil
}

func (r *memSessionRepo) CountClosedByUserIDsBetween(ctx context.Context, userIDs []string, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedReads++
	if r.fail {
		return 0, errStore
	}
	return len(r.closedBetween(userIDs, from, to)), nil
}

// addClosed seeds a finished session created at clockInAt.
func (r *memSessionRepo) addClosed(userID string, clockInAt time.Time, d time.Duration) *model.SleepSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	clockOut := clockInAt.Add(d)
	seconds := int64(d / time.Second)
	s := &model.SleepSession{
		ID:              uuid.NewString(),
		UserID:          userID,
		ClockInAt:       clockInAt,
		ClockOutAt:      &clockOut,
		DurationSeconds: &seconds,
		Status:          model.SleepStatusCompleted,
		CreatedAt:       clockInAt,
		UpdatedAt:       clockOut,
	}
	r.sessions[s.ID] = s
	return r.copyOf(s)
}

// addActive seeds an open session created at clockInAt.
func (r *memSessionRepo) addActive(userID string, clockInAt time.Time) *model.SleepSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.SleepSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		ClockInAt: clockInAt,
		Status:    model.SleepStatusActive,
		CreatedAt: clockInAt,
		UpdatedAt: clockInAt,
	}
	r.sessions[s.ID] = s
	return r.copyOf(s)
}

func (r *memSessionRepo) activeCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive() {
			n++
		}
	}
	return n
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// fakeTransactor hands every call its own transaction handle and rolls back
// the sessions created under it when fn fails.
type fakeTransactor struct {
	repo *memSessionRepo
}

func (f *fakeTransactor) WithTx(ctx context.Context, fn database.TxFunc) error {
	tx := new(sqlx.Tx)
	if err := fn(tx); err != nil {
		f.repo.settle(tx, false)
		return err
	}
	f.repo.settle(tx, true)
	return nil
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Schedule(ctx context.Context, sessionID string, delay time.Duration) error {
	args := m.Called(ctx, sessionID, delay)
	return args.Error(0)
}

type mockFollowRepo struct {
	mock.Mock
}

func (m *mockFollowRepo) FollowedIDs(ctx context.Context, followerID string) ([]string, error) {
	args := m.Called(ctx, followerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}
