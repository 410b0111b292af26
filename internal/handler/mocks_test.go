package handler

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/sleepwatch/sleep-server-go/internal/model"
	"github.com/sleepwatch/sleep-server-go/internal/repository"
)

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) Get(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

type mockSleeps struct {
	mock.Mock
}

func (m *mockSleeps) ClockIn(ctx context.Context, userID string, now time.Time) (*model.SleepSession, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SleepSession), args.Error(1)
}

func (m *mockSleeps) ClockOut(ctx context.Context, userID, sessionID string, now time.Time) (*model.SleepSession, error) {
	args := m.Called(ctx, userID, sessionID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SleepSession), args.Error(1)
}

func (m *mockSleeps) ActiveSession(ctx context.Context, userID string) (*model.SleepSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SleepSession), args.Error(1)
}

func (m *mockSleeps) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.SleepSession, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SleepSession), args.Error(1)
}

func (m *mockSleeps) CountByUser(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
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

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.SleepSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SleepSession), args.Error(1)
}

func (m *mockSessionRepo) FindActiveByUserID(ctx context.Context, userID string) (*model.SleepSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SleepSession), args.Error(1)
}

func (m *mockSessionRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.SleepSession, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]model.SleepSession), args.Error(1)
}

func (m *mockSessionRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSleepSessionParams) (*model.SleepSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SleepSession), args.Error(1)
}

func (m *mockSessionRepo) Close(ctx context.Context, params model.CloseSleepSessionParams) (*model.SleepSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SleepSession), args.Error(1)
}

func (m *mockSessionRepo) AverageDurationSince(ctx context.Context, userID string, since time.Time) (float64, bool, error) {
	args := m.Called(ctx, userID, since)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

func (m *mockSessionRepo) FindClosedByUserIDsBetween(ctx context.Context, userIDs []string, from, to time.Time, limit, offset int) ([]model.FollowingSleepSession, error) {
	args := m.Called(ctx, userIDs, from, to, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FollowingSleepSession), args.Error(1)
}

func (m *mockSessionRepo) FindClosedByUserIDsAfter(ctx context.Context, userIDs []string, from, to time.Time, after *repository.FeedCursor, limit int) ([]model.FollowingSleepSession, error) {
	args := m.Called(ctx, userIDs, from, to, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FollowingSleepSession), args.Error(1)
}

func (m *mockSessionRepo) CountClosedByUserIDsBetween(ctx context.Context, userIDs []string, from, to time.Time) (int, error) {
	args := m.Called(ctx, userIDs, from, to)
	return args.Int(0), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SleepSessionRepository {
	return m
}

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(ctx context.Context) error {
	return m.err
}
