package jobs

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sleepwatch/sleep-server-go/internal/queue"
	"github.com/sleepwatch/sleep-server-go/internal/service"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) EnqueueAfter(ctx context.Context, delay time.Duration, job queue.Job) (*queue.Job, error) {
	args := m.Called(ctx, delay, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *mockQueue) Claim(ctx context.Context, now time.Time, limit int) ([]queue.Job, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Job), args.Error(1)
}

func (m *mockQueue) Ack(ctx context.Context, job queue.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *mockQueue) Retry(ctx context.Context, job queue.Job, backoff time.Duration, cause error) (bool, error) {
	args := m.Called(ctx, job, backoff, cause)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueue) DeadLetter(ctx context.Context, job queue.Job, cause error) (bool, error) {
	args := m.Called(ctx, job, cause)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueue) Stats(ctx context.Context) (queue.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(queue.Stats), args.Error(1)
}

func (m *mockQueue) RecoverExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).(int64), args.Error(1)
}

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) AutoComplete(ctx context.Context, sessionID string, now time.Time) (service.AutoCompleteResult, error) {
	args := m.Called(ctx, sessionID, now)
	return args.Get(0).(service.AutoCompleteResult), args.Error(1)
}
