package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sleepwatch/sleep-server-go/internal/config"
	"github.com/sleepwatch/sleep-server-go/internal/repository"
)

// Elapsed returns whole seconds between clock in and clock out, truncating
// any sub-second remainder.
func Elapsed(clockInAt, clockOutAt time.Time) int64 {
	return int64(clockOutAt.Sub(clockInAt) / time.Second)
}

// DurationCalculator derives fallback close times from a user's history.
type DurationCalculator struct {
	sessionRepo repository.SleepSessionRepository
	lookback    time.Duration
	fallback    time.Duration
}

func NewDurationCalculator(sessionRepo repository.SleepSessionRepository) *DurationCalculator {
	return &DurationCalculator{
		sessionRepo: sessionRepo,
		lookback:    config.AverageLookback,
		fallback:    config.DefaultSleepDuration,
	}
}

// AverageOrDefault is the mean duration of the user's closed sessions that
// clocked in during the lookback window ending at now, or the default
// duration when there are none.
func (c *DurationCalculator) AverageOrDefault(ctx context.Context, userID string, now time.Time) (time.Duration, error) {
	avg, ok, err := c.sessionRepo.AverageDurationSince(ctx, userID, now.Add(-c.lookback))
	if err != nil {
		return 0, fmt.Errorf("average sleep duration: %w", err)
	}
	average := time.Duration(avg) * time.Second
	if !ok || average < time.Second {
		return c.fallback, nil
	}
	return average, nil
}

func (c *DurationCalculator) DefaultCloseTime(ctx context.Context, userID string, clockInAt, now time.Time) (time.Time, error) {
	d, err := c.AverageOrDefault(ctx, userID, now)
	if err != nil {
		return time.Time{}, err
	}
	return clockInAt.Add(d), nil
}
