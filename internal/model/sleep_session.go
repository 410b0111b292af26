package model

import "time"

type SleepSession struct {
	ID              string             `db:"id" json:"id"`
	UserID          string             `db:"user_id" json:"userId"`
	ClockInAt       time.Time          `db:"clock_in_at" json:"clockInAt"`
	ClockOutAt      *time.Time         `db:"clock_out_at" json:"clockOutAt"`
	DurationSeconds *int64             `db:"duration_seconds" json:"durationSeconds"`
	Status          SleepSessionStatus `db:"status" json:"status"`
	CreatedAt       time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updatedAt"`
}

func (s *SleepSession) IsActive() bool {
	return s.Status == SleepStatusActive
}

type CreateSleepSessionParams struct {
	UserID    string
	ClockInAt time.Time
}

// CloseSleepSessionParams moves an active session into a terminal status.
type CloseSleepSessionParams struct {
	ID              string
	ClockOutAt      time.Time
	DurationSeconds int64
	Status          SleepSessionStatus
}

// FollowingSleepSession is one row of the followed users' weekly sleep feed.
type FollowingSleepSession struct {
	SleepSession
	User UserSummary `db:"user" json:"user"`
}
