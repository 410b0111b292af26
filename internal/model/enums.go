package model

type SleepSessionStatus string

const (
	SleepStatusActive        SleepSessionStatus = "active"
	SleepStatusCompleted     SleepSessionStatus = "completed"
	SleepStatusAutoCompleted SleepSessionStatus = "auto_completed"
)

// Terminal reports whether no further transition is allowed.
func (s SleepSessionStatus) Terminal() bool {
	return s == SleepStatusCompleted || s == SleepStatusAutoCompleted
}
