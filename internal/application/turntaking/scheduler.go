package turntaking

import "time"

// Timer is a pending scheduled call
type Timer interface {
	Stop() bool
}

// Scheduler runs delayed callbacks on another goroutine
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type systemScheduler struct{}

// SystemScheduler schedules with time.AfterFunc
func SystemScheduler() Scheduler {
	return systemScheduler{}
}

func (systemScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
