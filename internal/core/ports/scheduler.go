package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleRecurring runs task at the cadence of the implementation.
	ScheduleRecurring(task func()) error
	ScheduleTaskOnce(at time.Time, task func()) error
}
