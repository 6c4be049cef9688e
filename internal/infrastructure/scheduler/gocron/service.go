package timescheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const defaultInterval = time.Minute

type Option func(*service)

func WithInterval(interval time.Duration) Option {
	return func(s *service) {
		s.interval = interval
	}
}

type service struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
}

// NewScheduler runs recurring tasks every interval and one-shot tasks at the given time.
func NewScheduler(opts ...Option) ports.SchedulerService {
	svc := &service{
		scheduler: gocron.NewScheduler(time.UTC),
		interval:  defaultInterval,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
	s.scheduler.Clear()
}

func (s *service) ScheduleRecurring(task func()) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid interval %s", s.interval)
	}
	_, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(task)
	return err
}

func (s *service) ScheduleTaskOnce(at time.Time, task func()) error {
	delay := time.Until(at)
	if delay <= 0 {
		log.Debugf("task scheduled in the past (%s), running now", at.Format(time.RFC3339))
		go task()
		return nil
	}

	_, err := s.scheduler.Every(delay).WaitForSchedule().LimitRunsTo(1).Do(task)
	return err
}
