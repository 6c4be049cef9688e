package blockscheduler

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const tipHeightEndpoint = "/blocks/tip/height"

type Option func(*service)

func WithTickerInterval(interval time.Duration) Option {
	return func(s *service) {
		s.tickerInterval = interval
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *service) {
		s.clock = c
	}
}

type timedTask struct {
	at   time.Time
	task func()
}

// service polls the esplora tip: recurring tasks run once per new block, one-shot tasks
// run at the first poll after their time.
type service struct {
	tipURL         string
	lock           sync.Locker
	recurring      []func()
	taskes         []timedTask
	lastTip        int64
	stopCh         chan struct{}
	stopOnce       sync.Once
	tickerInterval time.Duration
	clock          clock.Clock
	httpClient     *http.Client
}

func NewScheduler(esploraURL string, opts ...Option) (ports.SchedulerService, error) {
	if len(esploraURL) == 0 {
		return nil, fmt.Errorf("esplora URL is required")
	}

	tipURL, err := url.JoinPath(esploraURL, tipHeightEndpoint)
	if err != nil {
		return nil, err
	}

	svc := &service{
		tipURL:         tipURL,
		lock:           &sync.Mutex{},
		stopCh:         make(chan struct{}),
		tickerInterval: time.Second * 10,
		clock:          clock.NewDefaultClock(),
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

func (s *service) Start() {
	go func() {
		ticker := time.NewTicker(s.tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				taskes := s.popTaskes()
				log.Debugf("fetched %d tasks", len(taskes))
				for _, task := range taskes {
					go task()
				}
			}
		}
	}()
}

func (s *service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *service) ScheduleRecurring(task func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.recurring = append(s.recurring, task)
	return nil
}

func (s *service) ScheduleTaskOnce(at time.Time, task func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.taskes = append(s.taskes, timedTask{at, task})
	return nil
}

func (s *service) popTaskes() []func() {
	s.lock.Lock()
	defer s.lock.Unlock()

	taskes := make([]func(), 0)

	now := s.clock.Now()
	pending := make([]timedTask, 0, len(s.taskes))
	for _, t := range s.taskes {
		if t.at.After(now) {
			pending = append(pending, t)
			continue
		}
		taskes = append(taskes, t.task)
	}
	s.taskes = pending

	tip, err := s.fetchTipHeight()
	if err != nil {
		log.WithError(err).Warn("failed to fetch tip height")
		return taskes
	}
	if tip > s.lastTip {
		s.lastTip = tip
		taskes = append(taskes, s.recurring...)
	}

	return taskes
}

func (s *service) fetchTipHeight() (int64, error) {
	resp, err := s.httpClient.Get(s.tipURL)
	if err != nil {
		return 0, err
	}

	// nolint:all
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var tip int64
	if _, err := fmt.Fscanf(resp.Body, "%d", &tip); err != nil {
		return 0, err
	}

	log.Debugf("fetching tip height from %s, got %d", s.tipURL, tip)

	return tip, nil
}
