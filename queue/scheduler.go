package queue

import (
	"context"
	"time"

	"github.com/desertbit/timer"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultPromotionInterval = 30 * time.Second
	DefaultNotifyTimeout     = 10 * time.Second
	DefaultNotifyWorkers     = 4
)

// Promotion is emitted for every member the scheduler moves into a roster.
type Promotion struct {
	Room     Room
	Member   Member
	Position int
}

// Notifier delivers promotion notices. Errors are logged by the scheduler
// and never undo the promotion.
type Notifier interface {
	NotifyPromotion(ctx context.Context, p Promotion) error
}

type SchedulerOption func(*Scheduler)

func WithNotifyTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func WithNotifyWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

type Scheduler struct {
	registry      *Registry
	notifier      Notifier
	interval      time.Duration
	notifyTimeout time.Duration
	workers       int
}

func NewScheduler(registry *Registry, notifier Notifier, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = DefaultPromotionInterval
	}
	s := &Scheduler{
		registry:      registry,
		notifier:      notifier,
		interval:      interval,
		notifyTimeout: DefaultNotifyTimeout,
		workers:       DefaultNotifyWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks every interval until ctx is done. The timer is only re-armed
// after a tick has finished, notifications included, so ticks never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	t := timer.NewTimer(s.interval)
	defer t.Stop()

	logger.Infof("promotion scheduler started (interval %s)", s.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("promotion scheduler stopped")
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
			t.Reset(s.interval)
		}
	}
}

// Tick promotes waitlisted members in every room and waits until all
// resulting notifications have been attempted.
func (s *Scheduler) Tick(ctx context.Context) []Promotion {
	var promotions []Promotion

	p := pool.New().WithMaxGoroutines(s.workers)
	for _, st := range s.registry.Rooms() {
		room := st.Room()
		for _, placed := range st.PromoteEligible() {
			pr := Promotion{Room: room, Member: placed.Member, Position: placed.Position}
			promotions = append(promotions, pr)
			logger.Infof("promoted %s (%s) to %s roster position %d", pr.Member.DisplayName, pr.Member.ID, room.Name, pr.Position)

			if s.notifier == nil {
				continue
			}
			p.Go(func() {
				s.notify(ctx, pr)
			})
		}
	}
	p.Wait()

	return promotions
}

func (s *Scheduler) notify(ctx context.Context, pr Promotion) {
	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	if err := s.notifier.NotifyPromotion(ctx, pr); err != nil {
		logger.Errorf("could not notify %s (%s) about promotion in %s: %s", pr.Member.DisplayName, pr.Member.ID, pr.Room.Name, err)
		s.registry.metrics.notifyFailures.WithLabelValues(pr.Room.Name).Inc()
	}
}
