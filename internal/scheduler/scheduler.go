// Package scheduler runs the fixed-interval capture cycles of each channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"emotion-monitor/internal/clock"
	"emotion-monitor/internal/domain"
)

// ErrUnknownChannel is returned for a channel without a configured lane.
var ErrUnknownChannel = errors.New("unknown channel")

// Sampler produces one artifact per cycle. A nil artifact with a nil error
// means nothing was ready this cycle.
type Sampler interface {
	Capture(ctx context.Context) (*domain.Artifact, error)
}

// Submitter classifies artifacts and accounts failures per channel.
type Submitter interface {
	Submit(ctx context.Context, artifact domain.Artifact) (domain.ClassificationResult, error)
	RecordError(ch domain.Channel, err error)
}

// Gate decides on every tick whether a cycle may start.
type Gate func(ch domain.Channel) bool

// Hooks receive cycle outcomes. Any hook may be nil.
type Hooks struct {
	OnResult func(result domain.ClassificationResult)
	OnError  func(ch domain.Channel, err error)
	OnStatus func(ch domain.Channel, status domain.ChannelStatus)
}

// LaneConfig binds a channel to its sampler and tick interval.
type LaneConfig struct {
	Channel  domain.Channel
	Interval time.Duration
	Sampler  Sampler
}

// Config wires a Scheduler.
type Config struct {
	Clock     clock.Clock
	Submitter Submitter
	Gate      Gate
	Hooks     Hooks
	Logger    *slog.Logger
	Lanes     []LaneConfig
}

// Stats is a snapshot of one lane.
type Stats struct {
	Channel   domain.Channel       `json:"channel"`
	Status    domain.ChannelStatus `json:"status"`
	Active    bool                 `json:"active"`
	Completed int                  `json:"completed"`
	Dropped   int                  `json:"dropped"`
	Failed    int                  `json:"failed"`
	Skipped   int                  `json:"skipped"`
}

type laneRun struct {
	ticker clock.Ticker
	stop   chan struct{}
}

type lane struct {
	cfg    LaneConfig
	status domain.ChannelStatus
	run    *laneRun
	stats  Stats
}

// Scheduler owns one lane per channel. Each lane has at most one cycle in
// flight; ticks that arrive while busy are dropped, never queued.
type Scheduler struct {
	clock     clock.Clock
	submitter Submitter
	gate      Gate
	hooks     Hooks
	logger    *slog.Logger

	mu    sync.Mutex
	lanes map[domain.Channel]*lane

	loops  sync.WaitGroup
	cycles sync.WaitGroup
}

// New creates a scheduler with every lane idle.
func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gate == nil {
		cfg.Gate = func(domain.Channel) bool { return true }
	}

	lanes := make(map[domain.Channel]*lane, len(cfg.Lanes))
	for _, lc := range cfg.Lanes {
		lanes[lc.Channel] = &lane{
			cfg:    lc,
			status: domain.ChannelStatusIdle,
			stats:  Stats{Channel: lc.Channel},
		}
	}

	return &Scheduler{
		clock:     cfg.Clock,
		submitter: cfg.Submitter,
		gate:      cfg.Gate,
		hooks:     cfg.Hooks,
		logger:    cfg.Logger,
		lanes:     lanes,
	}
}

// Activate starts the lane timer. Activating an active lane is a no-op.
func (s *Scheduler) Activate(ctx context.Context, ch domain.Channel) error {
	s.mu.Lock()
	l, ok := s.lanes[ch]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	if l.run != nil {
		s.mu.Unlock()
		return nil
	}

	run := &laneRun{ticker: s.clock.NewTicker(l.cfg.Interval), stop: make(chan struct{})}
	l.run = run
	var changed bool
	if l.status == domain.ChannelStatusIdle {
		changed = s.transitionLocked(l, domain.ChannelStatusScheduled) == nil
	}
	s.loops.Add(1)
	s.mu.Unlock()

	if changed {
		s.notifyStatus(ch, domain.ChannelStatusScheduled)
	}
	s.logger.Debug("lane activated", "channel", ch, "interval", l.cfg.Interval)

	go s.loop(ctx, ch, run)
	return nil
}

// Deactivate clears the lane timer. A cycle already in flight finishes and
// then leaves the lane idle.
func (s *Scheduler) Deactivate(ch domain.Channel) {
	s.mu.Lock()
	l, ok := s.lanes[ch]
	if !ok {
		s.mu.Unlock()
		return
	}
	changed := s.stopRunLocked(l, l.run)
	s.mu.Unlock()

	if changed {
		s.notifyStatus(ch, domain.ChannelStatusIdle)
	}
}

// DeactivateAll clears every lane timer and waits for tick loops to exit.
func (s *Scheduler) DeactivateAll() {
	for _, ch := range domain.Channels {
		s.Deactivate(ch)
	}
	s.loops.Wait()
}

// Active reports whether the lane timer is running.
func (s *Scheduler) Active(ch domain.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[ch]
	return ok && l.run != nil
}

// Tick evaluates one timer tick and reports whether a cycle started.
func (s *Scheduler) Tick(ctx context.Context, ch domain.Channel) bool {
	allowed := s.gate(ch)

	s.mu.Lock()
	l, ok := s.lanes[ch]
	if !ok || l.run == nil {
		s.mu.Unlock()
		return false
	}
	if !allowed {
		l.stats.Skipped++
		s.mu.Unlock()
		return false
	}
	if isBusy(l.status) {
		l.stats.Dropped++
		s.mu.Unlock()
		s.logger.Debug("tick dropped, cycle in flight", "channel", ch)
		return false
	}
	if err := s.transitionLocked(l, domain.ChannelStatusCapturing); err != nil {
		s.mu.Unlock()
		s.logger.Warn("cycle not started", "channel", ch, "error", err)
		return false
	}
	s.cycles.Add(1)
	s.mu.Unlock()

	s.notifyStatus(ch, domain.ChannelStatusCapturing)
	go s.runCycle(ctx, l)
	return true
}

// Wait blocks until every in-flight cycle has finished.
func (s *Scheduler) Wait() {
	s.cycles.Wait()
}

// Stats returns a snapshot of the lane counters.
func (s *Scheduler) Stats(ch domain.Channel) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[ch]
	if !ok {
		return Stats{Channel: ch, Status: domain.ChannelStatusIdle}
	}
	stats := l.stats
	stats.Status = l.status
	stats.Active = l.run != nil
	return stats
}

func (s *Scheduler) loop(ctx context.Context, ch domain.Channel, run *laneRun) {
	defer s.loops.Done()
	for {
		select {
		case <-run.stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			changed := s.stopRunLocked(s.lanes[ch], run)
			s.mu.Unlock()
			if changed {
				s.notifyStatus(ch, domain.ChannelStatusIdle)
			}
			return
		case <-run.ticker.C():
			s.Tick(ctx, ch)
		}
	}
}

// stopRunLocked stops run if it is still the lane's current activation and
// reports whether the lane went idle.
func (s *Scheduler) stopRunLocked(l *lane, run *laneRun) bool {
	if run == nil || l.run != run {
		return false
	}
	run.ticker.Stop()
	close(run.stop)
	l.run = nil
	if l.status == domain.ChannelStatusScheduled {
		return s.transitionLocked(l, domain.ChannelStatusIdle) == nil
	}
	return false
}

func (s *Scheduler) runCycle(ctx context.Context, l *lane) {
	defer s.cycles.Done()
	ch := l.cfg.Channel

	artifact, err := l.cfg.Sampler.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Teardown interrupted the capture.
			s.finish(l, false, false)
			return
		}
		s.submitter.RecordError(ch, err)
		s.finish(l, false, true)
		s.logger.Warn("capture failed", "channel", ch, "error", err)
		if s.hooks.OnError != nil {
			s.hooks.OnError(ch, err)
		}
		return
	}
	if artifact == nil {
		s.finish(l, false, false)
		return
	}

	s.mu.Lock()
	err = s.transitionLocked(l, domain.ChannelStatusSubmitting)
	s.mu.Unlock()
	if err == nil {
		s.notifyStatus(ch, domain.ChannelStatusSubmitting)
	}

	result, err := s.submitter.Submit(ctx, *artifact)
	if err != nil {
		s.finish(l, false, true)
		s.logger.Warn("classification failed", "channel", ch, "artifact", artifact.ID, "error", err)
		if s.hooks.OnError != nil {
			s.hooks.OnError(ch, err)
		}
		return
	}

	s.finish(l, true, false)
	if s.hooks.OnResult != nil {
		s.hooks.OnResult(result)
	}
}

// finish returns the lane to scheduled, or idle when it was deactivated
// while the cycle ran.
func (s *Scheduler) finish(l *lane, completed, failed bool) {
	s.mu.Lock()
	if completed {
		l.stats.Completed++
	}
	if failed {
		l.stats.Failed++
	}
	next := domain.ChannelStatusIdle
	if l.run != nil {
		next = domain.ChannelStatusScheduled
	}
	err := s.transitionLocked(l, next)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("lane transition", "channel", l.cfg.Channel, "error", err)
		return
	}
	s.notifyStatus(l.cfg.Channel, next)
}

func (s *Scheduler) transitionLocked(l *lane, to domain.ChannelStatus) error {
	if l.status == to {
		return nil
	}
	if !isValidTransition(l.status, to) {
		return fmt.Errorf("invalid lane transition: %s -> %s", l.status, to)
	}
	l.status = to
	return nil
}

func (s *Scheduler) notifyStatus(ch domain.Channel, status domain.ChannelStatus) {
	if s.hooks.OnStatus != nil {
		s.hooks.OnStatus(ch, status)
	}
}
