// Package presenter keeps the latest classification per channel in display form.
package presenter

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"emotion-monitor/internal/clock"
	"emotion-monitor/internal/domain"
)

// AnimationDuration is how long the confidence bar takes to reach a new value.
const AnimationDuration = 800 * time.Millisecond

// Probability is one distribution row.
type Probability struct {
	Label       string  `json:"label"`
	DisplayName string  `json:"displayName"`
	Color       string  `json:"color"`
	Value       float64 `json:"value"`
}

// View is the renderable state of one channel.
type View struct {
	Channel      domain.Channel `json:"channel"`
	HasResult    bool           `json:"hasResult"`
	Label        string         `json:"label,omitempty"`
	DisplayName  string         `json:"displayName,omitempty"`
	Color        string         `json:"color,omitempty"`
	Confidence   float64        `json:"confidence"`
	Target       float64        `json:"target"`
	Animating    bool           `json:"animating"`
	Distribution []Probability  `json:"distribution,omitempty"`
	ReceivedAt   time.Time      `json:"receivedAt,omitempty"`
}

type slot struct {
	result domain.ClassificationResult
	bar    Bar
}

// Presenter holds only the latest result of each channel.
type Presenter struct {
	clock    clock.Clock
	duration time.Duration

	mu    sync.RWMutex
	slots map[domain.Channel]*slot
}

// New creates an empty presenter.
func New(clk clock.Clock) *Presenter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Presenter{
		clock:    clk,
		duration: AnimationDuration,
		slots:    make(map[domain.Channel]*slot),
	}
}

// Present replaces the channel's result and retargets its confidence bar.
func (p *Presenter) Present(result domain.ClassificationResult) {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[result.Channel]
	if !ok {
		s = &slot{}
		p.slots[result.Channel] = s
	}
	s.result = result
	s.bar = s.bar.Retarget(result.Confidence, now, p.duration)
}

// View returns the channel state at the current instant.
func (p *Presenter) View(ch domain.Channel) View {
	now := p.clock.Now()

	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.slots[ch]
	if !ok {
		return View{Channel: ch}
	}

	info := Describe(s.result.Label)
	value := s.bar.Value(now)
	return View{
		Channel:      ch,
		HasResult:    true,
		Label:        s.result.Label,
		DisplayName:  info.DisplayName,
		Color:        info.Color,
		Confidence:   value,
		Target:       s.bar.Target(),
		Animating:    value != s.bar.Target(),
		Distribution: orderDistribution(ch, s.result.Distribution),
		ReceivedAt:   s.result.ReceivedAt,
	}
}

// Views returns every channel in display order.
func (p *Presenter) Views() []View {
	return lo.Map(domain.Channels, func(ch domain.Channel, _ int) View {
		return p.View(ch)
	})
}

// Clear drops all results.
func (p *Presenter) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = make(map[domain.Channel]*slot)
}

// orderDistribution lists the channel's known labels first in their fixed
// order, then any other labels alphabetically.
func orderDistribution(ch domain.Channel, dist map[string]float64) []Probability {
	if len(dist) == 0 {
		return nil
	}

	order := labelOrder[ch]
	known := lo.Filter(order, func(label string, _ int) bool {
		_, ok := dist[label]
		return ok
	})
	rest := lo.Without(lo.Keys(dist), order...)
	slices.Sort(rest)

	return lo.Map(append(known, rest...), func(label string, _ int) Probability {
		info := Describe(label)
		return Probability{
			Label:       label,
			DisplayName: info.DisplayName,
			Color:       info.Color,
			Value:       dist[label],
		}
	})
}
