package render

import (
	"fmt"
	"sync"

	"labstream/internal/series"
)

// ProgressView is the state of a depletion indicator.
type ProgressView struct {
	Start      float64 `json:"start"`
	Latest     float64 `json:"latest"`
	Percentage string  `json:"percentage"`
}

// Progress shows how far a depleting quantity has fallen from its first
// observed value.
type Progress struct {
	target Target
	sink   Sink

	mu       sync.Mutex
	label    string
	started  bool
	start    float64
	latest   float64
	disposed bool
}

// NewProgress creates a progress-indicator renderer.
func NewProgress(target Target, sink Sink) *Progress {
	if sink == nil {
		sink = nopSink{}
	}
	return &Progress{target: target, sink: sink}
}

func (p *Progress) OnData(samples []series.Sample) {
	p.mu.Lock()
	if p.disposed || len(samples) == 0 {
		p.mu.Unlock()
		return
	}
	if !p.started {
		p.start = samples[0].Value
		p.started = true
	}
	p.latest = samples[len(samples)-1].Value
	view := p.viewLocked()
	p.mu.Unlock()

	p.sink.Publish(view)
}

// Percentage returns the share already consumed, with two decimals.
func (p *Progress) Percentage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return percentDone(p.start, p.latest)
}

func percentDone(start, latest float64) string {
	if start == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", (start-latest)/start*100)
}

func (p *Progress) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()

	p.sink.Retract(p.target.ID())
}

func (p *Progress) SetLabel(label string) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.label = label
	view := p.viewLocked()
	p.mu.Unlock()

	p.sink.Publish(view)
}

func (p *Progress) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

func (p *Progress) viewLocked() View {
	v := p.target.view(KindProgress, p.label)
	v.Progress = &ProgressView{
		Start:      p.start,
		Latest:     p.latest,
		Percentage: percentDone(p.start, p.latest),
	}
	return v
}
