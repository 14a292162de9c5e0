package render

import (
	"fmt"
	"sync"
	"time"

	"labstream/internal/series"
)

// LineWindow bounds the number of plotted points. It is independent of the
// buffer's retention cap.
const LineWindow = 600

// LinePoint is one plotted point keyed by its Unix second.
type LinePoint struct {
	Second  int64   `json:"second"`
	Elapsed string  `json:"time"`
	Value   float64 `json:"value"`
}

// Line plots an observable as a line series.
type Line struct {
	target Target
	sink   Sink

	mu       sync.Mutex
	label    string
	first    time.Time
	points   []LinePoint
	disposed bool
}

// NewLine creates a line-series renderer.
func NewLine(target Target, sink Sink) *Line {
	if sink == nil {
		sink = nopSink{}
	}
	return &Line{target: target, sink: sink}
}

func (l *Line) OnData(samples []series.Sample) {
	l.mu.Lock()
	if l.disposed || len(samples) == 0 {
		l.mu.Unlock()
		return
	}
	if l.first.IsZero() {
		l.first = samples[0].Time
	}
	for _, s := range samples {
		point := LinePoint{
			Second:  s.Second(),
			Elapsed: elapsed(s.Time.Sub(l.first)),
			Value:   s.Value,
		}
		if idx := l.indexOf(point.Second); idx >= 0 {
			l.points[idx].Value = point.Value
		} else {
			l.points = append(l.points, point)
		}
		if len(l.points) > LineWindow {
			l.points = l.points[1:]
		}
	}
	view := l.viewLocked()
	l.mu.Unlock()

	l.sink.Publish(view)
}

// indexOf scans from the back since updates land on recent points.
func (l *Line) indexOf(second int64) int {
	for i := len(l.points) - 1; i >= 0; i-- {
		if l.points[i].Second == second {
			return i
		}
		if l.points[i].Second < second {
			break
		}
	}
	return -1
}

func (l *Line) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	l.points = nil
	l.mu.Unlock()

	l.sink.Retract(l.target.ID())
}

func (l *Line) SetLabel(label string) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.label = label
	view := l.viewLocked()
	l.mu.Unlock()

	l.sink.Publish(view)
}

func (l *Line) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewLocked()
}

func (l *Line) viewLocked() View {
	v := l.target.view(KindLine, l.label)
	v.Line = make([]LinePoint, len(l.points))
	copy(v.Line, l.points)
	return v
}

func elapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%d:%d", h, m, s)
}
