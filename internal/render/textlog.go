package render

import (
	"sync"
	"time"

	"labstream/internal/series"
)

// LogRow is one line of a text log.
type LogRow struct {
	Time  string  `json:"time"`
	Value float64 `json:"value"`
}

// LogView is the state of a text log: every row plus the latest one.
type LogView struct {
	Recent *LogRow  `json:"recent,omitempty"`
	Rows   []LogRow `json:"rows"`
}

// TextLog keeps a chronological log of values, used for positional data.
// Rows are never trimmed here; the backing buffer bounds the input rate.
type TextLog struct {
	target Target
	sink   Sink

	mu       sync.Mutex
	label    string
	rows     []LogRow
	disposed bool
}

// NewTextLog creates a text-log renderer.
func NewTextLog(target Target, sink Sink) *TextLog {
	if sink == nil {
		sink = nopSink{}
	}
	return &TextLog{target: target, sink: sink}
}

func (t *TextLog) OnData(samples []series.Sample) {
	t.mu.Lock()
	if t.disposed || len(samples) == 0 {
		t.mu.Unlock()
		return
	}
	for _, s := range samples {
		t.rows = append(t.rows, LogRow{Time: clock(s.Time), Value: s.Value})
	}
	view := t.viewLocked()
	t.mu.Unlock()

	t.sink.Publish(view)
}

func (t *TextLog) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	t.rows = nil
	t.mu.Unlock()

	t.sink.Retract(t.target.ID())
}

func (t *TextLog) SetLabel(label string) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.label = label
	view := t.viewLocked()
	t.mu.Unlock()

	t.sink.Publish(view)
}

func (t *TextLog) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *TextLog) viewLocked() View {
	v := t.target.view(KindTextLog, t.label)
	logView := &LogView{Rows: make([]LogRow, len(t.rows))}
	copy(logView.Rows, t.rows)
	if n := len(t.rows); n > 0 {
		recent := t.rows[n-1]
		logView.Recent = &recent
	}
	v.Log = logView
	return v
}

func clock(ts time.Time) string {
	return ts.Local().Format("15:04:05")
}
