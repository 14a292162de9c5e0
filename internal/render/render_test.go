package render

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labstream/internal/series"
)

type recordingSink struct {
	mu        sync.Mutex
	published []View
	retracted []string
}

func (s *recordingSink) Publish(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, v)
}

func (s *recordingSink) Retract(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retracted = append(s.retracted, id)
}

func sample(sec int64, v float64) series.Sample {
	return series.Sample{Time: time.Unix(sec, 0), Value: v}
}

func TestDispatchSelectsByObservable(t *testing.T) {
	d := NewDispatch(nil)

	assert.IsType(t, &Progress{}, d.New(Target{"dev", "remaining_time"}))
	assert.IsType(t, &Progress{}, d.New(Target{"dev", "amount of charge"}))
	assert.IsType(t, &TextLog{}, d.New(Target{"dev", "position"}))
	assert.IsType(t, &Line{}, d.New(Target{"dev", "temperature"}))

	d.Register("valve", KindTextLog)
	assert.Equal(t, KindTextLog, d.KindFor("valve"))
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind(" Progress ")
	require.NoError(t, err)
	assert.Equal(t, KindProgress, kind)

	_, err = ParseKind("gauge")
	assert.Error(t, err)
}

func TestProgressPercentage(t *testing.T) {
	p := NewProgress(Target{"dev", "remaining_time"}, nil)
	p.OnData([]series.Sample{sample(1, 100)})
	p.OnData([]series.Sample{sample(2, 60), sample(3, 25)})

	assert.Equal(t, "75.00", p.Percentage())
	view := p.View()
	require.NotNil(t, view.Progress)
	assert.Equal(t, 100.0, view.Progress.Start)
	assert.Equal(t, 25.0, view.Progress.Latest)
}

func TestProgressZeroStart(t *testing.T) {
	p := NewProgress(Target{"dev", "remaining_time"}, nil)
	p.OnData([]series.Sample{sample(1, 0)})
	assert.Equal(t, "0.00", p.Percentage())
}

func TestLineUpdatesSameSecondInPlace(t *testing.T) {
	l := NewLine(Target{"dev", "temp"}, nil)
	l.OnData([]series.Sample{sample(100, 1), sample(101, 2)})
	l.OnData([]series.Sample{sample(101, 5), sample(3702, 6)})

	points := l.View().Line
	require.Len(t, points, 3)
	assert.Equal(t, 5.0, points[1].Value)
	assert.Equal(t, "0:0:1", points[1].Elapsed)
	assert.Equal(t, "1:0:2", points[2].Elapsed)
}

func TestLineTruncatesToWindow(t *testing.T) {
	l := NewLine(Target{"dev", "temp"}, nil)
	batch := make([]series.Sample, LineWindow+50)
	for i := range batch {
		batch[i] = sample(int64(i), float64(i))
	}
	l.OnData(batch)

	points := l.View().Line
	require.Len(t, points, LineWindow)
	assert.Equal(t, int64(50), points[0].Second)
	assert.Equal(t, int64(LineWindow+49), points[len(points)-1].Second)
}

func TestTextLogAppendsRows(t *testing.T) {
	tl := NewTextLog(Target{"dev", "position"}, nil)
	tl.OnData([]series.Sample{sample(100, 1)})
	tl.OnData([]series.Sample{sample(101, 2), sample(102, 3)})

	view := tl.View()
	require.NotNil(t, view.Log)
	assert.Len(t, view.Log.Rows, 3)
	require.NotNil(t, view.Log.Recent)
	assert.Equal(t, 3.0, view.Log.Recent.Value)
	assert.Equal(t, time.Unix(102, 0).Local().Format("15:04:05"), view.Log.Recent.Time)
}

func TestDisposeIsIdempotentAndSilencesRenderer(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatch(sink)

	for _, observable := range []string{"temp", "remaining_time", "position"} {
		r := d.New(Target{"dev", observable})
		r.OnData([]series.Sample{sample(1, 10)})
		r.Dispose()
		r.Dispose()
		r.OnData([]series.Sample{sample(2, 5)})
		r.SetLabel("late")
		assert.Empty(t, r.View().Label, observable)
	}

	assert.Equal(t, []string{"dev_temp", "dev_remaining_time", "dev_position"}, sink.retracted)
	assert.Len(t, sink.published, 3)
}

func TestSetLabelPublishes(t *testing.T) {
	sink := &recordingSink{}
	l := NewLine(Target{"dev", "temp"}, sink)

	l.SetLabel("21.5 °C")

	require.Len(t, sink.published, 1)
	assert.Equal(t, "21.5 °C", sink.published[0].Label)
	assert.Equal(t, "dev_temp", sink.published[0].ID)
}
