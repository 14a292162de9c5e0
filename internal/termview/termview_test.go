package termview

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"labstream/internal/render"
	"labstream/internal/session"
	"labstream/internal/state"
)

func TestSparkline(t *testing.T) {
	assert.Equal(t, "▁▅█", Sparkline([]float64{0, 5, 10}, 10))
	assert.Equal(t, "▁█", Sparkline([]float64{0, 5, 10}, 2), "keeps the most recent values")
	assert.Equal(t, "▁▁▁", Sparkline([]float64{3, 3, 3}, 10))
	assert.Empty(t, Sparkline(nil, 10))
	assert.Empty(t, Sparkline([]float64{1}, 0))
}

func TestBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", Bar(50, 10))
	assert.Equal(t, "░░░░", Bar(-20, 4))
	assert.Equal(t, "████", Bar(180, 4))
	assert.Empty(t, Bar(50, 0))
}

func TestRenderSnapshot(t *testing.T) {
	snap := session.Snapshot{
		Status:     state.StatusBound,
		Experiment: "A",
		Views: []render.View{
			{ID: "d_temp", Device: "d", Observable: "temp", Kind: render.KindLine, Label: "Temperature",
				Line: []render.LinePoint{{Second: 1, Elapsed: "0:0:0", Value: 1}, {Second: 2, Elapsed: "0:0:1", Value: 2.5}}},
			{ID: "d_amount of charge", Device: "d", Observable: "amount of charge", Kind: render.KindProgress,
				Progress: &render.ProgressView{Start: 100, Latest: 25, Percentage: "75.00"}},
			{ID: "d_position", Device: "d", Observable: "position", Kind: render.KindTextLog,
				Log: &render.LogView{Rows: []render.LogRow{{Time: "10:00:00", Value: 7}}}},
		},
	}
	out := New(DefaultTheme, 60).Render(snap)

	assert.Contains(t, out, "experiment A")
	assert.Contains(t, out, "Temperature")
	assert.Contains(t, out, "2.5 @ 0:0:1")
	assert.Contains(t, out, "75.00%")
	assert.Contains(t, out, "10:00:00")
}

func TestRenderEmptySnapshot(t *testing.T) {
	out := New(DefaultTheme, 0).Render(session.Snapshot{Status: state.StatusUnbound})
	assert.Contains(t, out, "no experiment")
	assert.Contains(t, out, "no observables")
}
