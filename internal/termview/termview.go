// Package termview draws renderer views for a terminal: a sparkline per
// line series, a bar per progress indicator and a short table per text log.
package termview

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"labstream/internal/render"
	"labstream/internal/session"
	"labstream/internal/state"
)

// DefaultWidth is used when the caller passes a non-positive width.
const DefaultWidth = 72

// logRows is how many text-log rows are shown per widget.
const logRows = 5

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Theme holds the colors of the terminal surface.
type Theme struct {
	Header  lipgloss.Color
	Faint   lipgloss.Color
	Accent  lipgloss.Color
	Bound   lipgloss.Color
	Halted  lipgloss.Color
	Unbound lipgloss.Color
}

// DefaultTheme suits dark terminals.
var DefaultTheme = Theme{
	Header:  lipgloss.Color("#89b4fa"),
	Faint:   lipgloss.Color("#6c7086"),
	Accent:  lipgloss.Color("#a6e3a1"),
	Bound:   lipgloss.Color("#a6e3a1"),
	Halted:  lipgloss.Color("#f38ba8"),
	Unbound: lipgloss.Color("#f9e2af"),
}

// Renderer formats session snapshots.
type Renderer struct {
	theme Theme
	width int
}

// New creates a renderer for the given terminal width.
func New(theme Theme, width int) Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	return Renderer{theme: theme, width: width}
}

// Render draws the whole snapshot.
func (r Renderer) Render(snap session.Snapshot) string {
	blocks := []string{r.header(snap)}
	for _, view := range snap.Views {
		blocks = append(blocks, r.View(view))
	}
	if len(snap.Views) == 0 {
		blocks = append(blocks, lipgloss.NewStyle().Foreground(r.theme.Faint).Render("  no observables"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func (r Renderer) header(snap session.Snapshot) string {
	color := r.theme.Unbound
	switch snap.Status {
	case state.StatusBound:
		color = r.theme.Bound
	case state.StatusHalted:
		color = r.theme.Halted
	}
	status := lipgloss.NewStyle().Foreground(color).Bold(true).Render(snap.Status)
	title := "experiment " + snap.Experiment
	if snap.Experiment == "" {
		title = "no experiment"
	}
	stats := lipgloss.NewStyle().Foreground(r.theme.Faint).Render(fmt.Sprintf(
		"accepted %d  rejected %d  switches %d  dropped %d",
		snap.Stats.Accepted, snap.Stats.Rejected, snap.Stats.Switches, snap.Stats.Dropped))
	line := lipgloss.JoinHorizontal(lipgloss.Top,
		status, "  ",
		lipgloss.NewStyle().Foreground(r.theme.Header).Bold(true).Render(title))
	return lipgloss.JoinVertical(lipgloss.Left, line, stats, "")
}

// View draws one widget.
func (r Renderer) View(view render.View) string {
	name := view.Device + " / " + view.Observable
	if view.Label != "" {
		name += "  " + lipgloss.NewStyle().Foreground(r.theme.Faint).Render(view.Label)
	}
	title := lipgloss.NewStyle().Foreground(r.theme.Header).Bold(true).
		MaxWidth(r.width).Render(name)

	var body string
	switch view.Kind {
	case render.KindProgress:
		body = r.progress(view.Progress)
	case render.KindTextLog:
		body = r.textLog(view.Log)
	default:
		body = r.line(view.Line)
	}
	return lipgloss.NewStyle().PaddingLeft(2).PaddingBottom(1).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func (r Renderer) line(points []render.LinePoint) string {
	if len(points) == 0 {
		return lipgloss.NewStyle().Foreground(r.theme.Faint).Render("(no data)")
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	last := points[len(points)-1]
	summary := fmt.Sprintf(" %s @ %s", formatValue(last.Value), last.Elapsed)
	sparkWidth := r.width - 4 - lipgloss.Width(summary)
	spark := lipgloss.NewStyle().Foreground(r.theme.Accent).Render(Sparkline(values, sparkWidth))
	return spark + summary
}

func (r Renderer) progress(p *render.ProgressView) string {
	if p == nil {
		return lipgloss.NewStyle().Foreground(r.theme.Faint).Render("(no data)")
	}
	suffix := fmt.Sprintf(" %s%%  (%s → %s)", p.Percentage, formatValue(p.Start), formatValue(p.Latest))
	barWidth := r.width - 4 - lipgloss.Width(suffix)
	pct, _ := strconv.ParseFloat(p.Percentage, 64)
	return lipgloss.NewStyle().Foreground(r.theme.Accent).Render(Bar(pct, barWidth)) + suffix
}

func (r Renderer) textLog(l *render.LogView) string {
	if l == nil || len(l.Rows) == 0 {
		return lipgloss.NewStyle().Foreground(r.theme.Faint).Render("(no data)")
	}
	rows := l.Rows
	if len(rows) > logRows {
		rows = rows[len(rows)-logRows:]
	}
	timeStyle := lipgloss.NewStyle().Foreground(r.theme.Faint).Width(10)
	lines := make([]string, 0, len(rows)+1)
	if hidden := len(l.Rows) - len(rows); hidden > 0 {
		lines = append(lines, timeStyle.Render("…")+fmt.Sprintf("%d earlier rows", hidden))
	}
	for _, row := range rows {
		lines = append(lines, timeStyle.Render(row.Time)+formatValue(row.Value))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Sparkline scales the most recent width values onto block characters.
func Sparkline(values []float64, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	var b strings.Builder
	top := len(sparkBlocks) - 1
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int(math.Round((v - lo) / (hi - lo) * float64(top)))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

// Bar draws a width-wide bar filled to pct percent, clamped to [0, 100].
func Bar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	pct = math.Max(0, math.Min(100, pct))
	filled := int(math.Round(pct / 100 * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
