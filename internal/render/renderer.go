package render

import (
	"fmt"

	"labstream/internal/series"
)

// Renderer turns buffer deltas into widget state for one observable.
//
// A renderer is driven only by its owning registry entry. SetLabel may be
// called from a label fetch goroutine; every other method runs on the
// routing path.
type Renderer interface {
	// OnData receives the samples that were appended to or amended in the
	// backing buffer, oldest first.
	OnData(samples []series.Sample)
	// Dispose releases the widget. Calling it more than once is harmless.
	Dispose()
	// SetLabel records the descriptive parameter label for display.
	SetLabel(label string)
	// View returns a snapshot of the current widget state.
	View() View
}

// Sink is the rendering surface. Implementations must not block.
type Sink interface {
	Publish(view View)
	Retract(id string)
}

type nopSink struct{}

func (nopSink) Publish(View)   {}
func (nopSink) Retract(string) {}

// View is the serialisable state of a widget.
type View struct {
	ID         string        `json:"id"`
	Device     string        `json:"device"`
	Observable string        `json:"observable"`
	Kind       Kind          `json:"kind"`
	Label      string        `json:"label,omitempty"`
	Line       []LinePoint   `json:"line,omitempty"`
	Progress   *ProgressView `json:"progress,omitempty"`
	Log        *LogView      `json:"log,omitempty"`
}

// Target identifies the widget a renderer draws.
type Target struct {
	Device     string
	Observable string
}

// ID returns the widget identifier.
func (t Target) ID() string {
	return fmt.Sprintf("%s_%s", t.Device, t.Observable)
}

func (t Target) view(kind Kind, label string) View {
	return View{
		ID:         t.ID(),
		Device:     t.Device,
		Observable: t.Observable,
		Kind:       kind,
		Label:      label,
	}
}
