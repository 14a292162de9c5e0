package render

import (
	"fmt"
	"strings"
	"sync"
)

// Kind names a renderer variant.
type Kind string

const (
	KindLine     Kind = "line"
	KindProgress Kind = "progress"
	KindTextLog  Kind = "textlog"
)

// ParseKind validates a renderer kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindLine:
		return KindLine, nil
	case KindProgress:
		return KindProgress, nil
	case KindTextLog:
		return KindTextLog, nil
	}
	return "", fmt.Errorf("unknown renderer kind %q", s)
}

// Dispatch maps observable names to renderer kinds. Observables without an
// entry get a line-series renderer.
type Dispatch struct {
	mu    sync.RWMutex
	kinds map[string]Kind
	sink  Sink
}

// NewDispatch returns the default table: depleting quantities get a progress
// indicator, positional state gets a text log.
func NewDispatch(sink Sink) *Dispatch {
	if sink == nil {
		sink = nopSink{}
	}
	return &Dispatch{
		kinds: map[string]Kind{
			"remaining_time":   KindProgress,
			"amount of charge": KindProgress,
			"position":         KindTextLog,
		},
		sink: sink,
	}
}

// Register binds an observable name to a kind, replacing any earlier entry.
func (d *Dispatch) Register(observable string, kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kinds[observable] = kind
}

// KindFor returns the renderer kind selected for observable.
func (d *Dispatch) KindFor(observable string) Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if kind, ok := d.kinds[observable]; ok {
		return kind
	}
	return KindLine
}

// New builds the renderer selected for target.Observable.
func (d *Dispatch) New(target Target) Renderer {
	switch d.KindFor(target.Observable) {
	case KindProgress:
		return NewProgress(target, d.sink)
	case KindTextLog:
		return NewTextLog(target, d.sink)
	default:
		return NewLine(target, d.sink)
	}
}
