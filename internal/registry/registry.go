// Package registry binds each (device, observable) pair of the live
// experiment to its history buffer and renderer.
package registry

import (
	"sync"

	"labstream/internal/logger"
	"labstream/internal/render"
	"labstream/internal/series"
)

// LabelRequester fetches the descriptive label of an observable without
// blocking the caller. set is invoked at most once, from any goroutine.
type LabelRequester interface {
	Request(observable string, set func(label string))
}

// Key identifies a registry entry.
type Key struct {
	Device     string
	Observable string
}

// Entry pairs the buffer and renderer of one observable.
type Entry struct {
	Device     string
	Observable string
	Buffer     *series.Buffer
	Renderer   render.Renderer
}

// Registry owns the entries of one experiment.
type Registry struct {
	experiment string
	dispatch   *render.Dispatch
	labels     LabelRequester

	mu      sync.Mutex
	entries map[Key]*Entry
	order   []Key
}

// New creates an empty registry for experiment. labels may be nil.
func New(experiment string, dispatch *render.Dispatch, labels LabelRequester) *Registry {
	if dispatch == nil {
		dispatch = render.NewDispatch(nil)
	}
	return &Registry{
		experiment: experiment,
		dispatch:   dispatch,
		labels:     labels,
		entries:    make(map[Key]*Entry),
	}
}

// Experiment returns the experiment id the registry is scoped to.
func (r *Registry) Experiment() string {
	return r.experiment
}

// Route merges batch into the entry for (device, observable) and forwards
// the applied samples to its renderer. A missing entry is created only for a
// non-empty batch; otherwise Route returns nil.
func (r *Registry) Route(device, observable string, batch []series.Pair) *Entry {
	entry, created := r.lookupOrCreate(Key{Device: device, Observable: observable}, len(batch) > 0)
	if entry == nil {
		return nil
	}
	if created && r.labels != nil {
		r.labels.Request(observable, entry.Renderer.SetLabel)
	}
	if applied := entry.Buffer.Merge(batch); len(applied) > 0 {
		entry.Renderer.OnData(applied)
	}
	return entry
}

func (r *Registry) lookupOrCreate(key Key, create bool) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[key]; ok {
		return entry, false
	}
	if !create || r.entries == nil {
		return nil, false
	}
	entry := &Entry{
		Device:     key.Device,
		Observable: key.Observable,
		Buffer:     series.NewBuffer(),
		Renderer:   r.dispatch.New(render.Target{Device: key.Device, Observable: key.Observable}),
	}
	r.entries[key] = entry
	r.order = append(r.order, key)
	logger.Debug("[registry] %s: new %s renderer for %s/%s",
		r.experiment, r.dispatch.KindFor(key.Observable), key.Device, key.Observable)
	return entry, true
}

// Teardown disposes every renderer and drops all entries. Routing into a
// torn-down registry is a no-op.
func (r *Registry) Teardown() {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.order))
	for _, key := range r.order {
		entries = append(entries, r.entries[key])
	}
	r.entries = nil
	r.order = nil
	r.mu.Unlock()

	for _, entry := range entries {
		entry.Renderer.Dispose()
	}
	if len(entries) > 0 {
		logger.Info("[registry] %s: disposed %d entries", r.experiment, len(entries))
	}
}

// Entries returns the live entries in creation order.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key])
	}
	return out
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Views snapshots every renderer in creation order.
func (r *Registry) Views() []render.View {
	entries := r.Entries()
	views := make([]render.View, 0, len(entries))
	for _, entry := range entries {
		views = append(views, entry.Renderer.View())
	}
	return views
}
