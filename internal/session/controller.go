// Package session drives the experiment-switch state machine: it owns the
// live Session and routes every stream message into its registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"labstream/internal/logger"
	"labstream/internal/registry"
	"labstream/internal/render"
	"labstream/internal/state"
	"labstream/internal/stream"
)

var (
	// ErrStreamClosed is returned by Run when the source is exhausted or fails.
	ErrStreamClosed = errors.New("stream closed")
	// ErrHalted is returned for messages applied after the stream closed.
	ErrHalted = errors.New("controller halted")
)

// StatusRecorder receives state transitions for the operator.
// *state.Store satisfies it.
type StatusRecorder interface {
	SetStatus(status, experiment, message string) error
	RecordMetrics(metrics map[string]float64) error
}

// Session is the registry of one experiment. It is replaced wholesale on an
// experiment switch.
type Session struct {
	Experiment string
	Registry   *registry.Registry
}

// Options configure a Controller. Zero values are usable.
type Options struct {
	Dispatch *render.Dispatch
	Labels   registry.LabelRequester
	Status   StatusRecorder
}

// Stats counts processed input.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Switches uint64 `json:"switches"`
	Dropped  uint64 `json:"droppedPairs"`
}

// Snapshot is a point-in-time copy of the controller for display.
type Snapshot struct {
	Status     string        `json:"status"`
	Experiment string        `json:"experiment,omitempty"`
	Stats      Stats         `json:"stats"`
	Views      []render.View `json:"views"`
}

// Controller consumes stream messages one at a time.
type Controller struct {
	opts Options

	mu      sync.Mutex
	session *Session
	halted  bool
	stats   Stats
}

// NewController creates an unbound controller.
func NewController(opts Options) *Controller {
	if opts.Dispatch == nil {
		opts.Dispatch = render.NewDispatch(nil)
	}
	return &Controller{opts: opts}
}

// Handle decodes and applies one raw message. Malformed messages leave the
// controller untouched and return a *MessageError.
func (c *Controller) Handle(raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		c.mu.Lock()
		c.stats.Rejected++
		c.mu.Unlock()
		return err
	}
	return c.Apply(msg)
}

// Apply runs one state transition:
//
//	Unbound     + msg(exp)   -> Bound(exp)
//	Bound(exp)  + msg(exp)   -> Bound(exp)
//	Bound(exp)  + msg(other) -> teardown, Bound(other)
//
// The old session is fully torn down before any update of the new
// experiment is routed.
func (c *Controller) Apply(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return ErrHalted
	}

	var transition string
	switch {
	case c.session == nil:
		c.session = c.newSession(msg.Experiment)
		logger.Console("📡 Bound to experiment %q", msg.Experiment)
		transition = fmt.Sprintf("bound to experiment %s", msg.Experiment)
	case c.session.Experiment != msg.Experiment:
		previous := c.session
		previous.Registry.Teardown()
		c.session = c.newSession(msg.Experiment)
		c.stats.Switches++
		logger.Console("🔀 Experiment switched %q → %q", previous.Experiment, msg.Experiment)
		transition = fmt.Sprintf("switched from %s to %s", previous.Experiment, msg.Experiment)
	}

	for _, update := range msg.Updates {
		c.session.Registry.Route(update.Device, update.Observable, update.Batch)
	}
	c.stats.Accepted++
	c.stats.Dropped += uint64(msg.Dropped)
	if msg.Dropped > 0 {
		logger.Debug("[session] dropped %d non-numeric pairs", msg.Dropped)
	}
	if transition != "" {
		c.record(state.StatusBound, transition)
	}
	return nil
}

func (c *Controller) newSession(experiment string) *Session {
	return &Session{
		Experiment: experiment,
		Registry:   registry.New(experiment, c.opts.Dispatch, c.opts.Labels),
	}
}

// Run pulls messages from src until it closes or ctx ends. Malformed
// messages are logged and skipped. When the source ends the controller
// halts: routing stops and existing entries stay as last rendered.
func (c *Controller) Run(ctx context.Context, src stream.Source) error {
	for {
		raw, err := src.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.halt(err)
			return fmt.Errorf("%w: %w", ErrStreamClosed, err)
		}
		if err := c.Handle(raw); err != nil {
			var msgErr *MessageError
			if errors.As(err, &msgErr) {
				logger.Warn("[session] rejected message: %v", err)
				continue
			}
			return err
		}
	}
}

func (c *Controller) halt(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return
	}
	c.halted = true
	logger.Error("❌ Stream ended, routing stopped: %v", cause)
	c.record(state.StatusHalted, fmt.Sprintf("stream ended: %v", cause))
}

// record must be called with c.mu held.
func (c *Controller) record(status, message string) {
	if c.opts.Status == nil {
		return
	}
	if err := c.opts.Status.SetStatus(status, c.experimentLocked(), message); err != nil {
		logger.Warn("[session] failed to write status: %v", err)
	}
	if err := c.opts.Status.RecordMetrics(c.metricsLocked()); err != nil {
		logger.Warn("[session] failed to write metrics: %v", err)
	}
}

func (c *Controller) metricsLocked() map[string]float64 {
	entries := 0
	if c.session != nil {
		entries = c.session.Registry.Len()
	}
	return map[string]float64{
		state.MetricMessagesAccepted: float64(c.stats.Accepted),
		state.MetricMessagesRejected: float64(c.stats.Rejected),
		state.MetricSessionSwitches:  float64(c.stats.Switches),
		state.MetricPairsDropped:     float64(c.stats.Dropped),
		state.MetricEntriesLive:      float64(entries),
	}
}

func (c *Controller) experimentLocked() string {
	if c.session == nil {
		return ""
	}
	return c.session.Experiment
}

func (c *Controller) statusLocked() string {
	switch {
	case c.halted:
		return state.StatusHalted
	case c.session == nil:
		return state.StatusUnbound
	default:
		return state.StatusBound
	}
}

// Session returns the live session, or nil while unbound.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Halted reports whether the stream has ended.
func (c *Controller) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Snapshot copies the controller state and every widget view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Status:     c.statusLocked(),
		Experiment: c.experimentLocked(),
		Stats:      c.stats,
		Views:      []render.View{},
	}
	if c.session != nil {
		snap.Views = c.session.Registry.Views()
	}
	return snap
}

// Flush writes the current counters to the status recorder.
func (c *Controller) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Status == nil {
		return
	}
	if err := c.opts.Status.RecordMetrics(c.metricsLocked()); err != nil {
		logger.Warn("[session] failed to write metrics: %v", err)
	}
}
