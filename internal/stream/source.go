// Package stream delivers raw stream messages to the session controller.
//
// Every transport implements Source. Messages are returned one at a time in
// arrival order; the controller finishes each before asking for the next.
// A source that can deliver no more messages returns an error wrapping
// ErrClosed.
package stream

import (
	"context"
	"errors"
)

// ErrClosed reports that a source has no more messages.
var ErrClosed = errors.New("source closed")

// Source yields raw JSON messages.
type Source interface {
	// Next blocks until a message arrives, the source ends, or ctx is done.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}
