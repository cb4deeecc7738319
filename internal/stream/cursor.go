// ABOUTME: Read cursor over a stream buffer: replay from an offset, then follow live.
// ABOUTME: Offsets are the resumability primitive; a new cursor at a saved offset continues exactly.

package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"
)

// ErrCursorClosed is returned by Next after Close.
var ErrCursorClosed = errors.New("cursor closed")

// Cursor reads a Buffer from an offset. A cursor is used by one goroutine;
// Close may be called from any goroutine.
type Cursor struct {
	buf    *Buffer
	offset atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
}

// Offset returns the seq of the next event the cursor will deliver.
func (c *Cursor) Offset() uint64 {
	return c.offset.Load()
}

// Close detaches the cursor. Blocked and future Next calls return ErrCursorClosed.
func (c *Cursor) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Next returns the next event, blocking while the buffer is open and has no
// unread events. It returns io.EOF once the End event has been delivered.
func (c *Cursor) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case <-c.closed:
			return Event{}, ErrCursorClosed
		default:
		}

		offset := c.offset.Load()
		ev, ok, wait, err := c.buf.next(offset)
		if err != nil {
			return Event{}, err
		}
		if ok {
			c.offset.Store(offset + 1)
			return ev, nil
		}
		if wait == nil {
			return Event{}, io.EOF
		}

		select {
		case <-wait:
		case <-c.closed:
			return Event{}, ErrCursorClosed
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Events yields events until End has been delivered. A failure other than
// reaching the end is yielded once as the error value, then iteration stops.
func (c *Cursor) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := c.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
