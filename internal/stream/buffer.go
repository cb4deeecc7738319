// ABOUTME: Append-only, offset-addressed event log for one conversation turn.
// ABOUTME: A single lease holder appends; any number of cursors read concurrently.

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Buffer errors
var (
	ErrNotProducer   = errors.New("caller does not hold the producer lease")
	ErrSessionSealed = errors.New("stream is sealed")
	ErrLeaseHeld     = errors.New("producer lease already held")
	ErrReclaimed     = errors.New("stream has been reclaimed")
)

// journalTimeout bounds each journal write so a slow store cannot stall the producer.
const journalTimeout = 5 * time.Second

// Journal mirrors appended events to durable storage.
type Journal interface {
	AppendStreamEvent(ctx context.Context, key string, event Event) error
}

// Lease is the exclusive right to append to a Buffer.
type Lease struct {
	id  string
	buf *Buffer
}

// ID returns the lease identifier.
func (l *Lease) ID() string {
	return l.id
}

// Release gives up the lease without sealing the buffer.
func (l *Lease) Release() {
	l.buf.mu.Lock()
	defer l.buf.mu.Unlock()
	if l.buf.lease == l {
		l.buf.lease = nil
	}
}

// Buffer is the append-only event log of one turn.
type Buffer struct {
	key string

	mu        sync.RWMutex
	events    []Event
	sealed    bool
	reclaimed bool
	lease     *Lease

	// notify is closed and replaced on every append so waiting cursors wake up.
	notify chan struct{}
	done   chan struct{}

	journal Journal
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithJournal mirrors every appended event to j.
func WithJournal(j Journal) Option {
	return func(b *Buffer) { b.journal = j }
}

// WithLogger sets the logger used for journal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// NewBuffer creates an empty, open buffer addressed by key.
func NewBuffer(key string, opts ...Option) *Buffer {
	b := &Buffer{
		key:    key,
		notify: make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "stream", "stream_key", key)
	return b
}

// Restore rebuilds a sealed buffer from previously journaled events.
// The events must be contiguous from seq 0 and end with exactly one End.
func Restore(key string, events []Event, opts ...Option) (*Buffer, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("restoring %s: no events", key)
	}
	for i, ev := range events {
		if ev.Seq != uint64(i) {
			return nil, fmt.Errorf("restoring %s: gap at seq %d", key, i)
		}
		if ev.IsEnd() != (i == len(events)-1) {
			return nil, fmt.Errorf("restoring %s: end event must be last and unique", key)
		}
	}

	b := NewBuffer(key, opts...)
	b.journal = nil
	b.events = append([]Event(nil), events...)
	b.sealed = true
	close(b.done)
	return b, nil
}

// Key returns the address of the buffer.
func (b *Buffer) Key() string {
	return b.key
}

// Acquire grants the producer lease. It fails when another lease is held or the
// buffer is sealed.
func (b *Buffer) Acquire() (*Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return nil, ErrSessionSealed
	}
	if b.lease != nil {
		return nil, ErrLeaseHeld
	}
	b.lease = &Lease{id: uuid.New().String(), buf: b}
	return b.lease, nil
}

// Append adds p to the end of the buffer and returns its sequence number.
// Appending End seals the buffer and releases the lease.
func (b *Buffer) Append(lease *Lease, p Payload) (uint64, error) {
	if p == nil {
		return 0, errors.New("append: nil payload")
	}

	b.mu.Lock()
	if b.reclaimed {
		b.mu.Unlock()
		return 0, ErrReclaimed
	}
	if b.sealed {
		b.mu.Unlock()
		return 0, ErrSessionSealed
	}
	if lease == nil || b.lease != lease {
		b.mu.Unlock()
		return 0, ErrNotProducer
	}
	ev := b.appendLocked(p)
	b.mu.Unlock()

	b.writeJournal(ev)
	return ev.Seq, nil
}

// Seal marks the buffer terminal. If the producer never appended End, Seal
// appends it so the stream still ends with exactly one End. Returns false if
// the buffer was already sealed.
func (b *Buffer) Seal() bool {
	b.mu.Lock()
	if b.sealed || b.reclaimed {
		b.mu.Unlock()
		return false
	}
	ev := b.appendLocked(End{})
	b.mu.Unlock()

	b.writeJournal(ev)
	return true
}

// AppendTerminal appends the given payloads followed by End without a lease.
// It is the forced-stop path: whoever holds the lease loses it and subsequent
// appends fail with ErrSessionSealed.
func (b *Buffer) AppendTerminal(payloads ...Payload) error {
	b.mu.Lock()
	if b.reclaimed {
		b.mu.Unlock()
		return ErrReclaimed
	}
	if b.sealed {
		b.mu.Unlock()
		return ErrSessionSealed
	}
	written := make([]Event, 0, len(payloads)+1)
	for _, p := range payloads {
		if p == nil || p.EventKind() == KindEnd {
			continue
		}
		written = append(written, b.appendLocked(p))
	}
	written = append(written, b.appendLocked(End{}))
	b.mu.Unlock()

	for _, ev := range written {
		b.writeJournal(ev)
	}
	return nil
}

// appendLocked must be called with mu held and the buffer unsealed.
func (b *Buffer) appendLocked(p Payload) Event {
	ev := Event{
		Seq:     uint64(len(b.events)),
		Time:    b.now(),
		Payload: p,
	}
	b.events = append(b.events, ev)

	if ev.IsEnd() {
		b.sealed = true
		b.lease = nil
		close(b.done)
	}

	close(b.notify)
	b.notify = make(chan struct{})
	return ev
}

func (b *Buffer) writeJournal(ev Event) {
	if b.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	if err := b.journal.AppendStreamEvent(ctx, b.key, ev); err != nil {
		b.logger.Error("failed to journal stream event",
			"error", err,
			"seq", ev.Seq,
			"kind", ev.Kind())
	}
}

// Sealed reports whether End has been appended.
func (b *Buffer) Sealed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sealed
}

// Done returns a channel closed when the buffer is sealed.
func (b *Buffer) Done() <-chan struct{} {
	return b.done
}

// Len returns the number of appended events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Snapshot returns a copy of the events starting at offset.
func (b *Buffer) Snapshot(offset uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if offset >= uint64(len(b.events)) {
		return nil
	}
	return append([]Event(nil), b.events[offset:]...)
}

// Reclaim drops the buffered events. Open cursors fail with ErrReclaimed.
func (b *Buffer) Reclaim() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reclaimed {
		return
	}
	b.reclaimed = true
	b.events = nil
	b.lease = nil
	close(b.notify)
	b.notify = make(chan struct{})
}

// ReadFrom returns a cursor positioned at offset, the seq of the next event to read.
func (b *Buffer) ReadFrom(offset uint64) *Cursor {
	c := &Cursor{
		buf:    b,
		closed: make(chan struct{}),
	}
	c.offset.Store(offset)
	return c
}

// next returns the event at offset, or a channel to wait on when none is available.
func (b *Buffer) next(offset uint64) (Event, bool, <-chan struct{}, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.reclaimed {
		return Event{}, false, nil, ErrReclaimed
	}
	if offset < uint64(len(b.events)) {
		return b.events[offset], true, nil, nil
	}
	if b.sealed {
		return Event{}, false, nil, nil
	}
	return Event{}, false, b.notify, nil
}
