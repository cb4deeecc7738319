// ABOUTME: Session state plus the producer and consumer handles handed out by the manager.
// ABOUTME: Producers append under the lease; consumers read through their own cursor.

package session

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/mimrai-org/mimrai-sub005/internal/metrics"
	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

// State is the lifecycle state of a session.
type State string

const (
	StateOpen    State = "open"
	StateSealed  State = "sealed"
	StateExpired State = "expired"
)

// Session owns the buffer of one turn and the consumers reading it.
type Session struct {
	key        Key
	storageKey string
	buf        *stream.Buffer
	createdAt  time.Time

	mu        sync.Mutex
	state     State
	sealedAt  time.Time
	cancel    context.CancelFunc
	consumers map[string]*Consumer
}

func newSession(key Key, storageKey string, buf *stream.Buffer, createdAt time.Time) *Session {
	return &Session{
		key:        key,
		storageKey: storageKey,
		buf:        buf,
		createdAt:  createdAt,
		state:      StateOpen,
		consumers:  make(map[string]*Consumer),
	}
}

// Key returns the session key.
func (s *Session) Key() Key { return s.key }

// StorageKey returns the namespaced key of the buffer.
func (s *Session) StorageKey() string { return s.storageKey }

// Buffer returns the session's event buffer.
func (s *Session) Buffer() *stream.Buffer { return s.buf }

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SealedAt returns when the session was sealed, or the zero time while open.
func (s *Session) SealedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealedAt
}

// Consumers returns the number of attached consumers.
func (s *Session) Consumers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

// markSealed moves an open session to sealed and releases the producer context.
func (s *Session) markSealed(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return false
	}
	s.state = StateSealed
	s.sealedAt = at
	if s.cancel != nil {
		s.cancel()
	}
	return true
}

// expireIfDue moves a sealed session past its retention window to expired.
func (s *Session) expireIfDue(now time.Time, retention time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSealed || now.Sub(s.sealedAt) < retention {
		return false
	}
	s.state = StateExpired
	return true
}

func (s *Session) cancelProducer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) addConsumer(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers[c.id] = c
}

func (s *Session) removeConsumer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumers[id]; !ok {
		return false
	}
	delete(s.consumers, id)
	return true
}

// Producer is the single writer of a session's buffer.
type Producer struct {
	session  *Session
	lease    *stream.Lease
	ctx      context.Context
	recorder metrics.Recorder
}

// Key returns the key of the session being produced.
func (p *Producer) Key() Key { return p.session.key }

// Session returns the session being produced.
func (p *Producer) Session() *Session { return p.session }

// Context is cancelled when the turn is aborted, the manager closes, or the
// stream is sealed.
func (p *Producer) Context() context.Context { return p.ctx }

// Append writes one event and returns its sequence number.
func (p *Producer) Append(payload stream.Payload) (uint64, error) {
	seq, err := p.session.buf.Append(p.lease, payload)
	if err != nil {
		return 0, err
	}
	p.recorder.EventAppended(string(payload.EventKind()))
	return seq, nil
}

// Fail terminates the turn with an error event followed by End.
func (p *Producer) Fail(kind stream.ErrorKind, message string) error {
	if _, err := p.Append(stream.ErrorEvent{Kind: kind, Message: message}); err != nil {
		return err
	}
	return p.Finish()
}

// Finish appends End, sealing the stream.
func (p *Producer) Finish() error {
	_, err := p.Append(stream.End{})
	return err
}

// Consumer is one reader of a session's buffer.
type Consumer struct {
	id      string
	session *Session
	cursor  *stream.Cursor

	closeOnce sync.Once
	onClose   func()
}

// ID returns the consumer identifier.
func (c *Consumer) ID() string { return c.id }

// Key returns the key of the session being read.
func (c *Consumer) Key() Key { return c.session.key }

// Offset returns the seq of the next event this consumer will receive.
func (c *Consumer) Offset() uint64 { return c.cursor.Offset() }

// Next returns the next event; io.EOF after End.
func (c *Consumer) Next(ctx context.Context) (stream.Event, error) {
	return c.cursor.Next(ctx)
}

// Events yields events until End, a failure, or ctx cancellation.
func (c *Consumer) Events(ctx context.Context) iter.Seq2[stream.Event, error] {
	return c.cursor.Events(ctx)
}

// Close detaches the consumer. The producer is unaffected.
func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		c.cursor.Close()
		if c.session.removeConsumer(c.id) && c.onClose != nil {
			c.onClose()
		}
	})
}
