// ABOUTME: Session manager: opens, attaches, aborts, and expires turn streams.
// ABOUTME: Owns every session and producer lease; sealed streams are rehydrated from the journal.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mimrai-org/mimrai-sub005/internal/metrics"
	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

// Manager errors
var (
	ErrUnknownSession = errors.New("unknown session")
	ErrManagerClosed  = errors.New("session manager closed")
	ErrNotRunning     = errors.New("session is not running")
)

const (
	defaultNamespace     = "mimrai"
	defaultRetention     = 15 * time.Minute
	defaultSweepInterval = time.Minute

	journalTimeout = 5 * time.Second
)

// Journal stores stream events so sealed streams outlive the process.
type Journal interface {
	stream.Journal
	// LoadStream returns the events of key in seq order, or none when the
	// stream is unknown.
	LoadStream(ctx context.Context, key string) ([]stream.Event, error)
	DeleteStream(ctx context.Context, key string) error
}

// Config holds the manager settings.
type Config struct {
	// Namespace prefixes every storage key.
	Namespace string
	// Retention is how long a sealed session stays attachable.
	Retention time.Duration
	// SweepInterval is how often Run expires sessions.
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithJournal persists stream events to j.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithRecorder reports session metrics to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the sessions of all conversations.
type Manager struct {
	cfg      Config
	journal  Journal
	recorder metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[Key]*Session
	// busy holds a channel per key with journal work in flight; it is
	// closed when the work is done.
	busy   map[Key]chan struct{}
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	watchers sync.WaitGroup
}

// NewManager creates a manager. Zero config fields take defaults.
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:      cfg,
		recorder: metrics.Nop(),
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[Key]*Session),
		busy:     make(map[Key]chan struct{}),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "sessions")
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// AdmitFunc accepts a new turn before it replaces the previous stream of its
// key. A non-nil error leaves the previous stream untouched.
type AdmitFunc func(ctx context.Context) error

// Open returns the session for key. When a turn is already running for key
// the existing session is returned with a nil producer. Otherwise a fresh
// session is created and its producer returned; a previous sealed stream for
// the same key is replaced.
func (m *Manager) Open(ctx context.Context, key Key) (*Session, *Producer, error) {
	return m.OpenAdmitted(ctx, key, nil)
}

// OpenAdmitted is Open with an admission step. admit runs after the running
// check and before the previous stream is cleared, while no other Open,
// rehydration, or expiry of key can touch its journal.
func (m *Manager) OpenAdmitted(ctx context.Context, key Key, admit AdmitFunc) (*Session, *Producer, error) {
	if err := key.Validate(); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	release := m.reserveLocked(key)
	if m.closed {
		m.mu.Unlock()
		release()
		return nil, nil, ErrManagerClosed
	}
	// The seal watcher may lag behind End; the buffer is authoritative.
	if s, ok := m.sessions[key]; ok && s.State() == StateOpen && !s.buf.Sealed() {
		m.mu.Unlock()
		release()
		return s, nil, nil
	}
	m.mu.Unlock()
	defer release()

	if admit != nil {
		if err := admit(ctx); err != nil {
			return nil, nil, err
		}
	}

	storageKey := key.Storage(m.cfg.Namespace)
	opts := []stream.Option{stream.WithLogger(m.logger), stream.WithClock(m.now)}
	if m.journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
		err := m.journal.DeleteStream(jctx, storageKey)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("clearing previous stream: %w", err)
		}
		opts = append(opts, stream.WithJournal(m.journal))
	}

	buf := stream.NewBuffer(storageKey, opts...)
	lease, err := buf.Acquire()
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring producer lease: %w", err)
	}

	s := newSession(key, storageKey, buf, m.now())
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, nil, ErrManagerClosed
	}
	m.sessions[key] = s
	m.watchers.Add(1)
	m.mu.Unlock()

	go m.watch(s)

	m.recorder.SessionEvent(metrics.SessionOpened)
	m.logger.Debug("session opened", "stream_key", storageKey)

	return s, &Producer{session: s, lease: lease, ctx: pctx, recorder: m.recorder}, nil
}

// reserveLocked waits until no journal work is in flight for key, then
// reserves it. m.mu must be held; it is released while waiting. The returned
// func ends the reservation and must be called without m.mu held.
func (m *Manager) reserveLocked(key Key) func() {
	for {
		ch, ok := m.busy[key]
		if !ok {
			break
		}
		m.mu.Unlock()
		<-ch
		m.mu.Lock()
	}
	ch := make(chan struct{})
	m.busy[key] = ch
	return func() {
		m.mu.Lock()
		delete(m.busy, key)
		m.mu.Unlock()
		close(ch)
	}
}

// watch records the seal time once the buffer receives End.
func (m *Manager) watch(s *Session) {
	defer m.watchers.Done()
	<-s.buf.Done()
	if s.markSealed(m.now()) {
		m.recorder.SessionEvent(metrics.SessionSealed)
		m.logger.Debug("session sealed", "stream_key", s.storageKey, "events", s.buf.Len())
	}
}

// Lookup returns the live or retained session for key.
func (m *Manager) Lookup(key Key) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Attach returns a consumer reading the session for key from fromOffset.
// It fails with ErrUnknownSession when no open or retained session exists.
func (m *Manager) Attach(ctx context.Context, key Key, fromOffset uint64) (*Consumer, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	s, ok := m.sessions[key]
	m.mu.Unlock()

	if !ok {
		var err error
		s, err = m.rehydrate(ctx, key)
		if err != nil {
			return nil, err
		}
	}

	c := &Consumer{
		id:      uuid.New().String(),
		session: s,
		cursor:  s.buf.ReadFrom(fromOffset),
		onClose: m.recorder.ConsumerDetached,
	}
	s.addConsumer(c)
	m.recorder.ConsumerAttached()

	m.logger.Debug("consumer attached",
		"stream_key", s.storageKey,
		"consumer_id", c.id,
		"offset", fromOffset)
	return c, nil
}

// rehydrate rebuilds a sealed session from the journal. A journaled stream
// without End belongs to a turn interrupted by a restart; it is closed with
// a GenerationFailure error before being restored.
func (m *Manager) rehydrate(ctx context.Context, key Key) (*Session, error) {
	if m.journal == nil {
		return nil, ErrUnknownSession
	}
	if err := key.Validate(); err != nil {
		return nil, ErrUnknownSession
	}

	m.mu.Lock()
	release := m.reserveLocked(key)
	existing, ok := m.sessions[key]
	m.mu.Unlock()
	defer release()
	if ok {
		return existing, nil
	}

	storageKey := key.Storage(m.cfg.Namespace)
	events, err := m.journal.LoadStream(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("loading stream %s: %w", storageKey, err)
	}
	if len(events) == 0 {
		return nil, ErrUnknownSession
	}

	last := events[len(events)-1]
	sealedAt := last.Time
	if !last.IsEnd() {
		sealedAt = m.now()
		events, err = m.terminateOrphan(ctx, storageKey, events, sealedAt)
		if err != nil {
			return nil, err
		}
	}

	if m.now().Sub(sealedAt) >= m.cfg.Retention {
		m.deleteJournal(storageKey)
		return nil, ErrUnknownSession
	}

	buf, err := stream.Restore(storageKey, events, stream.WithLogger(m.logger))
	if err != nil {
		return nil, fmt.Errorf("restoring stream %s: %w", storageKey, err)
	}

	s := newSession(key, storageKey, buf, events[0].Time)
	s.state = StateSealed
	s.sealedAt = sealedAt

	m.mu.Lock()
	m.sessions[key] = s
	m.mu.Unlock()

	m.logger.Info("session rehydrated from journal",
		"stream_key", storageKey,
		"events", len(events))
	return s, nil
}

func (m *Manager) terminateOrphan(ctx context.Context, storageKey string, events []stream.Event, at time.Time) ([]stream.Event, error) {
	next := uint64(len(events))
	tail := []stream.Event{
		{Seq: next, Time: at, Payload: stream.ErrorEvent{
			Kind:    stream.ErrorGenerationFailure,
			Message: "turn interrupted before completion",
		}},
		{Seq: next + 1, Time: at, Payload: stream.End{}},
	}
	for _, ev := range tail {
		if err := m.journal.AppendStreamEvent(ctx, storageKey, ev); err != nil {
			return nil, fmt.Errorf("terminating interrupted stream %s: %w", storageKey, err)
		}
	}
	m.logger.Warn("terminated interrupted stream", "stream_key", storageKey, "events", len(events))
	return append(events, tail...), nil
}

// Detach closes the consumer's cursor. The producer keeps running.
func (m *Manager) Detach(c *Consumer) {
	c.Close()
	m.logger.Debug("consumer detached",
		"stream_key", c.session.storageKey,
		"consumer_id", c.id,
		"offset", c.Offset())
}

// Abort stops the running turn for key with Error{Cancelled} and End, then
// cancels the producer context.
func (m *Manager) Abort(key Key, reason string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	return m.abort(s, reason)
}

func (m *Manager) abort(s *Session, reason string) error {
	if reason == "" {
		reason = "generation stopped"
	}
	err := s.buf.AppendTerminal(stream.ErrorEvent{Kind: stream.ErrorCancelled, Message: reason})
	if errors.Is(err, stream.ErrSessionSealed) || errors.Is(err, stream.ErrReclaimed) {
		return ErrNotRunning
	}
	if err != nil {
		return err
	}
	s.cancelProducer()

	m.recorder.EventAppended(string(stream.KindError))
	m.recorder.EventAppended(string(stream.KindEnd))
	m.recorder.SessionEvent(metrics.SessionAborted)
	m.logger.Info("session aborted", "stream_key", s.storageKey, "reason", reason)
	return nil
}

// Expire reclaims sealed sessions whose retention window has elapsed at now
// and returns how many were expired.
func (m *Manager) Expire(now time.Time) int {
	m.mu.Lock()
	var due []*Session
	for _, s := range m.sessions {
		if s.expireIfDue(now, m.cfg.Retention) {
			due = append(due, s)
		}
	}
	m.mu.Unlock()

	for _, s := range due {
		m.expire(s)
		m.recorder.SessionEvent(metrics.SessionExpired)
		m.logger.Debug("session expired", "stream_key", s.storageKey)
	}
	return len(due)
}

// expire drops s and its journal rows under the key's reservation. When a
// newer turn replaced s in the meantime, the journal belongs to that turn
// and is kept.
func (m *Manager) expire(s *Session) {
	m.mu.Lock()
	release := m.reserveLocked(s.key)
	current := m.sessions[s.key] == s
	if current {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
	defer release()

	s.buf.Reclaim()
	if current {
		m.deleteJournal(s.storageKey)
	}
}

func (m *Manager) deleteJournal(storageKey string) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := m.journal.DeleteStream(ctx, storageKey); err != nil {
		m.logger.Error("failed to delete journaled stream", "stream_key", storageKey, "error", err)
	}
}

// Run expires sessions every SweepInterval until ctx is done or Close is called.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.Expire(m.now()); n > 0 {
				m.logger.Info("expired sessions", "count", n)
			}
		}
	}
}

// Close aborts every running turn, stops Run, and waits for seal bookkeeping.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var running []*Session
	for _, s := range m.sessions {
		if s.State() == StateOpen {
			running = append(running, s)
		}
	}
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stop) })

	for _, s := range running {
		if err := m.abort(s, "gateway shutting down"); err != nil && !errors.Is(err, ErrNotRunning) {
			m.logger.Error("failed to abort session", "stream_key", s.storageKey, "error", err)
		}
	}
	m.watchers.Wait()
	return nil
}
