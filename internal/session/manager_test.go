// ABOUTME: Tests for the session manager lifecycle.
// ABOUTME: Covers open idempotency, attach/detach, abort, expiry, and journal rehydration.

package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memJournal struct {
	mu      sync.Mutex
	streams map[string][]stream.Event
}

func newMemJournal() *memJournal {
	return &memJournal{streams: make(map[string][]stream.Event)}
}

func (j *memJournal) AppendStreamEvent(_ context.Context, key string, ev stream.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.streams[key] = append(j.streams[key], ev)
	return nil
}

func (j *memJournal) LoadStream(_ context.Context, key string) ([]stream.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.streams[key]), nil
}

func (j *memJournal) DeleteStream(_ context.Context, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.streams, key)
	return nil
}

var testKey = Key{Scope: "user-1", ConversationID: "conv-1"}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(Config{Namespace: "test", Retention: time.Minute}, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func collect(t *testing.T, c *Consumer) []stream.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	var out []stream.Event
	for ev, err := range c.Events(ctx) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func waitSealed(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == StateSealed },
		time.Second, 5*time.Millisecond)
}

func TestOpen_IsIdempotentWhileRunning(t *testing.T) {
	m := newTestManager(t)

	s1, p1, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	require.NotNil(t, p1)
	assert.Equal(t, StateOpen, s1.State())
	assert.Equal(t, "test:user-1:conv-1", s1.StorageKey())

	s2, p2, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	assert.Nil(t, p2)
	assert.Same(t, s1, s2)
}

func TestOpen_AfterSealStartsFreshSession(t *testing.T) {
	m := newTestManager(t)

	s1, p1, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	_, err = p1.Append(stream.TextDelta{Text: "first"})
	require.NoError(t, err)
	require.NoError(t, p1.Finish())
	waitSealed(t, s1)

	s2, p2, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	require.NotNil(t, p2)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, 0, s2.Buffer().Len())
}

func TestOpen_RejectsInvalidKey(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.Open(t.Context(), Key{Scope: "s"})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, _, err = m.Open(t.Context(), Key{Scope: "a:b", ConversationID: "c"})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAttach_UnknownSession(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Attach(t.Context(), testKey, 0)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

// Scenario A/B shape: a consumer that attaches after the seal replays the
// whole turn and terminates.
func TestAttach_AfterSealReplaysEverything(t *testing.T) {
	m := newTestManager(t)

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	for _, txt := range []string{"a", "b", "c", "d", "e"} {
		_, err := p.Append(stream.TextDelta{Text: txt})
		require.NoError(t, err)
	}
	require.NoError(t, p.Finish())
	waitSealed(t, s)

	c, err := m.Attach(t.Context(), testKey, 0)
	require.NoError(t, err)
	defer m.Detach(c)

	events := collect(t, c)
	require.Len(t, events, 6)
	assert.True(t, events[5].IsEnd())
}

func TestDetach_DoesNotCancelProducer(t *testing.T) {
	m := newTestManager(t)

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)

	c, err := m.Attach(t.Context(), testKey, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Consumers())

	m.Detach(c)
	m.Detach(c)
	assert.Equal(t, 0, s.Consumers())

	require.NoError(t, p.Context().Err())
	_, err = p.Append(stream.TextDelta{Text: "still generating"})
	assert.NoError(t, err)
}

func TestProducerContextSurvivesRequestCancellation(t *testing.T) {
	m := newTestManager(t)

	reqCtx, cancel := context.WithCancel(t.Context())
	_, p, err := m.Open(reqCtx, testKey)
	require.NoError(t, err)
	cancel()

	assert.NoError(t, p.Context().Err())
}

func TestReattachAtOffsetResumesWithoutGaps(t *testing.T) {
	m := newTestManager(t)

	_, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	for _, txt := range []string{"0", "1", "2"} {
		_, err := p.Append(stream.TextDelta{Text: txt})
		require.NoError(t, err)
	}

	c1, err := m.Attach(t.Context(), testKey, 0)
	require.NoError(t, err)
	var seen []stream.Event
	for range 2 {
		ev, err := c1.Next(t.Context())
		require.NoError(t, err)
		seen = append(seen, ev)
	}
	offset := c1.Offset()
	m.Detach(c1)

	_, err = p.Append(stream.TextDelta{Text: "3"})
	require.NoError(t, err)
	require.NoError(t, p.Finish())

	c2, err := m.Attach(t.Context(), testKey, offset)
	require.NoError(t, err)
	seen = append(seen, collect(t, c2)...)

	require.Len(t, seen, 5)
	for i, ev := range seen {
		assert.Equal(t, uint64(i), ev.Seq)
	}
}

func TestAbort(t *testing.T) {
	m := newTestManager(t)

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	_, err = p.Append(stream.TextDelta{Text: "partial"})
	require.NoError(t, err)

	require.NoError(t, m.Abort(testKey, "user pressed stop"))

	select {
	case <-p.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("producer context was not cancelled")
	}

	_, err = p.Append(stream.TextDelta{Text: "late"})
	assert.ErrorIs(t, err, stream.ErrSessionSealed)

	events := s.Buffer().Snapshot(0)
	require.Len(t, events, 3)
	errEv, ok := events[1].Payload.(stream.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, stream.ErrorCancelled, errEv.Kind)
	assert.True(t, events[2].IsEnd())

	assert.ErrorIs(t, m.Abort(testKey, ""), ErrNotRunning)
	assert.ErrorIs(t, m.Abort(Key{Scope: "x", ConversationID: "y"}, ""), ErrUnknownSession)
}

func TestProducerFail(t *testing.T) {
	m := newTestManager(t)

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	require.NoError(t, p.Fail(stream.ErrorGenerationFailure, "model unavailable"))

	events := s.Buffer().Snapshot(0)
	require.Len(t, events, 2)
	assert.Equal(t, stream.KindError, events[0].Kind())
	assert.True(t, events[1].IsEnd())

	assert.ErrorIs(t, p.Finish(), stream.ErrSessionSealed)
}

func TestExpire_RespectsRetentionWindow(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, WithClock(clock.Now))

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	require.NoError(t, p.Finish())
	waitSealed(t, s)

	// Zero consumers: still resumable inside the window.
	assert.Equal(t, 0, m.Expire(clock.Now().Add(59*time.Second)))
	c, err := m.Attach(t.Context(), testKey, 0)
	require.NoError(t, err)
	m.Detach(c)

	assert.Equal(t, 1, m.Expire(clock.Now().Add(time.Minute)))
	assert.Equal(t, StateExpired, s.State())

	_, err = m.Attach(t.Context(), testKey, 0)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestExpire_SkipsOpenSessions(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, WithClock(clock.Now))

	_, _, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)

	assert.Equal(t, 0, m.Expire(clock.Now().Add(24*time.Hour)))
	_, ok := m.Lookup(testKey)
	assert.True(t, ok)
}

func TestRun_SweepsExpiredSessions(t *testing.T) {
	m := NewManager(Config{Retention: time.Millisecond, SweepInterval: 5 * time.Millisecond})
	defer m.Close()

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	require.NoError(t, p.Finish())
	waitSealed(t, s)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := m.Lookup(testKey)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestJournal_RehydratesSealedStream(t *testing.T) {
	journal := newMemJournal()

	first := NewManager(Config{Namespace: "test", Retention: time.Hour}, WithJournal(journal))
	s, p, err := first.Open(t.Context(), testKey)
	require.NoError(t, err)
	_, err = p.Append(stream.TextDelta{Text: "hello"})
	require.NoError(t, err)
	require.NoError(t, p.Finish())
	waitSealed(t, s)
	want := s.Buffer().Snapshot(0)
	require.NoError(t, first.Close())

	// A new manager simulates a restart.
	second := newTestManager(t, WithJournal(journal))
	c, err := second.Attach(t.Context(), testKey, 0)
	require.NoError(t, err)

	got := collect(t, c)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Seq, got[i].Seq)
		assert.Equal(t, want[i].Payload, got[i].Payload)
	}

	rs, ok := second.Lookup(testKey)
	require.True(t, ok)
	assert.Equal(t, StateSealed, rs.State())
}

func TestJournal_TerminatesInterruptedStream(t *testing.T) {
	journal := newMemJournal()
	clock := newFakeClock()
	storageKey := testKey.Storage("test")
	require.NoError(t, journal.AppendStreamEvent(t.Context(), storageKey,
		stream.Event{Seq: 0, Time: clock.Now(), Payload: stream.TextDelta{Text: "half"}}))

	m := newTestManager(t, WithJournal(journal), WithClock(clock.Now))
	c, err := m.Attach(t.Context(), testKey, 0)
	require.NoError(t, err)

	events := collect(t, c)
	require.Len(t, events, 3)
	errEv, ok := events[1].Payload.(stream.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, stream.ErrorGenerationFailure, errEv.Kind)
	assert.True(t, events[2].IsEnd())

	stored, err := journal.LoadStream(t.Context(), storageKey)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestJournal_ExpiredStreamIsNotRehydrated(t *testing.T) {
	journal := newMemJournal()
	clock := newFakeClock()
	storageKey := testKey.Storage("test")
	old := clock.Now().Add(-2 * time.Minute)
	require.NoError(t, journal.AppendStreamEvent(t.Context(), storageKey,
		stream.Event{Seq: 0, Time: old, Payload: stream.End{}}))

	m := newTestManager(t, WithJournal(journal), WithClock(clock.Now))
	_, err := m.Attach(t.Context(), testKey, 0)
	assert.ErrorIs(t, err, ErrUnknownSession)

	stored, err := journal.LoadStream(t.Context(), storageKey)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestOpen_ClearsPreviousJournal(t *testing.T) {
	journal := newMemJournal()
	m := newTestManager(t, WithJournal(journal))

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	_, err = p.Append(stream.TextDelta{Text: "old"})
	require.NoError(t, err)
	require.NoError(t, p.Finish())
	waitSealed(t, s)

	_, p2, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	_, err = p2.Append(stream.TextDelta{Text: "new"})
	require.NoError(t, err)

	stored, err := journal.LoadStream(t.Context(), testKey.Storage("test"))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, stream.TextDelta{Text: "new"}, stored[0].Payload)
}

func TestClose_AbortsRunningTurns(t *testing.T) {
	m := NewManager(Config{})

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.ErrorIs(t, p.Context().Err(), context.Canceled)
	assert.Equal(t, StateSealed, s.State())

	_, _, err = m.Open(t.Context(), testKey)
	assert.True(t, errors.Is(err, ErrManagerClosed))
	assert.NoError(t, m.Close())
}

// stallingJournal blocks its next DeleteStream until released.
type stallingJournal struct {
	*memJournal
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newStallingJournal() *stallingJournal {
	return &stallingJournal{
		memJournal: newMemJournal(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (j *stallingJournal) arm() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.armed = true
}

func (j *stallingJournal) DeleteStream(ctx context.Context, key string) error {
	j.mu.Lock()
	stall := j.armed
	j.armed = false
	j.mu.Unlock()
	if stall {
		close(j.entered)
		<-j.release
	}
	return j.memJournal.DeleteStream(ctx, key)
}

func TestExpire_StalledDeleteDoesNotEraseNewerTurn(t *testing.T) {
	journal := newStallingJournal()
	clock := newFakeClock()
	m := newTestManager(t, WithJournal(journal), WithClock(clock.Now))

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	require.NoError(t, p.Finish())
	waitSealed(t, s)

	journal.arm()
	expired := make(chan int, 1)
	go func() { expired <- m.Expire(clock.Now().Add(time.Minute)) }()
	<-journal.entered

	type opened struct {
		p   *Producer
		err error
	}
	openDone := make(chan opened, 1)
	go func() {
		_, p, err := m.Open(context.Background(), testKey)
		openDone <- opened{p, err}
	}()

	select {
	case <-openDone:
		t.Fatal("Open ran while the expired stream was being deleted")
	case <-time.After(50 * time.Millisecond):
	}

	close(journal.release)
	assert.Equal(t, 1, <-expired)

	res := <-openDone
	require.NoError(t, res.err)
	require.NotNil(t, res.p)
	_, err = res.p.Append(stream.TextDelta{Text: "newer"})
	require.NoError(t, err)
	require.NoError(t, res.p.Finish())

	// A restart still finds the newer turn.
	restarted := newTestManager(t, WithJournal(journal.memJournal), WithClock(clock.Now))
	c, err := restarted.Attach(t.Context(), testKey, 0)
	require.NoError(t, err)
	events := collect(t, c)
	require.Len(t, events, 2)
	assert.Equal(t, stream.TextDelta{Text: "newer"}, events[0].Payload)
}

func TestOpenAdmitted_RejectionKeepsPreviousStream(t *testing.T) {
	journal := newMemJournal()
	m := newTestManager(t, WithJournal(journal))

	s, p, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	_, err = p.Append(stream.TextDelta{Text: "kept"})
	require.NoError(t, err)
	require.NoError(t, p.Finish())
	waitSealed(t, s)

	rejected := errors.New("already recorded")
	_, _, err = m.OpenAdmitted(t.Context(), testKey, func(context.Context) error { return rejected })
	require.ErrorIs(t, err, rejected)

	current, ok := m.Lookup(testKey)
	require.True(t, ok)
	assert.Same(t, s, current)

	stored, err := journal.LoadStream(t.Context(), testKey.Storage("test"))
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestOpenAdmitted_SkipsAdmissionWhileRunning(t *testing.T) {
	m := newTestManager(t)

	s1, _, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)

	called := false
	s2, p2, err := m.OpenAdmitted(t.Context(), testKey, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, p2)
	assert.Same(t, s1, s2)
	assert.False(t, called)
}

func TestAbort_AfterClose(t *testing.T) {
	m := NewManager(Config{})

	_, _, err := m.Open(t.Context(), testKey)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Abort(testKey, ""), ErrManagerClosed)
}
