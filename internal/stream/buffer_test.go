// ABOUTME: Tests for the stream buffer, producer lease, and cursors.
// ABOUTME: Covers replay-then-live reads, resumption, sealing, journaling, and concurrency.

package stream

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
)

func text(s string) Payload { return TextDelta{Text: s} }

func newProducer(t *testing.T) (*Buffer, *Lease) {
	t.Helper()
	b := NewBuffer("test:scope:c1")
	lease, err := b.Acquire()
	require.NoError(t, err)
	return b, lease
}

func drain(t *testing.T, c *Cursor) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	var out []Event
	for ev, err := range c.Events(ctx) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func texts(events []Event) []string {
	var out []string
	for _, ev := range events {
		if td, ok := ev.Payload.(TextDelta); ok {
			out = append(out, td.Text)
		}
	}
	return out
}

func TestBuffer_AppendAssignsSequentialSeqs(t *testing.T) {
	b, lease := newProducer(t)

	for i := range 3 {
		seq, err := b.Append(lease, text(strconv.Itoa(i)))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	assert.Equal(t, 3, b.Len())
	assert.False(t, b.Sealed())
}

func TestBuffer_AppendRequiresLease(t *testing.T) {
	b, lease := newProducer(t)

	_, err := b.Append(nil, text("x"))
	assert.ErrorIs(t, err, ErrNotProducer)

	other := &Lease{id: "forged", buf: b}
	_, err = b.Append(other, text("x"))
	assert.ErrorIs(t, err, ErrNotProducer)

	_, err = b.Append(lease, text("ok"))
	assert.NoError(t, err)
}

func TestBuffer_AcquireIsExclusive(t *testing.T) {
	b, lease := newProducer(t)

	_, err := b.Acquire()
	assert.ErrorIs(t, err, ErrLeaseHeld)

	lease.Release()
	second, err := b.Acquire()
	require.NoError(t, err)

	_, err = b.Append(lease, text("stale"))
	assert.ErrorIs(t, err, ErrNotProducer)
	_, err = b.Append(second, text("fresh"))
	assert.NoError(t, err)
}

func TestBuffer_EndSealsAndRejectsFurtherAppends(t *testing.T) {
	b, lease := newProducer(t)

	_, err := b.Append(lease, text("a"))
	require.NoError(t, err)
	_, err = b.Append(lease, End{})
	require.NoError(t, err)

	assert.True(t, b.Sealed())
	select {
	case <-b.Done():
	default:
		t.Fatal("done channel should be closed after End")
	}

	_, err = b.Append(lease, text("late"))
	assert.ErrorIs(t, err, ErrSessionSealed)

	_, err = b.Acquire()
	assert.ErrorIs(t, err, ErrSessionSealed)
}

func TestBuffer_SealIsIdempotentAndAppendsSingleEnd(t *testing.T) {
	b, lease := newProducer(t)
	_, err := b.Append(lease, text("a"))
	require.NoError(t, err)

	assert.True(t, b.Seal())
	assert.False(t, b.Seal())
	assert.False(t, b.Seal())

	events := b.Snapshot(0)
	require.Len(t, events, 2)
	assert.True(t, events[1].IsEnd())
}

func TestBuffer_AppendTerminal(t *testing.T) {
	b, lease := newProducer(t)
	_, err := b.Append(lease, text("partial"))
	require.NoError(t, err)

	err = b.AppendTerminal(ErrorEvent{Kind: ErrorCancelled, Message: "stopped"})
	require.NoError(t, err)

	events := b.Snapshot(0)
	require.Len(t, events, 3)
	assert.Equal(t, KindError, events[1].Kind())
	assert.True(t, events[2].IsEnd())

	_, err = b.Append(lease, text("after"))
	assert.ErrorIs(t, err, ErrSessionSealed)
	assert.ErrorIs(t, b.AppendTerminal(), ErrSessionSealed)
}

// Scenario B: attach after five events and the seal; replay is finite.
func TestCursor_ReplaySealedBufferIsFinite(t *testing.T) {
	b, lease := newProducer(t)
	for i := range 5 {
		_, err := b.Append(lease, text(strconv.Itoa(i)))
		require.NoError(t, err)
	}
	require.True(t, b.Seal())

	events := drain(t, b.ReadFrom(0))
	require.Len(t, events, 6)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, texts(events))
	assert.True(t, events[5].IsEnd())
}

func TestCursor_FollowsLiveAppends(t *testing.T) {
	b, lease := newProducer(t)
	c := b.ReadFrom(0)

	got := make(chan []Event, 1)
	go func() {
		var out []Event
		for ev, err := range c.Events(context.Background()) {
			if err != nil {
				break
			}
			out = append(out, ev)
		}
		got <- out
	}()

	for i := range 10 {
		_, err := b.Append(lease, text(strconv.Itoa(i)))
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	_, err := b.Append(lease, End{})
	require.NoError(t, err)

	select {
	case events := <-got:
		require.Len(t, events, 11)
		for i, ev := range events {
			assert.Equal(t, uint64(i), ev.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live cursor did not finish")
	}
}

func TestCursor_ResumeFromOffsetHasNoGapsOrDuplicates(t *testing.T) {
	b, lease := newProducer(t)

	var want []string
	for i := range 20 {
		s := strconv.Itoa(i)
		want = append(want, s)
		_, err := b.Append(lease, text(s))
		require.NoError(t, err)
	}
	_, err := b.Append(lease, End{})
	require.NoError(t, err)

	// Read a few events at a time, detaching and reattaching at the last offset.
	var seen []Event
	offset := uint64(0)
	for {
		c := b.ReadFrom(offset)
		var finished bool
		for range 3 {
			ev, err := c.Next(t.Context())
			if errors.Is(err, io.EOF) {
				finished = true
				break
			}
			require.NoError(t, err)
			seen = append(seen, ev)
		}
		offset = c.Offset()
		c.Close()
		if finished {
			break
		}
	}

	require.Len(t, seen, 21)
	assert.Equal(t, want, texts(seen))
	for i, ev := range seen {
		assert.Equal(t, uint64(i), ev.Seq)
	}
}

// Scenario C: consumers at offsets 2 and 4 observe the same relative order.
func TestCursor_ConcurrentConsumersSeeSameOrder(t *testing.T) {
	b, lease := newProducer(t)
	for i := range 5 {
		_, err := b.Append(lease, text(strconv.Itoa(i)))
		require.NoError(t, err)
	}

	results := make([][]Event, 2)
	var wg sync.WaitGroup
	for i, offset := range []uint64{2, 4} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev, err := range b.ReadFrom(offset).Events(context.Background()) {
				if err != nil {
					return
				}
				results[i] = append(results[i], ev)
			}
		}()
	}

	for i := 5; i < 15; i++ {
		_, err := b.Append(lease, text(strconv.Itoa(i)))
		require.NoError(t, err)
	}
	_, err := b.Append(lease, End{})
	require.NoError(t, err)
	wg.Wait()

	require.Len(t, results[0], 14)
	require.Len(t, results[1], 12)
	assert.Equal(t, uint64(2), results[0][0].Seq)
	assert.Equal(t, uint64(4), results[1][0].Seq)
	assert.Equal(t, results[0][2:], results[1])
}

func TestCursor_CloseUnblocksWaiter(t *testing.T) {
	b, _ := newProducer(t)
	c := b.ReadFrom(0)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCursorClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Next")
	}
	// Closing twice is safe
	c.Close()
}

func TestCursor_ContextCancellation(t *testing.T) {
	b, _ := newProducer(t)
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := b.ReadFrom(0).Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCursor_SlowConsumerDoesNotBlockProducer(t *testing.T) {
	b, lease := newProducer(t)
	_ = b.ReadFrom(0) // never read

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10_000 {
			if _, err := b.Append(lease, text(strconv.Itoa(i))); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked by idle consumer")
	}
	assert.Equal(t, 10_000, b.Len())
}

func TestBuffer_Reclaim(t *testing.T) {
	b, lease := newProducer(t)
	_, err := b.Append(lease, text("a"))
	require.NoError(t, err)
	b.Seal()

	c := b.ReadFrom(0)
	b.Reclaim()

	_, err = c.Next(t.Context())
	assert.ErrorIs(t, err, ErrReclaimed)
	assert.False(t, b.Seal())
}

type memJournal struct {
	mu     sync.Mutex
	events map[string][]Event
	err    error
}

func (j *memJournal) AppendStreamEvent(_ context.Context, key string, ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	if j.events == nil {
		j.events = make(map[string][]Event)
	}
	j.events[key] = append(j.events[key], ev)
	return nil
}

func TestBuffer_JournalMirrorsEveryEvent(t *testing.T) {
	j := &memJournal{}
	b := NewBuffer("ns:s:c", WithJournal(j))
	lease, err := b.Acquire()
	require.NoError(t, err)

	_, err = b.Append(lease, StatusUpdate{Phase: agent.PhaseRouting, Agent: agent.KindTriage})
	require.NoError(t, err)
	_, err = b.Append(lease, text("hi"))
	require.NoError(t, err)
	b.Seal()

	require.Len(t, j.events["ns:s:c"], 3)
	assert.Equal(t, b.Snapshot(0), j.events["ns:s:c"])
}

func TestBuffer_JournalFailureDoesNotFailAppend(t *testing.T) {
	j := &memJournal{err: errors.New("disk full")}
	b := NewBuffer("ns:s:c", WithJournal(j))
	lease, err := b.Acquire()
	require.NoError(t, err)

	_, err = b.Append(lease, text("hi"))
	assert.NoError(t, err)
}

func TestRestore(t *testing.T) {
	src, lease := newProducer(t)
	_, err := src.Append(lease, text("a"))
	require.NoError(t, err)
	src.Seal()

	restored, err := Restore("k", src.Snapshot(0))
	require.NoError(t, err)
	assert.True(t, restored.Sealed())
	assert.Equal(t, src.Snapshot(0), drain(t, restored.ReadFrom(0)))

	_, err = Restore("k", nil)
	assert.Error(t, err)

	// Missing End
	_, err = Restore("k", src.Snapshot(0)[:1])
	assert.Error(t, err)

	// Gap
	gapped := src.Snapshot(0)
	gapped[1].Seq = 5
	_, err = Restore("k", gapped)
	assert.Error(t, err)
}
