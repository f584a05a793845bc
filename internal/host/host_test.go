package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

type counter struct{ n int }

func (c *counter) Snapshot() any        { return c.n }
func (c *counter) Restore(snapshot any) { c.n = snapshot.(int) }

type recordingSink struct {
	callers []string
	events  []model.Event
}

func (s *recordingSink) Publish(_ context.Context, caller string, _ time.Time, events []model.Event) {
	s.callers = append(s.callers, caller)
	s.events = append(s.events, events...)
}

func newTestHost(t *testing.T) (*Host, *counter, *recordingSink, *ManualClock) {
	t.Helper()
	clock := NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h := New(clock, nil)
	c := &counter{}
	sink := &recordingSink{}
	h.Register(c)
	h.Subscribe(sink)
	return h, c, sink, clock
}

func TestExecute_CommitPublishesEvents(t *testing.T) {
	h, c, sink, clock := newTestHost(t)

	err := h.Execute(context.Background(), "alice", func(tx *Tx) error {
		assert.Equal(t, "alice", tx.Caller())
		assert.Equal(t, clock.Now(), tx.Now())
		c.n = 5
		tx.Emit(model.AgreementActivated{AgreementID: 7})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, c.n)
	require.Len(t, sink.events, 1)
	assert.Equal(t, model.TypeAgreementActivated, sink.events[0].EventType())
	assert.Equal(t, []string{"alice"}, sink.callers)
}

func TestExecute_ErrorRollsBack(t *testing.T) {
	h, c, sink, _ := newTestHost(t)
	c.n = 1

	boom := errors.New("boom")
	err := h.Execute(context.Background(), "alice", func(tx *Tx) error {
		c.n = 99
		tx.Emit(model.AgreementActivated{AgreementID: 1})
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.n)
	assert.Empty(t, sink.events)
}

func TestExecute_PanicRollsBack(t *testing.T) {
	h, c, _, _ := newTestHost(t)

	err := h.Execute(context.Background(), "alice", func(tx *Tx) error {
		c.n = 3
		panic("adapter exploded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter exploded")
	assert.Equal(t, 0, c.n)
}

func TestExecute_ReentrantCallRejected(t *testing.T) {
	h, c, _, _ := newTestHost(t)

	var inner error
	err := h.Execute(context.Background(), "alice", func(tx *Tx) error {
		c.n = 1
		inner = h.Execute(tx.Context(), "mallory", func(*Tx) error {
			c.n = 100
			return nil
		})
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, inner, ErrReentrantCall)
	assert.Equal(t, 1, c.n)
}

func TestView_InlineInsideCall(t *testing.T) {
	h, _, _, _ := newTestHost(t)

	viewed := false
	err := h.Execute(context.Background(), "alice", func(tx *Tx) error {
		return h.View(tx.Context(), func() error {
			viewed = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, viewed)
}

func TestManualClock_OnlyMovesForward(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	clock.Advance(-time.Hour)
	assert.Equal(t, start, clock.Now())

	clock.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), clock.Now())

	clock.Set(start)
	assert.Equal(t, start.Add(time.Hour), clock.Now())
}

type journaled struct {
	counter
	open      bool
	committed int
}

func (j *journaled) Snapshot() any {
	j.open = true
	return j.counter.Snapshot()
}

func (j *journaled) Restore(snapshot any) {
	j.open = false
	j.counter.Restore(snapshot)
}

func (j *journaled) Commit() {
	j.open = false
	j.committed++
}

func TestExecute_CommitHookRunsBeforeSinks(t *testing.T) {
	h, _, _, _ := newTestHost(t)
	j := &journaled{}
	h.Register(j)

	var openAtPublish bool
	h.Subscribe(SinkFunc(func(context.Context, string, time.Time, []model.Event) {
		openAtPublish = j.open
	}))

	require.NoError(t, h.Execute(context.Background(), "alice", func(tx *Tx) error {
		assert.True(t, j.open)
		tx.Emit(model.AgreementActivated{AgreementID: 1})
		return nil
	}))
	assert.Equal(t, 1, j.committed)
	assert.False(t, openAtPublish)

	err := h.Execute(context.Background(), "alice", func(*Tx) error { return errors.New("no") })
	require.Error(t, err)
	assert.Equal(t, 1, j.committed, "rolled back calls do not commit")
	assert.False(t, j.open)
}
