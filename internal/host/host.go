// Package host models the execution engine the escrow runs inside: every
// public operation is one serialized call attributed to a single caller,
// evaluated against one clock reading, and either commits entirely or is
// rolled back entirely.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// ErrReentrantCall is returned when a call is issued from inside another
// call, e.g. by an external adapter calling back into the engine.
var ErrReentrantCall = errors.New("host: reentrant call rejected")

// Participant is state that takes part in whole-call rollback.
type Participant interface {
	Snapshot() any
	Restore(snapshot any)
}

// Committer is implemented by participants that keep per-call bookkeeping
// between Snapshot and the end of the call. Commit runs after a call
// succeeds, before sinks are notified.
type Committer interface {
	Commit()
}

// Sink receives the notifications of a committed call, in emission order.
// Sinks run while the call still holds the host; they may read engine state
// through the given context but must not start new calls.
type Sink interface {
	Publish(ctx context.Context, caller string, at time.Time, events []model.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, caller string, at time.Time, events []model.Event)

func (f SinkFunc) Publish(ctx context.Context, caller string, at time.Time, events []model.Event) {
	f(ctx, caller, at, events)
}

type txKey struct{}

// Tx is the unit of work handed to a call body.
type Tx struct {
	ctx    context.Context
	caller string
	now    time.Time
	events []model.Event
}

// Caller is the identity the call is attributed to.
func (tx *Tx) Caller() string { return tx.caller }

// Now is the clock reading taken when the call started.
func (tx *Tx) Now() time.Time { return tx.now }

// Context carries the in-call marker; pass it to adapters.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Emit buffers a notification until the call commits.
func (tx *Tx) Emit(ev model.Event) { tx.events = append(tx.events, ev) }

// Events returns the notifications buffered so far.
func (tx *Tx) Events() []model.Event { return tx.events }

// InCall reports whether ctx belongs to a running call.
func InCall(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*Tx)
	return ok
}

// Host serializes calls and rolls back registered participants on failure.
type Host struct {
	mu           sync.RWMutex
	clock        Clock
	participants []Participant
	sinks        []Sink
	log          *logrus.Entry
}

// New creates a host reading time from clock. A nil logger discards output.
func New(clock Clock, log *logrus.Entry) *Host {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return &Host{clock: clock, log: log.WithField("component", "host")}
}

// Register adds rollback participants. Call before serving traffic.
func (h *Host) Register(p ...Participant) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.participants = append(h.participants, p...)
}

// Subscribe adds notification sinks. Call before serving traffic.
func (h *Host) Subscribe(s ...Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s...)
}

// Clock returns the host clock.
func (h *Host) Clock() Clock { return h.clock }

// Execute runs fn as one atomic call on behalf of caller.
func (h *Host) Execute(ctx context.Context, caller string, fn func(tx *Tx) error) (err error) {
	if InCall(ctx) {
		return ErrReentrantCall
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	snapshots := make([]any, len(h.participants))
	for i, p := range h.participants {
		snapshots[i] = p.Snapshot()
	}

	tx := &Tx{caller: caller, now: h.clock.Now()}
	tx.ctx = context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host: call panicked: %v", r)
		}
		if err != nil {
			for i, p := range h.participants {
				p.Restore(snapshots[i])
			}
			h.log.WithError(err).WithField("caller", caller).Debug("call rolled back")
			return
		}
		for _, p := range h.participants {
			if c, ok := p.(Committer); ok {
				c.Commit()
			}
		}
		if len(tx.events) == 0 {
			return
		}
		for _, s := range h.sinks {
			s.Publish(tx.ctx, caller, tx.now, tx.events)
		}
	}()

	return fn(tx)
}

// View runs fn under a shared lock. Inside a call it runs inline.
func (h *Host) View(ctx context.Context, fn func() error) error {
	if InCall(ctx) {
		return fn()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn()
}
