// Package escrow implements the collateralized capital-matching and trading
// escrow: agreement lifecycle, collateral accounting, FCFS mandate
// allocation, trading through an external venue, and settlement.
//
// Every public operation runs as one host call. Guard failures return an
// error wrapping one of the Err* kinds and the host rolls the whole call
// back, including ledger transfers already made inside it.
package escrow

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/exchange"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

const (
	DefaultAddress                = "escrow"
	DefaultLiquidationSlippageBps = 50
	DefaultLiquidationWindow      = 20 * time.Minute
)

var (
	hundred  = decimal.NewFromInt(100)
	bpsDenom = decimal.NewFromInt(10_000)
)

// Observer is told about every finished operation. The metrics package
// implements it.
type Observer interface {
	ObserveCall(op string, elapsed time.Duration, err error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithAddress sets the ledger identity the engine holds custody under.
func WithAddress(addr string) Option {
	return func(e *Engine) {
		if addr != "" {
			e.address = addr
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log.WithField("component", "engine")
		}
	}
}

// WithLiquidationSlippage bounds forced liquidation output to
// quote × (10000 − bps) / 10000.
func WithLiquidationSlippage(bps int64) Option {
	return func(e *Engine) {
		if bps >= 0 && bps < 10_000 {
			e.slippageBps = bps
		}
	}
}

// WithLiquidationWindow sets the deadline given to liquidation swaps.
func WithLiquidationWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithObserver reports every operation to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

type state struct {
	agreements []*model.Agreement
	mandates   []*model.Mandate
	positions  map[model.PositionKey]decimal.Decimal
	balances   map[uint64]model.AgreementBalance
}

func newState() state {
	return state{
		positions: make(map[model.PositionKey]decimal.Decimal),
		balances:  make(map[uint64]model.AgreementBalance),
	}
}

type priorPosition struct {
	value   decimal.Decimal
	present bool
}

type priorBalance struct {
	value   model.AgreementBalance
	present bool
}

// journal holds the pre-call value of every record a call touches, so a
// rollback only restores what changed.
type journal struct {
	agreements int
	mandates   int

	agreementWas map[uint64]*model.Agreement
	mandateWas   map[uint64]model.Mandate
	positionWas  map[model.PositionKey]priorPosition
	balanceWas   map[uint64]priorBalance
}

func newJournal(s *state) *journal {
	return &journal{
		agreements:   len(s.agreements),
		mandates:     len(s.mandates),
		agreementWas: make(map[uint64]*model.Agreement),
		mandateWas:   make(map[uint64]model.Mandate),
		positionWas:  make(map[model.PositionKey]priorPosition),
		balanceWas:   make(map[uint64]priorBalance),
	}
}

func (j *journal) rollback(s *state) {
	s.agreements = s.agreements[:j.agreements]
	s.mandates = s.mandates[:j.mandates]
	for id, a := range j.agreementWas {
		s.agreements[id] = a
	}
	for id, m := range j.mandateWas {
		mc := m
		s.mandates[id] = &mc
	}
	for k, p := range j.positionWas {
		if p.present {
			s.positions[k] = p.value
		} else {
			delete(s.positions, k)
		}
	}
	for id, b := range j.balanceWas {
		if b.present {
			s.balances[id] = b.value
		} else {
			delete(s.balances, id)
		}
	}
}

// Engine is the escrow. It owns no lock of its own: every access goes
// through the host, which serializes calls.
type Engine struct {
	host     *host.Host
	ledger   ledger.Ledger
	exchange exchange.Exchange
	log      *logrus.Entry
	observer Observer

	address     string
	slippageBps int64
	window      time.Duration

	st state
	// undo is non-nil only while a host call is running.
	undo *journal
}

// NewEngine creates an engine and registers it with h for rollback.
func NewEngine(h *host.Host, l ledger.Ledger, x exchange.Exchange, opts ...Option) *Engine {
	quiet := logrus.New()
	quiet.SetLevel(logrus.PanicLevel)

	e := &Engine{
		host:        h,
		ledger:      l,
		exchange:    x,
		log:         logrus.NewEntry(quiet),
		address:     DefaultAddress,
		slippageBps: DefaultLiquidationSlippageBps,
		window:      DefaultLiquidationWindow,
		st:          newState(),
	}
	for _, opt := range opts {
		opt(e)
	}
	h.Register(e)
	return e
}

// Address is the custody identity on the ledger.
func (e *Engine) Address() string { return e.address }

// Host returns the host the engine runs on.
func (e *Engine) Host() *host.Host { return e.host }

// Snapshot implements host.Participant. It opens a journal instead of
// copying state; records are saved the first time a call touches them.
func (e *Engine) Snapshot() any {
	e.undo = newJournal(&e.st)
	return e.undo
}

// Restore implements host.Participant.
func (e *Engine) Restore(snapshot any) {
	if j, ok := snapshot.(*journal); ok {
		j.rollback(&e.st)
	}
	e.undo = nil
}

// Commit implements host.Committer.
func (e *Engine) Commit() { e.undo = nil }

// exec runs fn as one host call and reports it.
func (e *Engine) exec(ctx context.Context, op, caller string, fn func(tx *host.Tx) error) error {
	start := time.Now()
	err := e.host.Execute(ctx, caller, fn)
	if e.observer != nil {
		e.observer.ObserveCall(op, time.Since(start), err)
	}
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"op":     op,
			"caller": caller,
			"kind":   KindOf(err),
		}).WithError(err).Debug("call rejected")
	}
	return err
}

func (e *Engine) view(ctx context.Context, fn func() error) error {
	return e.host.View(ctx, fn)
}

func (e *Engine) agreement(id uint64) (*model.Agreement, error) {
	if id >= uint64(len(e.st.agreements)) {
		return nil, fail(ErrNotFound, "agreement %d", id)
	}
	a := e.st.agreements[id]
	if j := e.undo; j != nil && id < uint64(j.agreements) {
		if _, saved := j.agreementWas[id]; !saved {
			j.agreementWas[id] = a.Clone()
		}
	}
	return a, nil
}

func (e *Engine) managed(id uint64, caller string) (*model.Agreement, error) {
	a, err := e.agreement(id)
	if err != nil {
		return nil, err
	}
	if a.Manager != caller {
		return nil, errNotManager
	}
	return a, nil
}

func (e *Engine) mandate(id uint64) (*model.Mandate, error) {
	if id >= uint64(len(e.st.mandates)) {
		return nil, fail(ErrNotFound, "mandate %d", id)
	}
	m := e.st.mandates[id]
	if j := e.undo; j != nil && id < uint64(j.mandates) {
		if _, saved := j.mandateWas[id]; !saved {
			j.mandateWas[id] = *m
		}
	}
	return m, nil
}

func (e *Engine) position(id uint64, token string) decimal.Decimal {
	return e.st.positions[model.PositionKey{AgreementID: id, Token: token}]
}

func (e *Engine) addPosition(id uint64, token string, delta decimal.Decimal) {
	k := model.PositionKey{AgreementID: id, Token: token}
	prev, present := e.st.positions[k]
	if j := e.undo; j != nil {
		if _, saved := j.positionWas[k]; !saved {
			j.positionWas[k] = priorPosition{value: prev, present: present}
		}
	}
	v := prev.Add(delta)
	if v.IsZero() {
		delete(e.st.positions, k)
		return
	}
	e.st.positions[k] = v
}

func (e *Engine) setBalance(id uint64, bal model.AgreementBalance) {
	if j := e.undo; j != nil {
		if _, saved := j.balanceWas[id]; !saved {
			prev, present := e.st.balances[id]
			j.balanceWas[id] = priorBalance{value: prev, present: present}
		}
	}
	e.st.balances[id] = bal
}

// tokensOf lists the agreement's non-base tokens with a positive position,
// sorted.
func (e *Engine) tokensOf(a *model.Agreement) []string {
	var out []string
	for k, v := range e.st.positions {
		if k.AgreementID == a.ID && k.Token != a.BaseCoin && v.IsPositive() {
			out = append(out, k.Token)
		}
	}
	sort.Strings(out)
	return out
}

// guarantee is capital × (100 + rate) / 100, truncated.
func guarantee(capital decimal.Decimal, rate uint32) decimal.Decimal {
	return mulDiv(capital, hundred.Add(decimal.NewFromInt(int64(rate))), hundred)
}

func mulDiv(x, num, den decimal.Decimal) decimal.Decimal {
	q, _ := x.Mul(num).QuoRem(den, 0)
	return q
}

func requireWhole(name string, v decimal.Decimal, allowZero bool) error {
	if !v.IsInteger() {
		return fail(ErrInvalidArgument, "%s must be whole base units, got %s", name, v)
	}
	if v.IsNegative() || (!allowZero && v.IsZero()) {
		return fail(ErrInvalidArgument, "%s must be positive, got %s", name, v)
	}
	return nil
}
