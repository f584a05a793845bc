// Package model defines the core domain types shared across the escrow engine.
// All monetary values use shopspring/decimal and are whole base units of the
// token they are denominated in; never float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle phase of an Agreement. Values only ever increase.
type Status uint8

const (
	StatusEmpty Status = iota
	StatusPopulated
	StatusPublished
	StatusActive
	StatusStoppedOut
	StatusClosedInProfit
	StatusExpired
	StatusSettled
)

var statusNames = [...]string{
	StatusEmpty:          "EMPTY",
	StatusPopulated:      "POPULATED",
	StatusPublished:      "PUBLISHED",
	StatusActive:         "ACTIVE",
	StatusStoppedOut:     "STOPPEDOUT",
	StatusClosedInProfit: "CLOSEDINPROFIT",
	StatusExpired:        "EXPIRED",
	StatusSettled:        "SETTLED",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN"
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("model: unknown status %q", string(b))
}

// Finished reports whether trading is over and settlement may begin.
func (s Status) Finished() bool {
	return s == StatusStoppedOut || s == StatusClosedInProfit || s == StatusExpired
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, 0, len(statusNames))
	for i := range statusNames {
		out = append(out, Status(i))
	}
	return out
}

// Agreement is a Manager's proposal: base coin, return/risk terms and the
// collateral backing them. Records live in an arena addressed by ID.
type Agreement struct {
	ID                           uint64          `json:"id"`
	Manager                      string          `json:"manager"`
	BaseCoin                     string          `json:"base_coin"`
	TargetReturnRate             uint32          `json:"target_return_rate"`               // percent
	MaxCollateralRateIfAvailable uint32          `json:"max_collateral_rate_if_available"` // percent, 0–100
	CollatAmount                 decimal.Decimal `json:"collat_amount"`
	FreeCollatAmount             decimal.Decimal `json:"free_collat_amount"`
	CommittedCapital             decimal.Decimal `json:"committed_capital"`
	OpenPeriod                   time.Duration   `json:"open_period"`
	ActivePeriod                 time.Duration   `json:"active_period"`
	PublishTimestamp             time.Time       `json:"publish_timestamp"`
	Status                       Status          `json:"status"`
	Closed                       bool            `json:"closed"` // positions liquidated

	// Settlement bookkeeping.
	SettledCapital   decimal.Decimal `json:"settled_capital"`
	CollateralDrawn  decimal.Decimal `json:"collateral_drawn"`
	ManagerWithdrawn decimal.Decimal `json:"manager_withdrawn"`

	MandateIDs []uint64  `json:"mandate_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// Clone returns a deep copy safe to hand outside the engine.
func (a *Agreement) Clone() *Agreement {
	c := *a
	c.MandateIDs = append([]uint64(nil), a.MandateIDs...)
	return &c
}

// Published reports whether publishTimestamp has been set.
func (a *Agreement) Published() bool {
	return a.Status >= StatusPublished && !a.PublishTimestamp.IsZero()
}

// OpenEnd is the end of the commitment window.
func (a *Agreement) OpenEnd() time.Time {
	return a.PublishTimestamp.Add(a.OpenPeriod)
}

// TradingEnd is the expiry instant: publish + open period + active period.
func (a *Agreement) TradingEnd() time.Time {
	return a.OpenEnd().Add(a.ActivePeriod)
}

// Mandate is one Investor commitment against an Agreement. Its allocation is
// fixed at creation.
type Mandate struct {
	ID                       uint64          `json:"id"`
	AgreementID              uint64          `json:"agreement_id"`
	Investor                 string          `json:"investor"`
	CapitalAmount            decimal.Decimal `json:"capital_amount"`
	AllocatedCollateral      decimal.Decimal `json:"allocated_collateral"`
	MinCollatRateRequirement uint32          `json:"min_collat_rate_requirement"` // percent
	Settled                  bool            `json:"settled"`
	Payout                   decimal.Decimal `json:"payout"`
	CreatedAt                time.Time       `json:"created_at"`
}

// AgreementBalance is the audit snapshot of an agreement's base-coin holdings
// taken around forced liquidation.
type AgreementBalance struct {
	Init    decimal.Decimal `json:"init"`
	Counted decimal.Decimal `json:"counted"`
}

// PositionKey addresses one TradingPosition.
type PositionKey struct {
	AgreementID uint64
	Token       string
}

// Position is a flattened TradingPosition for read APIs.
type Position struct {
	AgreementID uint64          `json:"agreement_id"`
	Token       string          `json:"token"`
	Amount      decimal.Decimal `json:"amount"`
}
