package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Notification type names.
const (
	TypeCreateAgreement            = "CreateAgreement"
	TypePendingCollateral          = "PendingCollateral"
	TypePublishAgreement           = "PublishAgreement"
	TypeCollateralDeposited        = "CollateralDeposited"
	TypeWithdrawCollateral         = "WithdrawCollateral"
	TypeCommitToAgreement          = "CommitToAgreement"
	TypeAgreementActivated         = "AgreementActivated"
	TypeTraded                     = "Traded"
	TypeAgreementExpired           = "AgreementExpired"
	TypeAgreementClosed            = "AgreementClosed"
	TypeManagerCollateralWithdrawn = "ManagerCollateralWithdrawn"
	TypeMandateSettled             = "MandateSettled"
)

// Event is a notification emitted by a committed engine operation.
type Event interface {
	EventType() string
	Agreement() uint64
}

// AgreementTerms is the payload shared by CreateAgreement and PublishAgreement.
type AgreementTerms struct {
	AgreementID                  uint64          `json:"agreement_id"`
	Manager                      string          `json:"manager"`
	BaseCoin                     string          `json:"base_coin"`
	TargetReturnRate             uint32          `json:"target_return_rate"`
	MaxCollateralRateIfAvailable uint32          `json:"max_collateral_rate_if_available"`
	CollatAmount                 decimal.Decimal `json:"collat_amount"`
	CommittedCapital             decimal.Decimal `json:"committed_capital"`
	OpenPeriod                   time.Duration   `json:"open_period"`
	ActivePeriod                 time.Duration   `json:"active_period"`
	PublishTimestamp             time.Time       `json:"publish_timestamp"`
}

// TermsOf captures the notification payload for an agreement.
func TermsOf(a *Agreement) AgreementTerms {
	return AgreementTerms{
		AgreementID:                  a.ID,
		Manager:                      a.Manager,
		BaseCoin:                     a.BaseCoin,
		TargetReturnRate:             a.TargetReturnRate,
		MaxCollateralRateIfAvailable: a.MaxCollateralRateIfAvailable,
		CollatAmount:                 a.CollatAmount,
		CommittedCapital:             a.CommittedCapital,
		OpenPeriod:                   a.OpenPeriod,
		ActivePeriod:                 a.ActivePeriod,
		PublishTimestamp:             a.PublishTimestamp,
	}
}

type CreateAgreement struct{ AgreementTerms }

func (CreateAgreement) EventType() string   { return TypeCreateAgreement }
func (e CreateAgreement) Agreement() uint64 { return e.AgreementID }

type PublishAgreement struct{ AgreementTerms }

func (PublishAgreement) EventType() string   { return TypePublishAgreement }
func (e PublishAgreement) Agreement() uint64 { return e.AgreementID }

// PendingCollateral reports the part of a collateral request that the
// Manager's allowance did not cover.
type PendingCollateral struct {
	AgreementID uint64          `json:"agreement_id"`
	Manager     string          `json:"manager"`
	Remaining   decimal.Decimal `json:"remaining"`
}

func (PendingCollateral) EventType() string   { return TypePendingCollateral }
func (e PendingCollateral) Agreement() uint64 { return e.AgreementID }

type CollateralDeposited struct {
	AgreementID uint64          `json:"agreement_id"`
	Manager     string          `json:"manager"`
	Amount      decimal.Decimal `json:"amount"`
}

func (CollateralDeposited) EventType() string   { return TypeCollateralDeposited }
func (e CollateralDeposited) Agreement() uint64 { return e.AgreementID }

type WithdrawCollateral struct {
	AgreementID uint64          `json:"agreement_id"`
	Manager     string          `json:"manager"`
	Amount      decimal.Decimal `json:"amount"`
}

func (WithdrawCollateral) EventType() string   { return TypeWithdrawCollateral }
func (e WithdrawCollateral) Agreement() uint64 { return e.AgreementID }

type CommitToAgreement struct {
	AgreementID         uint64          `json:"agreement_id"`
	MandateID           uint64          `json:"mandate_id"`
	Investor            string          `json:"investor"`
	CapitalAmount       decimal.Decimal `json:"capital_amount"`
	AllocatedCollateral decimal.Decimal `json:"allocated_collateral"`
}

func (CommitToAgreement) EventType() string   { return TypeCommitToAgreement }
func (e CommitToAgreement) Agreement() uint64 { return e.AgreementID }

type AgreementActivated struct {
	AgreementID uint64 `json:"agreement_id"`
}

func (AgreementActivated) EventType() string   { return TypeAgreementActivated }
func (e AgreementActivated) Agreement() uint64 { return e.AgreementID }

type Traded struct {
	AgreementID uint64          `json:"agreement_id"`
	TokenIn     string          `json:"token_in"`
	TokenOut    string          `json:"token_out"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	AmountOut   decimal.Decimal `json:"amount_out"`
}

func (Traded) EventType() string   { return TypeTraded }
func (e Traded) Agreement() uint64 { return e.AgreementID }

type AgreementExpired struct {
	AgreementID uint64 `json:"agreement_id"`
}

func (AgreementExpired) EventType() string   { return TypeAgreementExpired }
func (e AgreementExpired) Agreement() uint64 { return e.AgreementID }

// AgreementClosed is emitted once positions have been liquidated.
type AgreementClosed struct {
	AgreementID uint64          `json:"agreement_id"`
	Status      Status          `json:"status"`
	Init        decimal.Decimal `json:"init"`
	Counted     decimal.Decimal `json:"counted"`
}

func (AgreementClosed) EventType() string   { return TypeAgreementClosed }
func (e AgreementClosed) Agreement() uint64 { return e.AgreementID }

type ManagerCollateralWithdrawn struct {
	AgreementID uint64          `json:"agreement_id"`
	Manager     string          `json:"manager"`
	Amount      decimal.Decimal `json:"amount"`
}

func (ManagerCollateralWithdrawn) EventType() string   { return TypeManagerCollateralWithdrawn }
func (e ManagerCollateralWithdrawn) Agreement() uint64 { return e.AgreementID }

type MandateSettled struct {
	AgreementID    uint64          `json:"agreement_id"`
	MandateID      uint64          `json:"mandate_id"`
	Investor       string          `json:"investor"`
	Payout         decimal.Decimal `json:"payout"`
	FromProceeds   decimal.Decimal `json:"from_proceeds"`
	FromCollateral decimal.Decimal `json:"from_collateral"`
}

func (MandateSettled) EventType() string   { return TypeMandateSettled }
func (e MandateSettled) Agreement() uint64 { return e.AgreementID }

// EventRecord is the immutable journal form of a notification.
// Once stored, records are never modified or deleted.
type EventRecord struct {
	ID          string          `json:"id" db:"id"`
	Type        string          `json:"type" db:"type"`
	AgreementID uint64          `json:"agreement_id" db:"agreement_id"`
	Caller      string          `json:"caller" db:"caller"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}
