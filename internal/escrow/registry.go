package escrow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// AgreementTerms is the Manager's proposal passed to CreateAgreement.
type AgreementTerms struct {
	BaseCoin                     string          `json:"base_coin"`
	TargetReturnRate             uint32          `json:"target_return_rate"`
	MaxCollateralRateIfAvailable uint32          `json:"max_collateral_rate_if_available"`
	CollatAmount                 decimal.Decimal `json:"collat_amount"`
	OpenPeriod                   time.Duration   `json:"open_period"`
	ActivePeriod                 time.Duration   `json:"active_period"`
}

func (t AgreementTerms) validate() error {
	if t.BaseCoin == "" {
		return fail(ErrInvalidArgument, "base coin is required")
	}
	if t.TargetReturnRate > 100 {
		return fail(ErrInvalidArgument, "target return rate %d out of [0,100]", t.TargetReturnRate)
	}
	if t.MaxCollateralRateIfAvailable > 100 {
		return fail(ErrInvalidArgument, "max collateral rate %d out of [0,100]", t.MaxCollateralRateIfAvailable)
	}
	if t.OpenPeriod <= 0 || t.ActivePeriod <= 0 {
		return fail(ErrInvalidArgument, "open and active periods must be positive")
	}
	return requireWhole("collateral amount", t.CollatAmount, true)
}

// CreateAgreement registers a new agreement managed by manager and pulls as
// much of the requested collateral as the Manager has approved.
func (e *Engine) CreateAgreement(ctx context.Context, manager string, terms AgreementTerms) (uint64, error) {
	var id uint64
	err := e.exec(ctx, "create_agreement", manager, func(tx *host.Tx) error {
		if manager == "" {
			return fail(ErrInvalidArgument, "manager is required")
		}
		if err := terms.validate(); err != nil {
			return err
		}

		id = uint64(len(e.st.agreements))
		a := &model.Agreement{
			ID:                           id,
			Manager:                      manager,
			BaseCoin:                     terms.BaseCoin,
			TargetReturnRate:             terms.TargetReturnRate,
			MaxCollateralRateIfAvailable: terms.MaxCollateralRateIfAvailable,
			OpenPeriod:                   terms.OpenPeriod,
			ActivePeriod:                 terms.ActivePeriod,
			Status:                       model.StatusEmpty,
			CreatedAt:                    tx.Now(),
		}
		e.st.agreements = append(e.st.agreements, a)

		received, err := ledger.PullCapped(tx.Context(), e.ledger, a.BaseCoin, manager, e.address, terms.CollatAmount)
		if err != nil {
			return err
		}
		if received.IsPositive() {
			a.CollatAmount = received
			a.FreeCollatAmount = received
			a.Status = model.StatusPopulated
			e.addPosition(id, a.BaseCoin, received)
		}

		tx.Emit(model.CreateAgreement{AgreementTerms: model.TermsOf(a)})
		if short := terms.CollatAmount.Sub(received); short.IsPositive() {
			tx.Emit(model.PendingCollateral{AgreementID: id, Manager: manager, Remaining: short})
		}

		e.log.WithFields(logrus.Fields{
			"agreement": id,
			"manager":   manager,
			"base_coin": a.BaseCoin,
			"requested": terms.CollatAmount.String(),
			"received":  received.String(),
		}).Info("agreement created")
		return nil
	})
	return id, err
}

// PublishAgreement opens the agreement for commitments. Terms and
// collateral can no longer be reduced afterwards.
func (e *Engine) PublishAgreement(ctx context.Context, manager string, id uint64) error {
	return e.exec(ctx, "publish_agreement", manager, func(tx *host.Tx) error {
		a, err := e.managed(id, manager)
		if err != nil {
			return err
		}
		if a.Status > model.StatusPopulated {
			return fail(ErrInvalidState, "agreement %d already published (%s)", id, a.Status)
		}
		a.PublishTimestamp = tx.Now()
		a.Status = model.StatusPublished
		tx.Emit(model.PublishAgreement{AgreementTerms: model.TermsOf(a)})

		e.log.WithFields(logrus.Fields{
			"agreement":  id,
			"collateral": a.CollatAmount.String(),
			"open_end":   a.OpenEnd(),
		}).Info("agreement published")
		return nil
	})
}

// ActivateAgreement starts trading once the open period is over.
func (e *Engine) ActivateAgreement(ctx context.Context, manager string, id uint64) error {
	return e.exec(ctx, "activate_agreement", manager, func(tx *host.Tx) error {
		a, err := e.managed(id, manager)
		if err != nil {
			return err
		}
		if a.Status != model.StatusPublished {
			return fail(ErrInvalidState, "agreement %d is %s, want PUBLISHED", id, a.Status)
		}
		if tx.Now().Before(a.OpenEnd()) {
			return fail(ErrTimingViolation, "open period of agreement %d ends at %s", id, a.OpenEnd())
		}
		a.Status = model.StatusActive
		tx.Emit(model.AgreementActivated{AgreementID: id})

		e.log.WithFields(logrus.Fields{
			"agreement":         id,
			"committed_capital": a.CommittedCapital.String(),
		}).Info("agreement activated")
		return nil
	})
}

// SetExpiredAgreement may be called by anyone once the active period is
// over.
func (e *Engine) SetExpiredAgreement(ctx context.Context, caller string, id uint64) error {
	return e.exec(ctx, "set_expired", caller, func(tx *host.Tx) error {
		a, err := e.agreement(id)
		if err != nil {
			return err
		}
		if a.Status != model.StatusPublished && a.Status != model.StatusActive {
			return fail(ErrInvalidState, "agreement %d is %s", id, a.Status)
		}
		if tx.Now().Before(a.TradingEnd()) {
			return fail(ErrTimingViolation, "agreement %d runs until %s", id, a.TradingEnd())
		}
		a.Status = model.StatusExpired
		tx.Emit(model.AgreementExpired{AgreementID: id})

		e.log.WithFields(logrus.Fields{"agreement": id, "caller": caller}).Info("agreement expired")
		return nil
	})
}

// Agreement returns a copy of the agreement record.
func (e *Engine) Agreement(ctx context.Context, id uint64) (*model.Agreement, error) {
	var out *model.Agreement
	err := e.view(ctx, func() error {
		a, err := e.agreement(id)
		if err != nil {
			return err
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

// Agreements returns copies of every agreement in id order.
func (e *Engine) Agreements(ctx context.Context) []*model.Agreement {
	var out []*model.Agreement
	_ = e.view(ctx, func() error {
		out = make([]*model.Agreement, len(e.st.agreements))
		for i, a := range e.st.agreements {
			out[i] = a.Clone()
		}
		return nil
	})
	return out
}

func (e *Engine) AgreementStatus(ctx context.Context, id uint64) (model.Status, error) {
	a, err := e.Agreement(ctx, id)
	if err != nil {
		return model.StatusEmpty, err
	}
	return a.Status, nil
}

func (e *Engine) AgreementCollateral(ctx context.Context, id uint64) (decimal.Decimal, error) {
	a, err := e.Agreement(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return a.CollatAmount, nil
}

func (e *Engine) AgreementFreeCollateral(ctx context.Context, id uint64) (decimal.Decimal, error) {
	a, err := e.Agreement(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return a.FreeCollatAmount, nil
}

func (e *Engine) AgreementCommittedCapital(ctx context.Context, id uint64) (decimal.Decimal, error) {
	a, err := e.Agreement(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return a.CommittedCapital, nil
}

func (e *Engine) AgreementBaseCoin(ctx context.Context, id uint64) (string, error) {
	a, err := e.Agreement(ctx, id)
	if err != nil {
		return "", err
	}
	return a.BaseCoin, nil
}
