package escrow

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// DepositCollateral tops up collateral until the agreement goes active. It
// receives min(amount, allowance, balance) and returns what it received.
func (e *Engine) DepositCollateral(ctx context.Context, manager string, id uint64, amount decimal.Decimal) (decimal.Decimal, error) {
	var received decimal.Decimal
	err := e.exec(ctx, "deposit_collateral", manager, func(tx *host.Tx) error {
		a, err := e.managed(id, manager)
		if err != nil {
			return err
		}
		if a.Status > model.StatusPublished {
			return fail(ErrInvalidState, "agreement %d is %s, deposits close after PUBLISHED", id, a.Status)
		}
		if err := requireWhole("amount", amount, false); err != nil {
			return err
		}

		received, err = ledger.PullCapped(tx.Context(), e.ledger, a.BaseCoin, manager, e.address, amount)
		if err != nil {
			return err
		}
		if received.IsZero() {
			return fail(ErrInsufficientResource, "nothing approved for agreement %d", id)
		}

		a.CollatAmount = a.CollatAmount.Add(received)
		a.FreeCollatAmount = a.FreeCollatAmount.Add(received)
		if a.Status == model.StatusEmpty {
			a.Status = model.StatusPopulated
		}
		e.addPosition(id, a.BaseCoin, received)

		tx.Emit(model.CollateralDeposited{AgreementID: id, Manager: manager, Amount: received})
		if short := amount.Sub(received); short.IsPositive() {
			tx.Emit(model.PendingCollateral{AgreementID: id, Manager: manager, Remaining: short})
		}

		e.log.WithFields(logrus.Fields{
			"agreement":  id,
			"requested":  amount.String(),
			"received":   received.String(),
			"collateral": a.CollatAmount.String(),
		}).Info("collateral deposited")
		return nil
	})
	return received, err
}

// WithdrawCollateral returns free collateral to the Manager before publish.
func (e *Engine) WithdrawCollateral(ctx context.Context, manager string, id uint64, amount decimal.Decimal) error {
	return e.exec(ctx, "withdraw_collateral", manager, func(tx *host.Tx) error {
		a, err := e.managed(id, manager)
		if err != nil {
			return err
		}
		if a.Status > model.StatusPopulated {
			return fail(ErrInvalidState, "agreement %d is %s, collateral is locked after publish", id, a.Status)
		}
		if err := requireWhole("amount", amount, false); err != nil {
			return err
		}
		if amount.GreaterThan(a.FreeCollatAmount) {
			return fail(ErrInsufficientResource, "requested %s, free collateral is %s", amount, a.FreeCollatAmount)
		}

		a.CollatAmount = a.CollatAmount.Sub(amount)
		a.FreeCollatAmount = a.FreeCollatAmount.Sub(amount)
		e.addPosition(id, a.BaseCoin, amount.Neg())

		if err := e.ledger.Transfer(tx.Context(), a.BaseCoin, e.address, manager, amount); err != nil {
			return err
		}
		tx.Emit(model.WithdrawCollateral{AgreementID: id, Manager: manager, Amount: amount})

		e.log.WithFields(logrus.Fields{
			"agreement":  id,
			"amount":     amount.String(),
			"collateral": a.CollatAmount.String(),
		}).Info("collateral withdrawn")
		return nil
	})
}

// WithdrawManagerCollateral releases whatever base coin is left after
// reserving what every unsettled mandate is entitled to, and settles the
// agreement. Positions must have been liquidated first.
func (e *Engine) WithdrawManagerCollateral(ctx context.Context, manager string, id uint64) (decimal.Decimal, error) {
	var withdrawable decimal.Decimal
	err := e.exec(ctx, "withdraw_manager_collateral", manager, func(tx *host.Tx) error {
		a, err := e.managed(id, manager)
		if err != nil {
			return err
		}
		if a.Status == model.StatusSettled {
			return fail(ErrAlreadyFinalized, "agreement %d already settled", id)
		}
		if !a.Status.Finished() {
			return fail(ErrInvalidState, "agreement %d is %s", id, a.Status)
		}
		if !a.Closed {
			return fail(ErrInvalidState, "positions of agreement %d are not liquidated", id)
		}

		reserve := decimal.Zero
		for _, mid := range a.MandateIDs {
			m := e.st.mandates[mid]
			if m.Settled {
				continue
			}
			fromProceeds, fromCollateral := e.entitlement(a, m)
			reserve = reserve.Add(fromProceeds).Add(fromCollateral)
		}
		balance := e.position(id, a.BaseCoin)
		withdrawable = decimal.Max(balance.Sub(reserve), decimal.Zero)

		a.ManagerWithdrawn = withdrawable
		a.Status = model.StatusSettled
		e.addPosition(id, a.BaseCoin, withdrawable.Neg())

		if withdrawable.IsPositive() {
			if err := e.ledger.Transfer(tx.Context(), a.BaseCoin, e.address, manager, withdrawable); err != nil {
				return err
			}
		}
		tx.Emit(model.ManagerCollateralWithdrawn{AgreementID: id, Manager: manager, Amount: withdrawable})

		e.log.WithFields(logrus.Fields{
			"agreement": id,
			"reserve":   reserve.String(),
			"amount":    withdrawable.String(),
		}).Info("manager collateral withdrawn")
		return nil
	})
	return withdrawable, err
}
