package escrow

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/exchange"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// SettleMandate pays the investor capital × (100 + targetReturnRate) / 100.
// The payout comes first from the mandate's pro-rata share of trading
// proceeds and then from the collateral allocated to that mandate, so the
// order in which mandates settle does not change what each receives.
func (e *Engine) SettleMandate(ctx context.Context, caller string, id, mandateID uint64) (decimal.Decimal, error) {
	var payout decimal.Decimal
	err := e.exec(ctx, "settle_mandate", caller, func(tx *host.Tx) error {
		a, err := e.agreement(id)
		if err != nil {
			return err
		}
		m, err := e.mandate(mandateID)
		if err != nil {
			return err
		}
		if m.AgreementID != id {
			return fail(ErrNotFound, "mandate %d of agreement %d", mandateID, id)
		}
		if caller != m.Investor && caller != a.Manager {
			return fail(ErrAccessDenied, "caller is neither investor nor manager of mandate %d", mandateID)
		}
		if !a.Status.Finished() && a.Status != model.StatusSettled {
			return fail(ErrInvalidState, "agreement %d is %s", id, a.Status)
		}
		if !a.Closed {
			return fail(ErrInvalidState, "positions of agreement %d are not liquidated", id)
		}
		if m.Settled {
			return fail(ErrAlreadyFinalized, "mandate %d already settled", mandateID)
		}

		owed := guarantee(m.CapitalAmount, a.TargetReturnRate)
		fromProceeds, fromCollateral := e.entitlement(a, m)
		payout = fromProceeds.Add(fromCollateral)
		if balance := e.position(id, a.BaseCoin); payout.GreaterThan(balance) {
			return fail(ErrInsufficientResource, "agreement %d holds %s, mandate %d is entitled to %s",
				id, balance, mandateID, payout)
		}

		m.Settled = true
		m.Payout = payout
		a.SettledCapital = a.SettledCapital.Add(m.CapitalAmount)
		a.CollateralDrawn = a.CollateralDrawn.Add(fromCollateral)
		e.addPosition(id, a.BaseCoin, payout.Neg())

		if payout.IsPositive() {
			if err := e.ledger.Transfer(tx.Context(), a.BaseCoin, e.address, m.Investor, payout); err != nil {
				return err
			}
		}
		tx.Emit(model.MandateSettled{
			AgreementID:    id,
			MandateID:      mandateID,
			Investor:       m.Investor,
			Payout:         payout,
			FromProceeds:   fromProceeds,
			FromCollateral: fromCollateral,
		})

		fields := logrus.Fields{
			"agreement":       id,
			"mandate":         mandateID,
			"investor":        m.Investor,
			"owed":            owed.String(),
			"payout":          payout.String(),
			"from_collateral": fromCollateral.String(),
		}
		if payout.LessThan(owed) {
			e.log.WithFields(fields).Warn("mandate settled short")
		} else {
			e.log.WithFields(fields).Info("mandate settled")
		}
		return nil
	})
	return payout, err
}

// entitlement is what mandate m receives at settlement: its pro-rata share
// of the trading proceeds, capped at the guarantee, topped up from the
// collateral allocated to it. Proceeds are the base coin counted at
// liquidation above the posted collateral.
func (e *Engine) entitlement(a *model.Agreement, m *model.Mandate) (fromProceeds, fromCollateral decimal.Decimal) {
	owed := guarantee(m.CapitalAmount, a.TargetReturnRate)
	proceeds := decimal.Max(e.st.balances[a.ID].Counted.Sub(a.CollatAmount), decimal.Zero)
	share := decimal.Zero
	if a.CommittedCapital.IsPositive() {
		share = mulDiv(proceeds, m.CapitalAmount, a.CommittedCapital)
	}
	fromProceeds = decimal.Min(owed, share)
	fromCollateral = decimal.Min(owed.Sub(fromProceeds), m.AllocatedCollateral)
	return fromProceeds, fromCollateral
}

// CountProfit is the trading result in base coin: base holdings minus
// posted collateral minus committed capital. Once the agreement is closed
// the holdings counted at liquidation are used, so settlement and the
// Manager's withdrawal do not move the figure. It returns the magnitude and
// whether it is non-negative.
func (e *Engine) CountProfit(ctx context.Context, id uint64) (decimal.Decimal, bool, error) {
	var profit decimal.Decimal
	err := e.view(ctx, func() error {
		a, err := e.agreement(id)
		if err != nil {
			return err
		}
		holdings := e.position(id, a.BaseCoin)
		if bal, ok := e.st.balances[id]; ok && a.Closed {
			holdings = bal.Counted
		}
		profit = holdings.Sub(a.CollatAmount).Sub(a.CommittedCapital)
		return nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	return profit.Abs(), !profit.IsNegative(), nil
}

// CalcAmount estimates the output of selling amountBase at priceBase for a
// token priced priceQuote, net of the venue fee:
//
//	g = amountBase × priceBase / priceQuote
//	out = g − g×3/1000
func CalcAmount(amountBase, priceBase, priceQuote decimal.Decimal) (decimal.Decimal, error) {
	if !priceBase.IsPositive() || !priceQuote.IsPositive() {
		return decimal.Zero, fail(ErrInvalidArgument, "prices must be positive")
	}
	if amountBase.IsNegative() {
		return decimal.Zero, fail(ErrInvalidArgument, "amount must not be negative")
	}
	return exchange.ApplyFee(mulDiv(amountBase, priceBase, priceQuote)), nil
}

// CalcPureProfit estimates the signed result of a round trip: the exit
// value of amountBase at the reversed prices, minus amountBase.
func CalcPureProfit(amountBase, priceBase, priceQuote decimal.Decimal) (decimal.Decimal, error) {
	back, err := CalcAmount(amountBase, priceQuote, priceBase)
	if err != nil {
		return decimal.Zero, err
	}
	return back.Sub(amountBase), nil
}
