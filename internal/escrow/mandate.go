package escrow

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// CommitToAgreement pulls up to capitalAmount from the investor and
// allocates collateral first-come-first-served:
//
//	allocated = min(free, actual × maxCollateralRate / 100)
//
// The call is rejected when allocated/actual falls below minCollatRate
// percent. Every commitment creates a new, immutable Mandate.
func (e *Engine) CommitToAgreement(ctx context.Context, investor string, id uint64, capitalAmount decimal.Decimal, minCollatRate uint32) (uint64, error) {
	var mandateID uint64
	err := e.exec(ctx, "commit", investor, func(tx *host.Tx) error {
		if investor == "" {
			return fail(ErrInvalidArgument, "investor is required")
		}
		a, err := e.agreement(id)
		if err != nil {
			return err
		}
		if a.Status != model.StatusPublished {
			return fail(ErrInvalidState, "agreement %d is %s, want PUBLISHED", id, a.Status)
		}
		if !tx.Now().Before(a.OpenEnd()) {
			return fail(ErrTimingViolation, "open period of agreement %d ended at %s", id, a.OpenEnd())
		}
		if err := requireWhole("capital amount", capitalAmount, false); err != nil {
			return err
		}
		if minCollatRate > 100 {
			return fail(ErrInvalidArgument, "min collateral rate %d out of [0,100]", minCollatRate)
		}

		actual, err := ledger.PullCapped(tx.Context(), e.ledger, a.BaseCoin, investor, e.address, capitalAmount)
		if err != nil {
			return err
		}
		if actual.IsZero() {
			return fail(ErrInsufficientResource, "nothing approved by %s for agreement %d", investor, id)
		}

		entitled := mulDiv(actual, decimal.NewFromInt(int64(a.MaxCollateralRateIfAvailable)), hundred)
		allocated := decimal.Min(a.FreeCollatAmount, entitled)
		if allocated.Mul(hundred).LessThan(actual.Mul(decimal.NewFromInt(int64(minCollatRate)))) {
			return fail(ErrInsufficientResource, "collateral %s for capital %s is below %d%%", allocated, actual, minCollatRate)
		}

		mandateID = uint64(len(e.st.mandates))
		m := &model.Mandate{
			ID:                       mandateID,
			AgreementID:              id,
			Investor:                 investor,
			CapitalAmount:            actual,
			AllocatedCollateral:      allocated,
			MinCollatRateRequirement: minCollatRate,
			CreatedAt:                tx.Now(),
		}
		e.st.mandates = append(e.st.mandates, m)
		a.MandateIDs = append(a.MandateIDs, mandateID)
		a.FreeCollatAmount = a.FreeCollatAmount.Sub(allocated)
		a.CommittedCapital = a.CommittedCapital.Add(actual)
		e.addPosition(id, a.BaseCoin, actual)

		tx.Emit(model.CommitToAgreement{
			AgreementID:         id,
			MandateID:           mandateID,
			Investor:            investor,
			CapitalAmount:       actual,
			AllocatedCollateral: allocated,
		})

		e.log.WithFields(logrus.Fields{
			"agreement": id,
			"mandate":   mandateID,
			"investor":  investor,
			"requested": capitalAmount.String(),
			"capital":   actual.String(),
			"allocated": allocated.String(),
		}).Info("capital committed")
		return nil
	})
	return mandateID, err
}

// Mandate returns a copy of the mandate.
func (e *Engine) Mandate(ctx context.Context, mandateID uint64) (*model.Mandate, error) {
	var out *model.Mandate
	err := e.view(ctx, func() error {
		m, err := e.mandate(mandateID)
		if err != nil {
			return err
		}
		c := *m
		out = &c
		return nil
	})
	return out, err
}

// MandatesOf returns copies of the agreement's mandates in commit order.
func (e *Engine) MandatesOf(ctx context.Context, id uint64) ([]*model.Mandate, error) {
	var out []*model.Mandate
	err := e.view(ctx, func() error {
		a, err := e.agreement(id)
		if err != nil {
			return err
		}
		out = make([]*model.Mandate, 0, len(a.MandateIDs))
		for _, mid := range a.MandateIDs {
			c := *e.st.mandates[mid]
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

func (e *Engine) hasMandate(a *model.Agreement, investor string) bool {
	for _, mid := range a.MandateIDs {
		if e.st.mandates[mid].Investor == investor {
			return true
		}
	}
	return false
}
