package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/escrow"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/exchange"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the reference agreement scenarios in-process",
	Long: `Runs one agreement through its whole life against the in-process ledger
and venue, printing the values observed at each step.

  A - collateral capped by the Manager's allowance on creation
  B - deposits capped by the remaining allowance
  C - commitments capped by each Investor's allowance
  D - settlement pays the guaranteed return, drawing on collateral`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := runDemo(cmd.Context(), cmd.OutOrStdout())
		return err
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

// demoReport holds the values the scenarios observe.
type demoReport struct {
	CollateralAfterCreate   decimal.Decimal
	CollateralAfterDeposits decimal.Decimal
	AliceCapital            decimal.Decimal
	CommittedCapital        decimal.Decimal
	AlicePayout             decimal.Decimal
	BobPayout               decimal.Decimal
	CollateralDrawn         decimal.Decimal
	ManagerWithdrawal       decimal.Decimal
}

func runDemo(ctx context.Context, w io.Writer) (*demoReport, error) {
	const (
		manager = "manager"
		alice   = "alice"
		bob     = "bob"
		base    = "DAI"
	)
	n := decimal.NewFromInt
	rep := &demoReport{}

	clock := host.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	h := host.New(clock, nil)
	l := ledger.NewMemoryLedger()
	venue := exchange.NewMemoryVenue("venue", "WETH", l, clock.Now)
	h.Register(l, venue)
	e := escrow.NewEngine(h, l, venue)

	approve := func(owner string, amount int64) error {
		return l.Approve(ctx, base, owner, e.Address(), n(amount))
	}
	for owner, amount := range map[string]int64{manager: 1_000_000, alice: 1_200_000, bob: 5_000} {
		if err := l.Mint(base, owner, n(amount)); err != nil {
			return nil, err
		}
	}

	// A
	if err := approve(manager, 70_000); err != nil {
		return nil, err
	}
	id, err := e.CreateAgreement(ctx, manager, escrow.AgreementTerms{
		BaseCoin:                     base,
		TargetReturnRate:             30,
		MaxCollateralRateIfAvailable: 80,
		CollatAmount:                 n(100_000),
		OpenPeriod:                   24 * time.Hour,
		ActivePeriod:                 7 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario A: %w", err)
	}
	if rep.CollateralAfterCreate, err = e.AgreementCollateral(ctx, id); err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "A  requested 100000 with 70000 approved -> collateral %s\n", rep.CollateralAfterCreate)

	// B
	if err := approve(manager, 150_000); err != nil {
		return nil, err
	}
	for _, amount := range []int64{100_000, 100_000} {
		got, err := e.DepositCollateral(ctx, manager, id, n(amount))
		if err != nil {
			return nil, fmt.Errorf("scenario B: %w", err)
		}
		fmt.Fprintf(w, "B  deposit %d -> received %s\n", amount, got)
	}
	if rep.CollateralAfterDeposits, err = e.AgreementCollateral(ctx, id); err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "B  collateral %s\n", rep.CollateralAfterDeposits)

	// C
	if err := e.PublishAgreement(ctx, manager, id); err != nil {
		return nil, err
	}
	if err := approve(alice, 30_000); err != nil {
		return nil, err
	}
	aliceMandate, err := e.CommitToAgreement(ctx, alice, id, n(1_200_000), 0)
	if err != nil {
		return nil, fmt.Errorf("scenario C: %w", err)
	}
	m, err := e.Mandate(ctx, aliceMandate)
	if err != nil {
		return nil, err
	}
	rep.AliceCapital = m.CapitalAmount
	fmt.Fprintf(w, "C  alice commits 1200000 with 30000 approved -> capital %s, collateral allocated %s\n", m.CapitalAmount, m.AllocatedCollateral)

	if err := approve(bob, 5_000); err != nil {
		return nil, err
	}
	bobMandate, err := e.CommitToAgreement(ctx, bob, id, n(5_000), 0)
	if err != nil {
		return nil, fmt.Errorf("scenario C: %w", err)
	}
	if rep.CommittedCapital, err = e.AgreementCommittedCapital(ctx, id); err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "C  bob commits 5000 -> committed capital %s\n", rep.CommittedCapital)

	// D
	clock.Advance(24 * time.Hour)
	if err := e.ActivateAgreement(ctx, manager, id); err != nil {
		return nil, fmt.Errorf("scenario D: %w", err)
	}
	clock.Advance(7 * 24 * time.Hour)
	if err := e.SetExpiredAgreement(ctx, alice, id); err != nil {
		return nil, fmt.Errorf("scenario D: %w", err)
	}
	bal, err := e.SellAll(ctx, alice, id)
	if err != nil {
		return nil, fmt.Errorf("scenario D: %w", err)
	}
	fmt.Fprintf(w, "D  no trades, liquidation init %s counted %s\n", bal.Init, bal.Counted)

	if rep.AlicePayout, err = e.SettleMandate(ctx, alice, id, aliceMandate); err != nil {
		return nil, fmt.Errorf("scenario D: %w", err)
	}
	fmt.Fprintf(w, "D  alice settles -> payout %s (capital %s, return %s)\n",
		rep.AlicePayout, rep.AliceCapital, rep.AlicePayout.Sub(rep.AliceCapital))
	if rep.BobPayout, err = e.SettleMandate(ctx, bob, id, bobMandate); err != nil {
		return nil, fmt.Errorf("scenario D: %w", err)
	}
	fmt.Fprintf(w, "D  bob settles -> payout %s\n", rep.BobPayout)

	if rep.ManagerWithdrawal, err = e.WithdrawManagerCollateral(ctx, manager, id); err != nil {
		return nil, fmt.Errorf("scenario D: %w", err)
	}
	a, err := e.Agreement(ctx, id)
	if err != nil {
		return nil, err
	}
	rep.CollateralDrawn = a.CollateralDrawn
	fmt.Fprintf(w, "D  collateral drawn for investors %s, manager withdraws %s of %s posted, status %s\n",
		rep.CollateralDrawn, rep.ManagerWithdrawal, a.CollatAmount, a.Status)

	r, err := e.Custody(ctx, base)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "   custody %s held %s tracked %s balanced %t\n", base, r.Held, r.Tracked, r.Balanced())
	return rep, nil
}
