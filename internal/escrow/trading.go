package escrow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/exchange"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// Route selects which venue entry point a swap goes through.
type Route string

const (
	RouteTokenToToken Route = "token_to_token"
	RouteETHForToken  Route = "eth_for_token"
	RouteTokenForETH  Route = "token_for_eth"
)

// SwapParams describes a Manager-directed exact-input swap.
type SwapParams struct {
	TokenIn      string          `json:"token_in"`
	TokenOut     string          `json:"token_out"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	AmountOutMin decimal.Decimal `json:"amount_out_min"`
	Deadline     time.Time       `json:"deadline"`
}

func (e *Engine) SwapTokenToToken(ctx context.Context, manager string, id uint64, p SwapParams) (decimal.Decimal, error) {
	return e.Swap(ctx, manager, id, RouteTokenToToken, p)
}

func (e *Engine) SwapETHForToken(ctx context.Context, manager string, id uint64, p SwapParams) (decimal.Decimal, error) {
	return e.Swap(ctx, manager, id, RouteETHForToken, p)
}

func (e *Engine) SwapTokenForETH(ctx context.Context, manager string, id uint64, p SwapParams) (decimal.Decimal, error) {
	return e.Swap(ctx, manager, id, RouteTokenForETH, p)
}

// Swap trades agreement funds through the venue and returns the amount
// credited to TokenOut. Base coin below the agreement's collateral cannot
// be traded.
func (e *Engine) Swap(ctx context.Context, manager string, id uint64, route Route, p SwapParams) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := e.exec(ctx, "swap_"+string(route), manager, func(tx *host.Tx) error {
		a, err := e.managed(id, manager)
		if err != nil {
			return err
		}
		if a.Status != model.StatusActive {
			return errNotActive
		}
		if !tx.Now().Before(a.TradingEnd()) {
			return fail(ErrTimingViolation, "trading period of agreement %d ended at %s", id, a.TradingEnd())
		}
		if p.TokenIn == "" || p.TokenOut == "" || p.TokenIn == p.TokenOut {
			return fail(ErrInvalidArgument, "swap needs two distinct tokens")
		}
		if err := requireWhole("amount in", p.AmountIn, false); err != nil {
			return err
		}
		if err := requireWhole("amount out min", p.AmountOutMin, true); err != nil {
			return err
		}
		want, _, err := e.routeFor(p.TokenIn, p.TokenOut)
		if err != nil {
			return err
		}
		if want != route {
			return fail(ErrInvalidArgument, "%s -> %s is a %s swap", p.TokenIn, p.TokenOut, want)
		}

		available := e.position(id, p.TokenIn)
		if p.TokenIn == a.BaseCoin {
			available = available.Sub(a.CollatAmount)
		}
		if p.AmountIn.GreaterThan(available) {
			return fail(ErrInsufficientResource, "agreement %d holds %s tradable %s, requested %s",
				id, decimal.Max(available, decimal.Zero), p.TokenIn, p.AmountIn)
		}

		out, err = e.execSwap(tx, a, p.TokenIn, p.TokenOut, p.AmountIn, p.AmountOutMin, p.Deadline)
		if err != nil {
			return err
		}

		e.log.WithFields(logrus.Fields{
			"agreement":  id,
			"route":      route,
			"token_in":   p.TokenIn,
			"token_out":  p.TokenOut,
			"amount_in":  p.AmountIn.String(),
			"amount_out": out.String(),
		}).Info("swap executed")
		return nil
	})
	return out, err
}

func (e *Engine) routeFor(tokenIn, tokenOut string) (Route, []string, error) {
	weth := e.exchange.WETH()
	switch {
	case tokenIn == exchange.NativeToken:
		if tokenOut == weth {
			return "", nil, fail(ErrInvalidArgument, "cannot swap %s for %s", tokenIn, tokenOut)
		}
		return RouteETHForToken, []string{weth, tokenOut}, nil
	case tokenOut == exchange.NativeToken:
		if tokenIn == weth {
			return "", nil, fail(ErrInvalidArgument, "cannot swap %s for %s", tokenIn, tokenOut)
		}
		return RouteTokenForETH, []string{tokenIn, weth}, nil
	default:
		return RouteTokenToToken, []string{tokenIn, tokenOut}, nil
	}
}

// execSwap debits the input position before calling the venue and credits
// the output by the custody balance change the venue actually produced.
func (e *Engine) execSwap(tx *host.Tx, a *model.Agreement, tokenIn, tokenOut string, amountIn, minOut decimal.Decimal, deadline time.Time) (decimal.Decimal, error) {
	ctx := tx.Context()
	route, path, err := e.routeFor(tokenIn, tokenOut)
	if err != nil {
		return decimal.Zero, err
	}

	e.addPosition(a.ID, tokenIn, amountIn.Neg())

	venue := e.exchange.Address()
	if err := e.ledger.Approve(ctx, tokenIn, e.address, venue, amountIn); err != nil {
		return decimal.Zero, err
	}
	before, err := e.ledger.BalanceOf(ctx, tokenOut, e.address)
	if err != nil {
		return decimal.Zero, err
	}

	order := exchange.SwapOrder{
		From:         e.address,
		To:           e.address,
		AmountIn:     amountIn,
		AmountOutMin: minOut,
		Path:         path,
		Deadline:     deadline,
	}
	switch route {
	case RouteETHForToken:
		_, err = e.exchange.SwapExactETHForTokens(ctx, order)
	case RouteTokenForETH:
		_, err = e.exchange.SwapExactTokensForETH(ctx, order)
	default:
		_, err = e.exchange.SwapExactTokensForTokens(ctx, order)
	}
	if err != nil {
		return decimal.Zero, classifySwap(err)
	}

	after, err := e.ledger.BalanceOf(ctx, tokenOut, e.address)
	if err != nil {
		return decimal.Zero, err
	}
	received := after.Sub(before)
	if received.LessThan(minOut) {
		return decimal.Zero, fail(ErrInsufficientResource, "venue delivered %s %s, want at least %s", received, tokenOut, minOut)
	}
	if err := e.ledger.Approve(ctx, tokenIn, e.address, venue, decimal.Zero); err != nil {
		return decimal.Zero, err
	}

	e.addPosition(a.ID, tokenOut, received)
	tx.Emit(model.Traded{
		AgreementID: a.ID,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn,
		AmountOut:   received,
	})
	return received, nil
}

func classifySwap(err error) error {
	switch {
	case errors.Is(err, exchange.ErrExpired):
		return fmt.Errorf("%w: %w", ErrTimingViolation, err)
	case errors.Is(err, exchange.ErrInsufficientOutput):
		return fmt.Errorf("%w: %w", ErrInsufficientResource, err)
	case errors.Is(err, exchange.ErrNoPair), errors.Is(err, exchange.ErrInvalidPath):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	default:
		return err
	}
}

// quote prices amount of token in the agreement's base coin.
func (e *Engine) quote(ctx context.Context, a *model.Agreement, token string, amount decimal.Decimal) (decimal.Decimal, error) {
	_, path, err := e.routeFor(token, a.BaseCoin)
	if err != nil {
		return decimal.Zero, err
	}
	amounts, err := e.exchange.GetAmountsOut(ctx, amount, path)
	if err != nil {
		return decimal.Zero, classifySwap(err)
	}
	return amounts[len(amounts)-1], nil
}

// valuation is the agreement's base position plus every other position
// quoted in base coin.
func (e *Engine) valuation(ctx context.Context, a *model.Agreement) (decimal.Decimal, error) {
	total := e.position(a.ID, a.BaseCoin)
	for _, tok := range e.tokensOf(a) {
		q, err := e.quote(ctx, a, tok, e.position(a.ID, tok))
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(q)
	}
	return total, nil
}

// liquidate sells every non-base position into base coin, records the
// {init, counted} audit pair and marks the agreement closed. Positions the
// venue quotes at zero are left in place.
func (e *Engine) liquidate(tx *host.Tx, a *model.Agreement) (model.AgreementBalance, error) {
	ctx := tx.Context()
	init := e.position(a.ID, a.BaseCoin)
	deadline := tx.Now().Add(e.window)
	keep := bpsDenom.Sub(decimal.NewFromInt(e.slippageBps))

	for _, tok := range e.tokensOf(a) {
		amount := e.position(a.ID, tok)
		q, err := e.quote(ctx, a, tok, amount)
		if err != nil {
			return model.AgreementBalance{}, err
		}
		if q.IsZero() {
			e.log.WithFields(logrus.Fields{"agreement": a.ID, "token": tok, "amount": amount.String()}).
				Warn("dust position left unliquidated")
			continue
		}
		if _, err := e.execSwap(tx, a, tok, a.BaseCoin, amount, mulDiv(q, keep, bpsDenom), deadline); err != nil {
			return model.AgreementBalance{}, err
		}
	}

	bal := model.AgreementBalance{Init: init, Counted: e.position(a.ID, a.BaseCoin)}
	e.setBalance(a.ID, bal)
	a.Closed = true
	return bal, nil
}

// SellAll liquidates the agreement once its trading period is over. Anyone
// may call it; it succeeds once.
func (e *Engine) SellAll(ctx context.Context, caller string, id uint64) (model.AgreementBalance, error) {
	return e.sellAll(ctx, "sell_all", caller, id)
}

// Sell is SellAll under its short name.
func (e *Engine) Sell(ctx context.Context, caller string, id uint64) (model.AgreementBalance, error) {
	return e.sellAll(ctx, "sell", caller, id)
}

func (e *Engine) sellAll(ctx context.Context, op, caller string, id uint64) (model.AgreementBalance, error) {
	var bal model.AgreementBalance
	err := e.exec(ctx, op, caller, func(tx *host.Tx) error {
		a, err := e.agreement(id)
		if err != nil {
			return err
		}
		if a.Status < model.StatusPublished {
			return fail(ErrInvalidState, "agreement %d was never published", id)
		}
		ended := a.Status > model.StatusActive || !tx.Now().Before(a.TradingEnd())
		if !ended {
			return errStillActive
		}
		if a.Closed {
			return errClosed
		}

		bal, err = e.liquidate(tx, a)
		if err != nil {
			return err
		}
		tx.Emit(model.AgreementClosed{AgreementID: id, Status: a.Status, Init: bal.Init, Counted: bal.Counted})

		e.log.WithFields(logrus.Fields{
			"agreement": id,
			"caller":    caller,
			"init":      bal.Init.String(),
			"counted":   bal.Counted.String(),
		}).Info("positions liquidated")
		return nil
	})
	return bal, err
}

// CloseInProfit lets the Manager end trading early once the agreement's
// value net of collateral covers every guaranteed payout.
func (e *Engine) CloseInProfit(ctx context.Context, manager string, id uint64) (model.AgreementBalance, error) {
	var bal model.AgreementBalance
	err := e.exec(ctx, "close_in_profit", manager, func(tx *host.Tx) error {
		a, err := e.managed(id, manager)
		if err != nil {
			return err
		}
		if a.Status != model.StatusActive {
			return errNotActive
		}
		if !tx.Now().Before(a.TradingEnd()) {
			return fail(ErrTimingViolation, "trading period of agreement %d ended at %s", id, a.TradingEnd())
		}
		if a.Closed {
			return errClosed
		}

		value, err := e.valuation(tx.Context(), a)
		if err != nil {
			return err
		}
		owed := guarantee(a.CommittedCapital, a.TargetReturnRate)
		if value.Sub(a.CollatAmount).LessThan(owed) {
			return fail(ErrInsufficientResource, "agreement %d is worth %s over collateral, guarantees are %s",
				id, value.Sub(a.CollatAmount), owed)
		}

		bal, err = e.liquidate(tx, a)
		if err != nil {
			return err
		}
		a.Status = model.StatusClosedInProfit
		tx.Emit(model.AgreementClosed{AgreementID: id, Status: a.Status, Init: bal.Init, Counted: bal.Counted})

		e.log.WithFields(logrus.Fields{
			"agreement": id,
			"value":     value.String(),
			"owed":      owed.String(),
			"counted":   bal.Counted.String(),
		}).Info("agreement closed in profit")
		return nil
	})
	return bal, err
}

// StopOut ends trading once what investors could claim, the trading value
// above the posted collateral plus the collateral allocated to them, no
// longer exceeds the guaranteed payouts. Unallocated collateral never
// reaches investors and is left out. The Manager or any investor of the
// agreement may trigger it.
func (e *Engine) StopOut(ctx context.Context, caller string, id uint64) (model.AgreementBalance, error) {
	var bal model.AgreementBalance
	err := e.exec(ctx, "stop_out", caller, func(tx *host.Tx) error {
		a, err := e.agreement(id)
		if err != nil {
			return err
		}
		if caller != a.Manager && !e.hasMandate(a, caller) {
			return fail(ErrAccessDenied, "caller is neither manager nor investor of agreement %d", id)
		}
		if a.Status != model.StatusActive {
			return errNotActive
		}
		if a.Closed {
			return errClosed
		}

		value, err := e.valuation(tx.Context(), a)
		if err != nil {
			return err
		}
		owed := guarantee(a.CommittedCapital, a.TargetReturnRate)
		claimable := value.Sub(a.FreeCollatAmount)
		if claimable.GreaterThan(owed) {
			return fail(ErrInvalidState, "investors of agreement %d can claim %s, above guarantees of %s",
				id, claimable, owed)
		}

		bal, err = e.liquidate(tx, a)
		if err != nil {
			return err
		}
		a.Status = model.StatusStoppedOut
		tx.Emit(model.AgreementClosed{AgreementID: id, Status: a.Status, Init: bal.Init, Counted: bal.Counted})

		e.log.WithFields(logrus.Fields{
			"agreement": id,
			"caller":    caller,
			"claimable": claimable.String(),
			"owed":      owed.String(),
		}).Warn("agreement stopped out")
		return nil
	})
	return bal, err
}

// AgreementTradingTokenAmount is the agreement's position in token.
func (e *Engine) AgreementTradingTokenAmount(ctx context.Context, id uint64, token string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := e.view(ctx, func() error {
		if _, err := e.agreement(id); err != nil {
			return err
		}
		out = e.position(id, token)
		return nil
	})
	return out, err
}

// Positions lists the agreement's non-zero positions sorted by token.
func (e *Engine) Positions(ctx context.Context, id uint64) ([]model.Position, error) {
	var out []model.Position
	err := e.view(ctx, func() error {
		if _, err := e.agreement(id); err != nil {
			return err
		}
		out = []model.Position{}
		for k, v := range e.st.positions {
			if k.AgreementID == id {
				out = append(out, model.Position{AgreementID: id, Token: k.Token, Amount: v})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
		return nil
	})
	return out, err
}

func (e *Engine) AgreementClosed(ctx context.Context, id uint64) (bool, error) {
	a, err := e.Agreement(ctx, id)
	if err != nil {
		return false, err
	}
	return a.Closed, nil
}

// Balances returns the liquidation audit pair; ok is false before the
// agreement has been closed.
func (e *Engine) Balances(ctx context.Context, id uint64) (bal model.AgreementBalance, ok bool, err error) {
	err = e.view(ctx, func() error {
		if _, err := e.agreement(id); err != nil {
			return err
		}
		bal, ok = e.st.balances[id]
		return nil
	})
	return bal, ok, err
}

// CustodyReport compares what the ledger says the engine holds with the sum
// of tracked positions.
type CustodyReport struct {
	Token   string          `json:"token"`
	Held    decimal.Decimal `json:"held"`
	Tracked decimal.Decimal `json:"tracked"`
}

// Balanced reports whether custody matches the positions exactly.
func (r CustodyReport) Balanced() bool { return r.Held.Equal(r.Tracked) }

// Custody checks the per-token custody invariant.
func (e *Engine) Custody(ctx context.Context, token string) (CustodyReport, error) {
	r := CustodyReport{Token: token}
	err := e.view(ctx, func() error {
		held, err := e.ledger.BalanceOf(ctx, token, e.address)
		if err != nil {
			return err
		}
		r.Held = held
		for k, v := range e.st.positions {
			if k.Token == token {
				r.Tracked = r.Tracked.Add(v)
			}
		}
		return nil
	})
	return r, err
}
