// Package apportionment computes rateio shares: percentage transfers from an
// origin cost center's closing to destination cost centers.
//
// Each active rule is applied independently to the same base. Percentages of
// one origin are never normalised, so they may sum to less than 100 (the
// remainder stays with the origin) or overlap beyond 100.
package apportionment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BaseConvention selects which closing amount the percentages apply to.
type BaseConvention string

const (
	// BaseNet applies percentages to income minus expense.
	BaseNet BaseConvention = "net"
	// BaseIncome applies percentages to gross income.
	BaseIncome BaseConvention = "income"
)

// Rounding selects how shares are rounded to cents.
type Rounding string

const (
	// RoundHalfUp rounds half away from zero (0.125 -> 0.13).
	RoundHalfUp Rounding = "half_up"
	// RoundBankers rounds half to even (0.125 -> 0.12).
	RoundBankers Rounding = "bankers"
)

// Options configures Compute.
type Options struct {
	Base     BaseConvention
	Rounding Rounding
}

// DefaultOptions matches the treasury's published worked examples.
func DefaultOptions() Options {
	return Options{Base: BaseNet, Rounding: RoundHalfUp}
}

// ParseBase validates a configured base convention.
func ParseBase(raw string) (BaseConvention, error) {
	switch BaseConvention(raw) {
	case BaseNet, BaseIncome:
		return BaseConvention(raw), nil
	case "":
		return BaseNet, nil
	}
	return "", fmt.Errorf("apportionment: unknown base %q", raw)
}

// ParseRounding validates a configured rounding mode.
func ParseRounding(raw string) (Rounding, error) {
	switch Rounding(raw) {
	case RoundHalfUp, RoundBankers:
		return Rounding(raw), nil
	case "":
		return RoundHalfUp, nil
	}
	return "", fmt.Errorf("apportionment: unknown rounding %q", raw)
}

var hundred = decimal.NewFromInt(100)

// BaseFor returns the apportionable amount for a closing's totals.
func BaseFor(income, expense decimal.Decimal, convention BaseConvention) decimal.Decimal {
	if convention == BaseIncome {
		return income
	}
	return income.Sub(expense)
}

// Share is one computed transfer.
type Share struct {
	RuleID        int64
	OriginID      int64
	DestinationID int64
	Base          decimal.Decimal
	Percentage    decimal.Decimal
	Amount        decimal.Decimal
}

// Result aggregates the shares of one computation.
type Result struct {
	Base   decimal.Decimal
	Shares []Share
	Total  decimal.Decimal
}

// Compute applies every active rule to base. A non-positive base yields zero
// shares, never negative transfers.
func Compute(base decimal.Decimal, rules []Rule, opts Options) Result {
	res := Result{Base: base, Total: decimal.Zero}
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		amount := decimal.Zero
		if base.IsPositive() {
			amount = roundCents(base.Mul(rule.Percentage).Div(hundred), opts.Rounding)
		}
		res.Shares = append(res.Shares, Share{
			RuleID:        rule.ID,
			OriginID:      rule.OriginID,
			DestinationID: rule.DestinationID,
			Base:          base,
			Percentage:    rule.Percentage,
			Amount:        amount,
		})
		res.Total = res.Total.Add(amount)
	}
	return res
}

func roundCents(d decimal.Decimal, mode Rounding) decimal.Decimal {
	if mode == RoundBankers {
		return d.RoundBank(2)
	}
	return d.Round(2)
}
