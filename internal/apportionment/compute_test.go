package apportionment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeNetBaseWorkedExample(t *testing.T) {
	rules := []Rule{{ID: 1, OriginID: 10, DestinationID: 1, Percentage: dec("10"), Active: true}}
	income, expense := dec("1000.00"), dec("300.00")

	res := Compute(BaseFor(income, expense, BaseNet), rules, DefaultOptions())

	require.Len(t, res.Shares, 1)
	assert.True(t, res.Base.Equal(dec("700")))
	assert.Equal(t, "70.00", res.Shares[0].Amount.StringFixed(2))
	assert.True(t, res.Total.Equal(dec("70.00")))
	final := income.Sub(expense).Sub(res.Total)
	assert.True(t, final.Equal(dec("630.00")))
}

func TestComputeIncomeBase(t *testing.T) {
	rules := []Rule{{ID: 1, Percentage: dec("10"), Active: true}}
	res := Compute(BaseFor(dec("1000"), dec("300"), BaseIncome), rules, DefaultOptions())
	assert.True(t, res.Total.Equal(dec("100")))
}

func TestComputeShareIsRoundedToCents(t *testing.T) {
	rules := []Rule{{ID: 1, Percentage: dec("12.5"), Active: true}}

	halfUp := Compute(dec("1.00"), rules, Options{Rounding: RoundHalfUp})
	bankers := Compute(dec("1.00"), rules, Options{Rounding: RoundBankers})

	assert.Equal(t, "0.13", halfUp.Shares[0].Amount.StringFixed(2))
	assert.Equal(t, "0.12", bankers.Shares[0].Amount.StringFixed(2))
}

func TestComputeDoesNotNormalisePercentages(t *testing.T) {
	base := dec("333.33")
	rules := []Rule{
		{ID: 1, DestinationID: 1, Percentage: dec("10"), Active: true},
		{ID: 2, DestinationID: 2, Percentage: dec("5"), Active: true},
		{ID: 3, DestinationID: 3, Percentage: dec("50"), Active: false},
	}
	res := Compute(base, rules, DefaultOptions())

	require.Len(t, res.Shares, 2)
	attempted := decimal.Zero
	for _, s := range res.Shares {
		expected := base.Mul(s.Percentage).Div(decimal.NewFromInt(100)).Round(2)
		assert.True(t, s.Amount.Equal(expected), "rule %d", s.RuleID)
		attempted = attempted.Add(base.Mul(s.Percentage).Div(decimal.NewFromInt(100)))
	}
	assert.True(t, res.Total.Equal(dec("50.00")))
	assert.True(t, res.Total.LessThanOrEqual(attempted.Round(2)))
	assert.True(t, res.Total.LessThan(base))
}

func TestComputeOverlappingRulesMayExceedHundred(t *testing.T) {
	rules := []Rule{
		{ID: 1, Percentage: dec("70"), Active: true},
		{ID: 2, Percentage: dec("60"), Active: true},
	}
	res := Compute(dec("100"), rules, DefaultOptions())
	assert.True(t, res.Total.Equal(dec("130")))
}

func TestComputeNonPositiveBaseYieldsZeroShares(t *testing.T) {
	rules := []Rule{{ID: 1, Percentage: dec("10"), Active: true}}
	for _, base := range []string{"0", "-250.00"} {
		res := Compute(dec(base), rules, DefaultOptions())
		require.Len(t, res.Shares, 1)
		assert.True(t, res.Shares[0].Amount.IsZero(), base)
		assert.True(t, res.Total.IsZero(), base)
	}
}

func TestItemsFromResultSnapshotsShares(t *testing.T) {
	rules := []Rule{{ID: 7, OriginID: 3, DestinationID: 1, Percentage: dec("10"), Active: true}}
	items := ItemsFromResult(99, Compute(dec("700"), rules, DefaultOptions()), time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	require.Len(t, items, 1)
	assert.Equal(t, int64(99), items[0].ClosingID)
	assert.Equal(t, int64(7), items[0].RuleID)
	assert.True(t, items[0].Amount.Equal(dec("70")))
}

func TestRuleInputValidate(t *testing.T) {
	valid := RuleInput{OriginID: 2, DestinationID: 1, Percentage: dec("10"), Active: true}
	assert.NoError(t, valid.Validate())
	twoPlaces := RuleInput{OriginID: 2, DestinationID: 1, Percentage: dec("12.35"), Active: true}
	assert.NoError(t, twoPlaces.Validate())

	cases := map[string]RuleInput{
		"zero":      {OriginID: 2, DestinationID: 1, Percentage: dec("0")},
		"over":      {OriginID: 2, DestinationID: 1, Percentage: dec("100.01")},
		"self":      {OriginID: 2, DestinationID: 2, Percentage: dec("10")},
		"no origin": {DestinationID: 1, Percentage: dec("10")},
		"precision": {OriginID: 2, DestinationID: 1, Percentage: dec("12.345")},
	}
	for name, in := range cases {
		assert.ErrorIs(t, in.Validate(), shared.ErrValidation, name)
	}
}

func TestStoredPercentageMatchesComputedShare(t *testing.T) {
	in := RuleInput{OriginID: 2, DestinationID: 1, Percentage: dec("12.35"), Active: true}
	require.NoError(t, in.Validate())
	stored := in.Percentage.Round(PercentageScale)
	rules := []Rule{{ID: 1, OriginID: 2, DestinationID: 1, Percentage: in.Percentage, Active: true}}
	storedRules := []Rule{{ID: 1, OriginID: 2, DestinationID: 1, Percentage: stored, Active: true}}
	entered := Compute(dec("10000"), rules, DefaultOptions())
	persisted := Compute(dec("10000"), storedRules, DefaultOptions())
	require.Len(t, entered.Shares, 1)
	assert.True(t, entered.Shares[0].Amount.Equal(persisted.Shares[0].Amount))
	assert.True(t, entered.Shares[0].Amount.Equal(dec("1235")))
}

func TestParseOptions(t *testing.T) {
	base, err := ParseBase("")
	require.NoError(t, err)
	assert.Equal(t, BaseNet, base)
	_, err = ParseBase("gross")
	assert.Error(t, err)
	rounding, err := ParseRounding("bankers")
	require.NoError(t, err)
	assert.Equal(t, RoundBankers, rounding)
}
