package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSeedParses(t *testing.T) {
	seed, err := parseSeed(defaultSeed)
	require.NoError(t, err)
	assert.Equal(t, "admin@tesouraria.local", seed.Admin.Email)
	require.NotEmpty(t, seed.ApportionmentRules)
	assert.Equal(t, "10", seed.ApportionmentRules[0].Percentage.String())
}

func TestSeedRejectsSecondHeadquarters(t *testing.T) {
	_, err := parseSeed([]byte(`
cost_centers:
  - {name: A, type: HEADQUARTERS}
  - {name: B, type: HEADQUARTERS}
admin: {email: a@b.c}
`))
	assert.ErrorContains(t, err, "headquarters")
}

func TestSeedRejectsRuleToUnknownCostCenter(t *testing.T) {
	_, err := parseSeed([]byte(`
cost_centers:
  - {name: A, type: HEADQUARTERS}
apportionment_rules:
  - {origin: B, destination: A, percentage: "5"}
admin: {email: a@b.c}
`))
	assert.ErrorContains(t, err, "unknown cost center")
}

func TestSeedRejectsPercentageAboveHundred(t *testing.T) {
	_, err := parseSeed([]byte(`
cost_centers:
  - {name: A, type: HEADQUARTERS}
  - {name: B, type: CONGREGATION}
apportionment_rules:
  - {origin: B, destination: A, percentage: "100.01"}
admin: {email: a@b.c}
`))
	assert.ErrorContains(t, err, "percentage")
}

func TestSeedRejectsPercentageBeyondStoredScale(t *testing.T) {
	_, err := parseSeed([]byte(`
cost_centers:
  - {name: A, type: HEADQUARTERS}
  - {name: B, type: CONGREGATION}
apportionment_rules:
  - {origin: B, destination: A, percentage: "12.345"}
admin: {email: a@b.c}
`))
	assert.ErrorContains(t, err, "decimal places")
}
