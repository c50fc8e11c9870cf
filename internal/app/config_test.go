package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CSRF_SECRET", "c")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", cfg.AppTimezone)
	assert.False(t, cfg.ClosingAllowEmpty)
	assert.Equal(t, apportionment.Options{Base: apportionment.BaseNet, Rounding: apportionment.RoundHalfUp}, cfg.ApportionmentOptions())
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis().Addr)
}

func TestLoadConfigRejectsUnknownApportionmentBase(t *testing.T) {
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("APPORTIONMENT_BASE", "gross_everything")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APPORTIONMENT_BASE")
}

func TestLoadConfigHonoursBankersRounding(t *testing.T) {
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("APPORTIONMENT_BASE", "income")
	t.Setenv("APPORTIONMENT_ROUNDING", "bankers")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, apportionment.BaseIncome, cfg.ApportionmentOptions().Base)
	assert.Equal(t, apportionment.RoundBankers, cfg.ApportionmentOptions().Rounding)
}

func TestLoadConfigRequiresCSRFSecret(t *testing.T) {
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}
