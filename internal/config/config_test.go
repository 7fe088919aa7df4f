package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/modules/risk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setStrategyEnv(t *testing.T) {
	t.Helper()
	env := map[string]string{
		"STRATEGY_DD_REFERENCE_ATH":          "500",
		"STRATEGY_MU_AT_ATH":                 "0.1",
		"STRATEGY_DD_COEF":                   "0.4",
		"STRATEGY_MISALLOC_MIN_DOLLARS":      "650",
		"STRATEGY_MISALLOC_MIN_FRAC":         "1.5",
		"STRATEGY_MISALLOC_FRAC_FORCE_ELBOW": "2000",
		"STRATEGY_MISALLOC_FRAC_FORCE_COEF":  "0.5",
		"STRATEGY_MIN_MARGIN_REQ":            "0.3",
		"ORDERS_ORDER_TIMEOUT":               "60",
		"ORDERS_MAX_SLIPPAGE":                "0.05",
		"APP_REBALANCE_FREQ":                 "15",
		"APP_LIVENESS_TIMEOUT":               "90",
		"APP_ARMED":                          "false",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func newValidator(confirm risk.Confirmer) *risk.Validator {
	return risk.NewValidator(risk.DefaultPolicy(), confirm, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("COMPOSITION", "VTI@ARCA=0.6,BND@NASDAQ=0.4")
	t.Setenv("STATUS_PORT", "9100")
	t.Setenv("SESSION_LOOP", "true")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 9100, cfg.StatusPort)
	assert.True(t, cfg.SessionLoop)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 1337, cfg.GatewayClientID)
	assert.Equal(t, 2, cfg.Composition.Len())
	assert.Equal(t, filepath.Join(dir, "journal.db"), cfg.JournalPath())
}

func TestLoadRequiresComposition(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("COMPOSITION", "")

	_, err := Load()
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestLoadRejectsBadGatewayURL(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("COMPOSITION", "VTI@ARCA=1")
	t.Setenv("GATEWAY_URL", "http://localhost:7497")

	_, err := Load()
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestLoadAutorebalance(t *testing.T) {
	setStrategyEnv(t)

	c, err := LoadAutorebalance(newValidator(nil))
	require.NoError(t, err)
	assert.Equal(t, 500.0, c.DDReferenceATH)
	assert.Equal(t, 650, c.MisallocMinDollars)
	assert.Equal(t, 60*time.Second, c.OrderTimeout)
	assert.Equal(t, 15*time.Second, c.RebalanceFreq)
	assert.Equal(t, 90*time.Second, c.LivenessTimeout)
	assert.False(t, c.Armed)

	dump := c.Dump()
	assert.Contains(t, dump, "dd_reference_ath=500")
	assert.Contains(t, dump, "armed=false")
	assert.Len(t, strings.Split(dump, "\n"), 13)
}

func TestLoadAutorebalanceMissingKey(t *testing.T) {
	setStrategyEnv(t)
	t.Setenv("APP_ARMED", "")

	_, err := LoadAutorebalance(newValidator(nil))
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestLoadAutorebalanceMalformedKey(t *testing.T) {
	setStrategyEnv(t)
	t.Setenv("STRATEGY_MISALLOC_MIN_DOLLARS", "6.5e2x")

	_, err := LoadAutorebalance(newValidator(nil))
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestLoadAutorebalanceRiskRules(t *testing.T) {
	t.Run("block tier", func(t *testing.T) {
		setStrategyEnv(t)
		t.Setenv("STRATEGY_DD_COEF", "2.5")

		_, err := LoadAutorebalance(newValidator(func(risk.Prompt) bool { return true }))
		assert.ErrorIs(t, err, domain.ErrSecurityFault)
	})

	t.Run("confirm tier declined", func(t *testing.T) {
		setStrategyEnv(t)
		t.Setenv("STRATEGY_MU_AT_ATH", "0.25")

		_, err := LoadAutorebalance(newValidator(nil))
		assert.ErrorIs(t, err, domain.ErrSecurityFault)
	})

	t.Run("confirm tier approved", func(t *testing.T) {
		setStrategyEnv(t)
		t.Setenv("STRATEGY_MU_AT_ATH", "0.25")

		var prompted []string
		c, err := LoadAutorebalance(newValidator(func(p risk.Prompt) bool {
			prompted = append(prompted, p.Rule)
			return true
		}))
		require.NoError(t, err)
		assert.Equal(t, 0.25, c.MuAtATH)
		assert.Equal(t, []string{"ATH MARGIN USE"}, prompted)
	})
}

func TestAutorebalanceConfigValidate(t *testing.T) {
	base := AutorebalanceConfig{
		DDReferenceATH:         500,
		MisallocFracForceElbow: 2000,
		MisallocFracForceCoef:  0.5,
		OrderTimeout:           time.Minute,
		RebalanceFreq:          time.Second,
		LivenessTimeout:        time.Minute,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *AutorebalanceConfig)
	}{
		{name: "zero ath", mutate: func(c *AutorebalanceConfig) { c.DDReferenceATH = 0 }},
		{name: "zero elbow", mutate: func(c *AutorebalanceConfig) { c.MisallocFracForceElbow = 0 }},
		{name: "zero coef", mutate: func(c *AutorebalanceConfig) { c.MisallocFracForceCoef = 0 }},
		{name: "zero timeout", mutate: func(c *AutorebalanceConfig) { c.OrderTimeout = 0 }},
		{name: "negative slippage", mutate: func(c *AutorebalanceConfig) { c.MaxSlippage = -0.01 }},
		{name: "zero period", mutate: func(c *AutorebalanceConfig) { c.RebalanceFreq = 0 }},
		{name: "zero heartbeat", mutate: func(c *AutorebalanceConfig) { c.LivenessTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), domain.ErrConfigInvalid)
		})
	}
}
