package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/modules/risk"
)

// AutorebalanceConfig is the validated strategy, order and loop parameters.
// It is built once by LoadAutorebalance and handed around by value.
type AutorebalanceConfig struct {
	// strategy
	DDReferenceATH         float64 // portfolio mark at the all-time high
	MuAtATH                float64 // margin utilization targeted at the all-time high
	DDCoef                 float64 // extra utilization per unit of drawdown
	MisallocMinDollars     int
	MisallocMinFrac        float64 // percent
	MisallocFracForceElbow float64 // dollars
	MisallocFracForceCoef  float64
	MinMarginReq           float64

	// orders
	OrderTimeout time.Duration
	MaxSlippage  float64

	// app
	RebalanceFreq   time.Duration
	LivenessTimeout time.Duration
	Armed           bool
}

// LoadAutorebalance reads the strategy, orders and app sections from the
// environment. Values with a matching risk rule pass through it, so a
// confirm-tier value prompts the operator before anything connects.
func LoadAutorebalance(v *risk.Validator) (AutorebalanceConfig, error) {
	var (
		c   AutorebalanceConfig
		err error
	)
	p := v.Policy()

	steps := []func() error{
		func() error { c.DDReferenceATH, err = requireFloat("STRATEGY_DD_REFERENCE_ATH"); return err },
		func() error {
			if c.MuAtATH, err = requireFloat("STRATEGY_MU_AT_ATH"); err != nil {
				return err
			}
			_, err = risk.Validate(v, p.ATHMarginUse, c.MuAtATH)
			return err
		},
		func() error {
			if c.DDCoef, err = requireFloat("STRATEGY_DD_COEF"); err != nil {
				return err
			}
			_, err = risk.Validate(v, p.DrawdownCoef, c.DDCoef)
			return err
		},
		func() error {
			if c.MisallocMinDollars, err = requireInt("STRATEGY_MISALLOC_MIN_DOLLARS"); err != nil {
				return err
			}
			_, err = risk.Validate(v, p.MisallocDollars, c.MisallocMinDollars)
			return err
		},
		func() error {
			if c.MisallocMinFrac, err = requireFloat("STRATEGY_MISALLOC_MIN_FRAC"); err != nil {
				return err
			}
			_, err = risk.Validate(v, p.RebalanceTrigger, c.MisallocMinFrac)
			return err
		},
		func() error {
			c.MisallocFracForceElbow, err = requireFloat("STRATEGY_MISALLOC_FRAC_FORCE_ELBOW")
			return err
		},
		func() error {
			c.MisallocFracForceCoef, err = requireFloat("STRATEGY_MISALLOC_FRAC_FORCE_COEF")
			return err
		},
		func() error {
			if c.MinMarginReq, err = requireFloat("STRATEGY_MIN_MARGIN_REQ"); err != nil {
				return err
			}
			_, err = risk.Validate(v, p.MarginReq, c.MinMarginReq)
			return err
		},
		func() error { c.OrderTimeout, err = requireSeconds("ORDERS_ORDER_TIMEOUT"); return err },
		func() error { c.MaxSlippage, err = requireFloat("ORDERS_MAX_SLIPPAGE"); return err },
		func() error { c.RebalanceFreq, err = requireSeconds("APP_REBALANCE_FREQ"); return err },
		func() error { c.LivenessTimeout, err = requireSeconds("APP_LIVENESS_TIMEOUT"); return err },
		func() error { c.Armed, err = requireBool("APP_ARMED"); return err },
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return AutorebalanceConfig{}, err
		}
	}

	if err := c.Validate(); err != nil {
		return AutorebalanceConfig{}, err
	}
	return c, nil
}

// Validate performs the structural checks that no risk rule covers.
func (c AutorebalanceConfig) Validate() error {
	switch {
	case !(c.DDReferenceATH > 0):
		return fmt.Errorf("%w: dd_reference_ath must be positive", domain.ErrConfigInvalid)
	case !(c.MisallocFracForceElbow > 0):
		return fmt.Errorf("%w: misalloc_frac_force_elbow must be positive", domain.ErrConfigInvalid)
	case !(c.MisallocFracForceCoef > 0):
		return fmt.Errorf("%w: misalloc_frac_force_coef must be positive", domain.ErrConfigInvalid)
	case c.OrderTimeout <= 0:
		return fmt.Errorf("%w: order_timeout must be positive", domain.ErrConfigInvalid)
	case c.MaxSlippage < 0:
		return fmt.Errorf("%w: max_slippage must not be negative", domain.ErrConfigInvalid)
	case c.RebalanceFreq <= 0:
		return fmt.Errorf("%w: rebalance_freq must be positive", domain.ErrConfigInvalid)
	case c.LivenessTimeout <= 0:
		return fmt.Errorf("%w: liveness_timeout must be positive", domain.ErrConfigInvalid)
	}
	return nil
}

// Dump renders one key=value line per field.
func (c AutorebalanceConfig) Dump() string {
	lines := []string{
		fmt.Sprintf("dd_reference_ath=%g", c.DDReferenceATH),
		fmt.Sprintf("mu_at_ath=%g", c.MuAtATH),
		fmt.Sprintf("dd_coef=%g", c.DDCoef),
		fmt.Sprintf("misalloc_min_dollars=%d", c.MisallocMinDollars),
		fmt.Sprintf("misalloc_min_frac=%g", c.MisallocMinFrac),
		fmt.Sprintf("misalloc_frac_force_elbow=%g", c.MisallocFracForceElbow),
		fmt.Sprintf("misalloc_frac_force_coef=%g", c.MisallocFracForceCoef),
		fmt.Sprintf("min_margin_req=%g", c.MinMarginReq),
		fmt.Sprintf("order_timeout=%s", c.OrderTimeout),
		fmt.Sprintf("max_slippage=%g", c.MaxSlippage),
		fmt.Sprintf("rebalance_freq=%s", c.RebalanceFreq),
		fmt.Sprintf("liveness_timeout=%s", c.LivenessTimeout),
		fmt.Sprintf("armed=%t", c.Armed),
	}
	return strings.Join(lines, "\n")
}
