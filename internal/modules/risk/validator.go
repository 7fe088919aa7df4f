package risk

import (
	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/metrics"
	"github.com/rs/zerolog"
)

// Validator applies Policy rules to live values.
// Every Validate call emits exactly one line on the security log.
type Validator struct {
	policy  *Policy
	confirm Confirmer
	log     zerolog.Logger
}

// NewValidator creates a validator. A nil confirmer declines every prompt.
func NewValidator(policy *Policy, confirm Confirmer, log zerolog.Logger) *Validator {
	if confirm == nil {
		confirm = Decline
	}
	return &Validator{
		policy:  policy,
		confirm: confirm,
		log:     log.With().Str("component", "risk").Logger(),
	}
}

// Policy returns the catalogue the validator enforces.
func (v *Validator) Policy() *Policy {
	return v.policy
}

// Validate passes value through rule and returns it unchanged when permitted.
//
// Block-tier values fail with a *domain.SecurityFault. Confirm-tier values
// block on the confirmer and fail the same way unless approved.
func Validate[T Number](v *Validator, rule Rule[T], value T) (T, error) {
	tier := rule.TierOf(value)
	shown := rule.format(value)
	metrics.RiskChecks.WithLabelValues(rule.Name, tier.String()).Inc()

	switch tier {
	case TierBlock:
		v.log.Error().
			Str("rule", rule.Name).
			Str("value", shown).
			Str("op", rule.Dir.op()).
			Str("threshold", rule.format(rule.Block)).
			Msg("rejected by rule")
		return value, fault(rule.Name, shown, rule.Message)

	case TierConfirm:
		prompt := Prompt{
			Rule:    rule.Name,
			Value:   shown,
			Op:      rule.Dir.op(),
			Level:   rule.format(rule.Confirm),
			Message: rule.Message,
		}
		if !v.confirm(prompt) {
			v.log.Error().
				Str("rule", rule.Name).
				Str("value", shown).
				Msg("declined by operator")
			return value, fault(rule.Name, shown, rule.Message)
		}
		v.log.Warn().
			Str("rule", rule.Name).
			Str("value", shown).
			Msg("permitted on override")
		return value, nil

	case TierNotify:
		v.log.Info().
			Str("rule", rule.Name).
			Str("value", shown).
			Msg("permitted as of right")
		return value, nil

	default:
		v.log.Debug().
			Str("rule", rule.Name).
			Str("value", shown).
			Msg("permitted as of right")
		return value, nil
	}
}

// Audit marks an order placeable, logging a failed audit on the security channel.
func (v *Validator) Audit(order *domain.Order, armed bool) error {
	if err := order.Audit(armed); err != nil {
		v.log.Error().Err(err).Str("order", order.String()).Msg("order failed audit")
		return err
	}
	return nil
}

func fault(rule, value, msg string) error {
	return &domain.SecurityFault{Rule: rule, Value: value, Message: msg}
}
