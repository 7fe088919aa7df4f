package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify with errors.Is.
var (
	// ErrSecurityFault marks a risk-policy block or a declined confirmation.
	ErrSecurityFault = errors.New("security fault")

	// ErrLiveness marks account or price data too stale to act on.
	ErrLiveness = errors.New("liveness check failed")

	// ErrAllocationInfeasible marks a solver that found no allocation.
	// It is the only error the rebalance worker recovers from.
	ErrAllocationInfeasible = errors.New("allocation infeasible")

	// ErrProtocolAnomaly marks an unexpected broker event or a fatal broker error code.
	ErrProtocolAnomaly = errors.New("protocol anomaly")

	// ErrConfigInvalid marks a startup configuration failure.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrUnaudited marks an order that reached placement without passing audit.
	ErrUnaudited = errors.New("order not audited")
)

// SecurityFault carries the rule that blocked a value.
type SecurityFault struct {
	Rule    string
	Value   string
	Message string
}

func (f *SecurityFault) Error() string {
	return fmt.Sprintf("security fault [%s](%s): %s", f.Rule, f.Value, f.Message)
}

// Unwrap lets errors.Is(err, ErrSecurityFault) match.
func (f *SecurityFault) Unwrap() error {
	return ErrSecurityFault
}

// Anomalyf builds a protocol anomaly error.
func Anomalyf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocolAnomaly, fmt.Sprintf(format, args...))
}
