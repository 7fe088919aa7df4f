package risk

import (
	"fmt"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/rs/zerolog"
)

// CodePacingViolation is the broker's rate-limit error.
const CodePacingViolation = 420

// ErrorCatalogue maps broker error codes that may be logged and ignored.
// Every code it does not list is fatal.
type ErrorCatalogue struct {
	permitted map[int]zerolog.Level
}

// DefaultErrorCatalogue returns the codes tolerated in production.
func DefaultErrorCatalogue() *ErrorCatalogue {
	return &ErrorCatalogue{
		permitted: map[int]zerolog.Level{
			202:  zerolog.WarnLevel,  // order cancelled
			504:  zerolog.DebugLevel, // not connected
			2103: zerolog.WarnLevel,  // market data farm connection broken
			2104: zerolog.DebugLevel, // market data farm connection OK
			2106: zerolog.DebugLevel, // historical data farm connection OK
			2108: zerolog.DebugLevel, // market data farm inactive
			2158: zerolog.DebugLevel, // sec-def data farm connection OK
		},
	}
}

// Classify returns the log level for a permitted code, or a protocol
// anomaly for the pacing violation and every unlisted code.
func (c *ErrorCatalogue) Classify(code int, msg string) (zerolog.Level, error) {
	if code == CodePacingViolation {
		return zerolog.ErrorLevel, fmt.Errorf("%w: pacing violation (%d): %s", domain.ErrProtocolAnomaly, code, msg)
	}
	if level, ok := c.permitted[code]; ok {
		return level, nil
	}
	return zerolog.ErrorLevel, fmt.Errorf("%w: broker error %d: %s", domain.ErrProtocolAnomaly, code, msg)
}
