// Package notify shows rebalance targets on the operator's desktop.
package notify

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// displayFraction of the rebalance period a notification stays on screen,
// so consecutive notifications never stack.
const displayFraction = 0.99

// Desktop sends notifications through notify-send.
type Desktop struct {
	timeout time.Duration
	log     zerolog.Logger

	run func(name string, args ...string) error
}

// NewDesktop creates a notifier whose messages expire just before the next
// rebalance iteration.
func NewDesktop(period time.Duration, log zerolog.Logger) *Desktop {
	return &Desktop{
		timeout: time.Duration(float64(period) * displayFraction),
		log:     log.With().Str("component", "notify").Logger(),
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Notify shows msg. A missing or failing notify-send is reported, not fatal
// to the caller's decision.
func (d *Desktop) Notify(msg string) error {
	ms := strconv.FormatInt(d.timeout.Milliseconds(), 10)
	if err := d.run("notify-send", "-t", ms, msg); err != nil {
		return fmt.Errorf("notify-send failed: %w", err)
	}
	d.log.Debug().Str("message", msg).Msg("Desktop notification sent")
	return nil
}
