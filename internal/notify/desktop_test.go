package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDesktopNotify(t *testing.T) {
	d := NewDesktop(10*time.Second, zerolog.New(nil).Level(zerolog.Disabled))

	var got []string
	d.run = func(name string, args ...string) error {
		got = append([]string{name}, args...)
		return nil
	}

	require.NoError(t, d.Notify("Rebalance targets: VTI+3"))
	assert.Equal(t, []string{"notify-send", "-t", "9900", "Rebalance targets: VTI+3"}, got)
}

func TestDesktopNotifyFailure(t *testing.T) {
	d := NewDesktop(time.Second, zerolog.New(nil).Level(zerolog.Disabled))
	d.run = func(string, ...string) error { return errors.New("executable file not found") }

	err := d.Notify("hello")
	assert.ErrorContains(t, err, "notify-send failed")
}
