package domain

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder() Order {
	return Order{
		Instrument:  NewInstrument("VTI", "ARCA", "USD"),
		Action:      ActionBuy,
		Quantity:    10,
		LimitPrice:  200.5,
		OrderType:   OrderTypeMidprice,
		TimeInForce: TimeInForceGTD,
		Transmit:    true,
	}
}

func TestOrderAudit(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Order)
		armed   bool
		wantErr bool
	}{
		{name: "armed transmitting", armed: true},
		{name: "disarmed dry run", mutate: func(o *Order) { o.Transmit = false }},
		{name: "disarmed transmitting", wantErr: true},
		{name: "wrong order type", armed: true, mutate: func(o *Order) { o.OrderType = "LMT" }, wantErr: true},
		{name: "outside rth", armed: true, mutate: func(o *Order) { o.OutsideRTH = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrder()
			if tt.mutate != nil {
				tt.mutate(&o)
			}
			err := o.Audit(tt.armed)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnaudited))
				assert.False(t, o.Audited())
				return
			}
			require.NoError(t, err)
			assert.True(t, o.Audited())
		})
	}
}

func TestOrderNotional(t *testing.T) {
	o := newTestOrder()
	assert.InDelta(t, 2005.0, o.Notional(), 1e-9)
	assert.Equal(t, "BUY 10 VTI @ 200.50", o.String())
}

func TestGoodTill(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts := time.Date(2024, 7, 1, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, "20240701 10:00:00 EDT", GoodTill(ts, loc))
}

func TestSecurityFaultUnwrap(t *testing.T) {
	var err error = &SecurityFault{Rule: "ORDER SIZE", Value: "300", Message: "Large order size."}
	assert.ErrorIs(t, err, ErrSecurityFault)
	assert.Contains(t, err.Error(), "ORDER SIZE")

	var fault *SecurityFault
	assert.True(t, errors.As(err, &fault))

	assert.ErrorIs(t, Anomalyf("unknown order %d", 7), ErrProtocolAnomaly)
}
