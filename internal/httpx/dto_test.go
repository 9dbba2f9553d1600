package httpx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

func TestToCents(t *testing.T) {
	cases := []struct {
		in     string
		cents  int64
		reason string
	}{
		{in: "0", cents: 0},
		{in: "20", cents: 2000},
		{in: "45.5", cents: 4550},
		{in: "-1.25", cents: -125},
		{in: "92233720368547758.07", cents: 9223372036854775807},
		{in: "1.005", reason: "at most two decimal places"},
		{in: "1e25", reason: "out of range"},
		{in: "92233720368547758.08", reason: "out of range"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := toCents("tip", decimal.RequireFromString(c.in))
			if c.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, c.cents, got)
				return
			}
			var invalid *orders.ValidationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "tip", invalid.Field)
			assert.Equal(t, c.reason, invalid.Reason)
		})
	}
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "68.00", money(6800))
	assert.Equal(t, "0.05", money(5))
	assert.Equal(t, "0.00", money(0))
}
