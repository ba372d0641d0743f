package decimal_test

import (
	"testing"

	dec "github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-engine/internal/decimal"
)

func TestFromInt(t *testing.T) {
	d := decimal.FromInt(100000)
	assert.True(t, d.Equal(dec.NewFromInt(100000)))
}

func TestFromString(t *testing.T) {
	d, err := decimal.FromString("123456.78")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.RequireFromString("123456.78")))

	_, err = decimal.FromString("not-a-number")
	require.Error(t, err)
}

func TestMustFromString(t *testing.T) {
	d := decimal.MustFromString("999.99")
	assert.True(t, d.Equal(dec.RequireFromString("999.99")))

	assert.Panics(t, func() {
		decimal.MustFromString("invalid")
	})
}

func TestRound2_HalfUp(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"10.005", "10.01"},
		{"10.004", "10"},
		{"0.125", "0.13"},
		{"2.675", "2.68"},
		{"99.995", "100"},
		{"13.2", "13.2"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := decimal.Round2(dec.RequireFromString(tt.in))
			assert.True(t, got.Equal(dec.RequireFromString(tt.expected)),
				"round2(%s): got %s, want %s", tt.in, got.String(), tt.expected)
		})
	}
}

func TestRound2_Idempotent(t *testing.T) {
	values := []string{"10.005", "0.0049", "123.456789", "7", "1.995", "0.5"}
	for _, v := range values {
		once := decimal.Round2(dec.RequireFromString(v))
		twice := decimal.Round2(once)
		assert.True(t, once.Equal(twice), "round2 not idempotent for %s", v)
	}
}

func TestRound_Places(t *testing.T) {
	got := decimal.Round(dec.RequireFromString("1.234565"), 5)
	assert.Equal(t, "1.23457", got.String())
}

func TestMultiplyRate(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		rate     string
		expected string
	}{
		{"10% of 100", "100", "10", "10"},
		{"12% of 110", "110", "12", "13.2"},
		{"1.65% of 1000", "1000", "1.65", "16.5"},
		{"7.6% of 333.33 rounds half-up", "333.33", "7.6", "25.33"},
		{"zero rate", "500", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decimal.MultiplyRate(dec.RequireFromString(tt.base), dec.RequireFromString(tt.rate))
			assert.True(t, got.Equal(dec.RequireFromString(tt.expected)),
				"got %s, want %s", got.String(), tt.expected)
		})
	}
}

func TestMultiplyRatePtr_NilPropagates(t *testing.T) {
	rate := decimal.PtrString("10")
	assert.Nil(t, decimal.MultiplyRatePtr(nil, rate))
	assert.Nil(t, decimal.MultiplyRatePtr(rate, nil))

	got := decimal.MultiplyRatePtr(decimal.PtrString("50"), rate)
	require.NotNil(t, got)
	assert.Equal(t, "5", got.String())
}

func TestGrossUp(t *testing.T) {
	got := decimal.GrossUp(dec.NewFromInt(100), dec.NewFromInt(40))
	assert.True(t, got.Equal(dec.NewFromInt(140)))
}

func TestSum(t *testing.T) {
	values := []dec.Decimal{
		dec.NewFromInt(100),
		dec.NewFromInt(200),
		dec.NewFromInt(300),
	}
	result := decimal.Sum(values)
	assert.True(t, result.Equal(dec.NewFromInt(600)))
}

func TestSum_Empty(t *testing.T) {
	result := decimal.Sum([]dec.Decimal{})
	assert.True(t, result.IsZero())
}

func TestSumPtr_SkipsNil(t *testing.T) {
	result := decimal.SumPtr(decimal.PtrString("1.5"), nil, decimal.PtrString("2.5"))
	assert.True(t, result.Equal(dec.NewFromInt(4)))
}

func TestOrZero(t *testing.T) {
	assert.True(t, decimal.OrZero(nil).IsZero())
	assert.Equal(t, "3.3", decimal.OrZero(decimal.PtrString("3.3")).String())
}

func TestIsPositive(t *testing.T) {
	assert.True(t, decimal.IsPositive(dec.NewFromInt(1)))
	assert.False(t, decimal.IsPositive(dec.Zero))
	assert.False(t, decimal.IsPositive(dec.NewFromInt(-1)))
}

func TestIsNonNegative(t *testing.T) {
	assert.True(t, decimal.IsNonNegative(dec.NewFromInt(1)))
	assert.True(t, decimal.IsNonNegative(dec.Zero))
	assert.False(t, decimal.IsNonNegative(dec.NewFromInt(-1)))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "10.00", decimal.Format2(dec.NewFromInt(10)))
	assert.Equal(t, "10.01", decimal.Format2(dec.RequireFromString("10.005")))
	assert.Equal(t, "2.5000", decimal.Format(dec.RequireFromString("2.5"), 4))
	assert.Equal(t, "0.00", decimal.Format2(dec.Zero))
}
