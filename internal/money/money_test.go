package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "2.345", want: "2.35"},
		{in: "2.344", want: "2.34"},
		{in: "-2.345", want: "-2.35"},
		{in: "0.005", want: "0.01"},
		{in: "2700", want: "2700"},
		{in: "1.1", want: "1.10"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Round2(dec(tt.in))
			assert.Truef(t, got.Equal(dec(tt.want)), "Round2(%s) = %s, want %s", tt.in, got, tt.want)
		})
	}
}

func TestApplyDiscount_Boundaries(t *testing.T) {
	x := dec("1234.56")

	got, err := ApplyDiscount(x, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, got.Equal(x), "0%% discount changed amount: %s", got)

	got, err = ApplyDiscount(x, dec("100"))
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "100%% discount left %s", got)

	_, err = ApplyDiscount(x, dec("101"))
	assert.ErrorIs(t, err, ErrInvalidDiscount)

	_, err = ApplyDiscount(x, dec("-0.5"))
	assert.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestApplyDiscount_Exact(t *testing.T) {
	got, err := ApplyDiscount(dec("3000"), dec("10"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("2700")), "got %s", got)

	got, err = ApplyDiscount(dec("0.10"), dec("33.3"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("0.0667")), "got %s", got)
}

func TestClampPercent(t *testing.T) {
	assert.True(t, ClampPercent(dec("-5")).IsZero())
	assert.True(t, ClampPercent(dec("150")).Equal(dec("100")))
	assert.True(t, ClampPercent(dec("12.5")).Equal(dec("12.5")))
}

func TestIsFinitePositive(t *testing.T) {
	assert.True(t, IsFinitePositive(0))
	assert.True(t, IsFinitePositive(10.5))
	assert.False(t, IsFinitePositive(-1))
	assert.False(t, IsFinitePositive(math.NaN()))
	assert.False(t, IsFinitePositive(math.Inf(1)))
	assert.False(t, IsFinitePositive(math.Inf(-1)))
}

func TestFromFloat(t *testing.T) {
	d, err := FromFloat(12.5)
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("12.5")))

	_, err = FromFloat(math.NaN())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "integer", in: "1000", want: "1000"},
		{name: "comma separator", in: " 12,50 ", want: "12.5"},
		{name: "dot separator", in: "5.5", want: "5.5"},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "abc", wantErr: true},
		{name: "negative", in: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tt.want)), "got %s", got)
		})
	}
}
