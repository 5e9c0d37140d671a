package fixed

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypermargin/pkg/apperrors"
)

func mustBig(t *testing.T, s string, scale uint32) Decimal {
	t.Helper()
	x, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	d, err := FromBigInt(x, scale)
	require.NoError(t, err)
	return d
}

func mustParse(t *testing.T, s string) Decimal {
	t.Helper()
	d, err := Parse(s)
	require.NoError(t, err)
	return d
}

func TestBigIntRoundTrip(t *testing.T) {
	require := require.New(t)

	maxMantissa := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))
	for _, s := range []string{"0", "1", "-1", "1837394864758478", "-79228162514264337593543950335", maxMantissa.String()} {
		for _, scale := range []uint32{0, 8, MaxScale} {
			x, _ := new(big.Int).SetString(s, 10)
			d, err := FromBigInt(x, scale)
			require.NoError(err)
			require.Equal(0, d.BigInt().Cmp(x), "mantissa %s scale %d", s, scale)
			require.Equal(scale, d.Scale())
		}
	}
}

func TestFromBigIntRejectsOutOfRange(t *testing.T) {
	require := require.New(t)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 96)
	_, err := FromBigInt(tooBig, 0)
	require.ErrorIs(err, apperrors.ErrOverflow)
	require.ErrorIs(err, apperrors.ErrValidation)

	_, err = FromBigInt(big.NewInt(1), MaxScale+1)
	require.ErrorIs(err, apperrors.ErrScale)
}

func TestZeroIsPositive(t *testing.T) {
	require := require.New(t)

	d, err := FromBigInt(big.NewInt(0), 6)
	require.NoError(err)
	require.True(d.IsPositive())
	require.False(d.IsNegative())

	neg, err := New(true, 0, 0, 0, 3)
	require.NoError(err)
	require.True(neg.IsPositive())
	require.Equal("0.000", neg.String())

	diff, err := FromInt64(5).Sub(FromInt64(5))
	require.NoError(err)
	require.True(diff.IsPositive())
}

func TestString(t *testing.T) {
	tests := []struct {
		mantissa string
		scale    uint32
		want     string
	}{
		{"1837394864758478", 8, "18373948.64758478"},
		{"-1", 0, "-1"},
		{"5", 3, "0.005"},
		{"-120", 2, "-1.20"},
		{"0", 0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, mustBig(t, tt.mantissa, tt.scale).String())
		})
	}
}

func TestFloat64Approximation(t *testing.T) {
	d := mustBig(t, "9007199254740991", 12)
	require.InDelta(t, 9007.199254740991, d.Float64(), 1e-9)
}

func TestArithmeticRescalesToLargerScale(t *testing.T) {
	require := require.New(t)

	a := mustParse(t, "1.5")
	b := mustParse(t, "0.25")

	sum, err := a.Add(b)
	require.NoError(err)
	require.Equal("1.75", sum.String())

	diff, err := b.Sub(a)
	require.NoError(err)
	require.Equal("-1.25", diff.String())

	prod, err := a.Mul(b)
	require.NoError(err)
	require.Equal("0.37", prod.String()) // 0.375 truncated at scale 2

	quot, err := a.Div(b)
	require.NoError(err)
	require.Equal("6.00", quot.String())
}

func TestTruncationTowardZero(t *testing.T) {
	require := require.New(t)

	one := FromInt64(1)
	three := FromInt64(3)
	q, err := one.Div(three)
	require.NoError(err)
	require.Equal("0", q.String())

	oneS, err := one.Rescale(6)
	require.NoError(err)
	q, err = oneS.Div(three)
	require.NoError(err)
	require.Equal("0.333333", q.String())

	q, err = oneS.Neg().Div(three)
	require.NoError(err)
	require.Equal("-0.333333", q.String())

	m, err := mustParse(t, "-0.07").Mul(mustParse(t, "0.5"))
	require.NoError(err)
	require.Equal("-0.03", m.String())
}

func TestDivisionByZero(t *testing.T) {
	_, err := FromInt64(10).Div(Zero)
	require.ErrorIs(t, err, apperrors.ErrDivisionByZero)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestOverflow(t *testing.T) {
	require := require.New(t)

	big96 := mustBig(t, "79228162514264337593543950335", 0)
	_, err := big96.Add(FromInt64(1))
	require.ErrorIs(err, apperrors.ErrOverflow)

	_, err = big96.Mul(FromInt64(2))
	require.ErrorIs(err, apperrors.ErrOverflow)

	_, err = big96.Rescale(1)
	require.ErrorIs(err, apperrors.ErrOverflow)
}

func TestCmpAcrossScales(t *testing.T) {
	require := require.New(t)

	require.Equal(0, mustParse(t, "1.50").Cmp(mustParse(t, "1.5")))
	require.Equal(-1, mustParse(t, "-2").Cmp(mustParse(t, "1.999")))
	require.Equal(1, mustParse(t, "-1.1").Cmp(mustParse(t, "-1.11")))
	require.True(Min(FromInt64(3), FromInt64(-4)).Equal(FromInt64(-4)))
	require.True(Max(FromInt64(3), FromInt64(-4)).Equal(FromInt64(3)))
}

func TestUint64(t *testing.T) {
	require := require.New(t)

	v, err := mustParse(t, "42.999").Uint64()
	require.NoError(err)
	require.Equal(uint64(42), v)

	_, err = FromInt64(-1).Uint64()
	require.ErrorIs(err, apperrors.ErrNegativeValue)

	_, err = mustBig(t, "18446744073709551616", 0).Uint64()
	require.ErrorIs(err, apperrors.ErrOverflow)
}

func TestEncodeDecode(t *testing.T) {
	require := require.New(t)

	d := mustBig(t, "-1837394864758478", 8)
	raw := d.Encode()
	require.Equal(byte(0x80), raw[3])
	require.Equal(byte(8), raw[2])

	got, err := Decode(raw[:])
	require.NoError(err)
	require.True(got.Equal(d))
	require.Equal(d.String(), got.String())

	raw[0] = 1
	_, err = Decode(raw[:])
	require.ErrorIs(err, apperrors.ErrInvalidEncoding)

	raw[0] = 0
	raw[2] = MaxScale + 1
	_, err = Decode(raw[:])
	require.ErrorIs(err, apperrors.ErrScale)

	_, err = Decode(raw[:4])
	require.ErrorIs(err, apperrors.ErrInvalidEncoding)
}

func TestFromInt64Extremes(t *testing.T) {
	require := require.New(t)

	require.Equal("-9223372036854775808", FromInt64(-9223372036854775808).String())
	require.Equal("18446744073709551615", FromUint64(^uint64(0)).String())
}

func TestShopspringInterop(t *testing.T) {
	require := require.New(t)

	d := mustParse(t, "-18373948.64758478")
	s := d.Shopspring()
	require.Equal("-18373948.64758478", s.String())

	back, err := FromShopspring(s)
	require.NoError(err)
	require.True(back.Equal(d))
}

func TestInt64(t *testing.T) {
	require := require.New(t)

	v, err := mustParse(t, "-42.9").Int64()
	require.NoError(err)
	require.Equal(int64(-42), v)

	v, err = FromInt64(-9223372036854775808).Int64()
	require.NoError(err)
	require.Equal(int64(-9223372036854775808), v)

	_, err = FromUint64(1 << 63).Int64()
	require.ErrorIs(err, apperrors.ErrOverflow)
}
