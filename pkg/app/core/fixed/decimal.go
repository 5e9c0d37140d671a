// Package fixed implements the 96-bit scaled decimal used by the margin
// program for every balance, ratio and accumulator.
package fixed

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hypermargin/pkg/apperrors"
)

const (
	// MaxScale is the largest number of fractional digits a Decimal can carry
	MaxScale = 28

	// EncodedLen is the size of the on-chain representation
	EncodedLen = 16

	signMask   = 0x8000_0000
	scaleMask  = 0x00ff_0000
	scaleShift = 16
)

// Decimal is a signed 96-bit integer magnitude divided by 10^scale.
// Value = (hi·2^64 + mid·2^32 + lo) / 10^scale, negated when neg is set.
// Zero is never negative.
type Decimal struct {
	neg   bool
	hi    uint32
	mid   uint32
	lo    uint32
	scale uint32
}

// Zero is the zero value at scale 0
var Zero = Decimal{}

var (
	maxMagnitude = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 96), 1)
	pow10        [MaxScale + 1]*uint256.Int
)

func init() {
	pow10[0] = uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := 1; i <= MaxScale; i++ {
		pow10[i] = new(uint256.Int).Mul(pow10[i-1], ten)
	}
}

// New builds a Decimal from its raw words
func New(neg bool, hi, mid, lo, scale uint32) (Decimal, error) {
	if scale > MaxScale {
		return Decimal{}, fmt.Errorf("scale %d: %w", scale, apperrors.ErrScale)
	}
	d := Decimal{neg: neg, hi: hi, mid: mid, lo: lo, scale: scale}
	if d.IsZero() {
		d.neg = false
	}
	return d, nil
}

// FromBigInt interprets x as a mantissa at the given scale: x / 10^scale
func FromBigInt(x *big.Int, scale uint32) (Decimal, error) {
	if scale > MaxScale {
		return Decimal{}, fmt.Errorf("scale %d: %w", scale, apperrors.ErrScale)
	}
	abs := new(big.Int).Abs(x)
	if abs.BitLen() > 96 {
		return Decimal{}, fmt.Errorf("mantissa %s: %w", x.String(), apperrors.ErrOverflow)
	}
	m, _ := uint256.FromBig(abs)
	return fromMagnitude(x.Sign() < 0, m, scale)
}

// FromInt64 returns v at scale 0
func FromInt64(v int64) Decimal {
	if v >= 0 {
		return FromUint64(uint64(v))
	}
	// -MinInt64 does not fit int64; go through uint64 two's complement
	d := FromUint64(uint64(-(v + 1)) + 1)
	d.neg = true
	return d
}

// FromUint64 returns v at scale 0
func FromUint64(v uint64) Decimal {
	return Decimal{mid: uint32(v >> 32), lo: uint32(v)}
}

// Parse reads a plain decimal string such as "-12.5" or "0.000001".
// The number of fractional digits becomes the scale.
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Decimal{}, fmt.Errorf("parse %q: %w", s, apperrors.ErrInvalidEncoding)
	}
	return FromShopspring(d)
}

// FromShopspring converts a shopspring decimal without rounding
func FromShopspring(d decimal.Decimal) (Decimal, error) {
	coef := d.Coefficient()
	exp := d.Exponent()
	if exp > 0 {
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
		exp = 0
	}
	return FromBigInt(coef, uint32(-exp))
}

func fromMagnitude(neg bool, m *uint256.Int, scale uint32) (Decimal, error) {
	if m.Gt(maxMagnitude) {
		return Decimal{}, apperrors.ErrOverflow
	}
	d := Decimal{
		neg:   neg,
		hi:    uint32(m[1]),
		mid:   uint32(m[0] >> 32),
		lo:    uint32(m[0]),
		scale: scale,
	}
	if d.IsZero() {
		d.neg = false
	}
	return d, nil
}

func (d Decimal) magnitude() *uint256.Int {
	return &uint256.Int{uint64(d.mid)<<32 | uint64(d.lo), uint64(d.hi), 0, 0}
}

// BigInt returns the signed mantissa, the exact inverse of FromBigInt
func (d Decimal) BigInt() *big.Int {
	m := d.magnitude().ToBig()
	if d.neg {
		m.Neg(m)
	}
	return m
}

// Scale returns the number of fractional digits
func (d Decimal) Scale() uint32 { return d.scale }

// IsZero reports a zero mantissa at any scale
func (d Decimal) IsZero() bool { return d.hi|d.mid|d.lo == 0 }

// IsNegative reports a value below zero
func (d Decimal) IsNegative() bool { return d.neg }

// IsPositive reports a non-negative value; zero counts as positive
func (d Decimal) IsPositive() bool { return !d.neg }

// Neg flips the sign, leaving zero as it is
func (d Decimal) Neg() Decimal {
	if d.IsZero() {
		return d
	}
	d.neg = !d.neg
	return d
}

// Abs clears the sign
func (d Decimal) Abs() Decimal {
	d.neg = false
	return d
}

// Rescale changes the number of fractional digits. Raising the scale can
// overflow; lowering it truncates toward zero.
func (d Decimal) Rescale(scale uint32) (Decimal, error) {
	if scale > MaxScale {
		return Decimal{}, fmt.Errorf("rescale to %d: %w", scale, apperrors.ErrScale)
	}
	switch {
	case scale == d.scale:
		return d, nil
	case scale > d.scale:
		m, overflow := new(uint256.Int).MulOverflow(d.magnitude(), pow10[scale-d.scale])
		if overflow {
			return Decimal{}, apperrors.ErrOverflow
		}
		return fromMagnitude(d.neg, m, scale)
	default:
		m := new(uint256.Int).Div(d.magnitude(), pow10[d.scale-scale])
		return fromMagnitude(d.neg, m, scale)
	}
}

// align rescales both operands to the larger of their scales
func align(a, b Decimal) (Decimal, Decimal, error) {
	s := max(a.scale, b.scale)
	ra, err := a.Rescale(s)
	if err != nil {
		return Decimal{}, Decimal{}, err
	}
	rb, err := b.Rescale(s)
	if err != nil {
		return Decimal{}, Decimal{}, err
	}
	return ra, rb, nil
}

// Add returns d+o at the larger operand scale
func (d Decimal) Add(o Decimal) (Decimal, error) {
	a, b, err := align(d, o)
	if err != nil {
		return Decimal{}, fmt.Errorf("add: %w", err)
	}
	ma, mb := a.magnitude(), b.magnitude()
	if a.neg == b.neg {
		res, err := fromMagnitude(a.neg, ma.Add(ma, mb), a.scale)
		if err != nil {
			return Decimal{}, fmt.Errorf("add: %w", err)
		}
		return res, nil
	}
	if ma.Lt(mb) {
		return fromMagnitude(b.neg, mb.Sub(mb, ma), a.scale)
	}
	return fromMagnitude(a.neg, ma.Sub(ma, mb), a.scale)
}

// Sub returns d-o at the larger operand scale
func (d Decimal) Sub(o Decimal) (Decimal, error) {
	return d.Add(o.Neg())
}

// Mul returns d·o at the larger operand scale.
// Formula: A·B / 10^s, truncated toward zero
func (d Decimal) Mul(o Decimal) (Decimal, error) {
	a, b, err := align(d, o)
	if err != nil {
		return Decimal{}, fmt.Errorf("mul: %w", err)
	}
	// both magnitudes are below 2^96, the product fits in 192 bits
	m := new(uint256.Int).Mul(a.magnitude(), b.magnitude())
	m.Div(m, pow10[a.scale])
	res, err := fromMagnitude(a.neg != b.neg, m, a.scale)
	if err != nil {
		return Decimal{}, fmt.Errorf("mul: %w", err)
	}
	return res, nil
}

// Div returns d/o at the larger operand scale.
// Formula: A·10^s / B, truncated toward zero
func (d Decimal) Div(o Decimal) (Decimal, error) {
	if o.IsZero() {
		return Decimal{}, apperrors.ErrDivisionByZero
	}
	a, b, err := align(d, o)
	if err != nil {
		return Decimal{}, fmt.Errorf("div: %w", err)
	}
	m := new(uint256.Int).Mul(a.magnitude(), pow10[a.scale])
	m.Div(m, b.magnitude())
	res, err := fromMagnitude(a.neg != b.neg, m, a.scale)
	if err != nil {
		return Decimal{}, fmt.Errorf("div: %w", err)
	}
	return res, nil
}

// Cmp compares values regardless of scale: -1, 0 or +1
func (d Decimal) Cmp(o Decimal) int {
	if d.neg != o.neg {
		if d.neg {
			return -1
		}
		return 1
	}
	// compare magnitudes without the 96-bit bound, 2^96·10^28 fits in 256 bits
	ma, mb := d.magnitude(), o.magnitude()
	if d.scale < o.scale {
		ma.Mul(ma, pow10[o.scale-d.scale])
	} else if o.scale < d.scale {
		mb.Mul(mb, pow10[d.scale-o.scale])
	}
	c := ma.Cmp(mb)
	if d.neg {
		return -c
	}
	return c
}

// comparisons are exact across scales
func (d Decimal) LessThan(o Decimal) bool    { return d.Cmp(o) < 0 }
func (d Decimal) GreaterThan(o Decimal) bool { return d.Cmp(o) > 0 }
func (d Decimal) Equal(o Decimal) bool       { return d.Cmp(o) == 0 }

// Min returns the smaller of a and b
func Min(a, b Decimal) Decimal {
	if b.LessThan(a) {
		return b
	}
	return a
}

// Max returns the larger of a and b
func Max(a, b Decimal) Decimal {
	if b.GreaterThan(a) {
		return b
	}
	return a
}

// Uint64 returns the integer part in native units, dropping fractional digits
func (d Decimal) Uint64() (uint64, error) {
	if d.neg {
		return 0, fmt.Errorf("%s: %w", d, apperrors.ErrNegativeValue)
	}
	m := new(uint256.Int).Div(d.magnitude(), pow10[d.scale])
	if !m.IsUint64() {
		return 0, fmt.Errorf("%s does not fit uint64: %w", d, apperrors.ErrOverflow)
	}
	return m.Uint64(), nil
}

// Int64 returns the signed integer part, dropping fractional digits
func (d Decimal) Int64() (int64, error) {
	m := new(uint256.Int).Div(d.magnitude(), pow10[d.scale])
	switch {
	case m.IsUint64() && m.Uint64() <= math.MaxInt64:
		v := int64(m.Uint64())
		if d.neg {
			return -v, nil
		}
		return v, nil
	case d.neg && m.IsUint64() && m.Uint64() == math.MaxInt64+1:
		return math.MinInt64, nil
	default:
		return 0, fmt.Errorf("%s does not fit int64: %w", d, apperrors.ErrOverflow)
	}
}

// Float64 is a lossy conversion for display and metrics
func (d Decimal) Float64() float64 {
	return d.Shopspring().InexactFloat64()
}

// Shopspring converts to an arbitrary precision shopspring decimal
func (d Decimal) Shopspring() decimal.Decimal {
	return decimal.NewFromBigInt(d.BigInt(), -int32(d.scale))
}

// String renders the integer part, then exactly scale fractional digits
func (d Decimal) String() string {
	digits := d.magnitude().Dec()
	if d.scale > 0 {
		if pad := int(d.scale) + 1 - len(digits); pad > 0 {
			digits = strings.Repeat("0", pad) + digits
		}
		cut := len(digits) - int(d.scale)
		digits = digits[:cut] + "." + digits[cut:]
	}
	if d.neg {
		return "-" + digits
	}
	return digits
}

// Encode returns the 16-byte little-endian layout:
// flags (scale in bits 16..23, sign in bit 31), hi, lo, mid
func (d Decimal) Encode() [EncodedLen]byte {
	var out [EncodedLen]byte
	flags := d.scale << scaleShift
	if d.neg {
		flags |= signMask
	}
	binary.LittleEndian.PutUint32(out[0:4], flags)
	binary.LittleEndian.PutUint32(out[4:8], d.hi)
	binary.LittleEndian.PutUint32(out[8:12], d.lo)
	binary.LittleEndian.PutUint32(out[12:16], d.mid)
	return out
}

// Decode parses the layout written by Encode
func Decode(b []byte) (Decimal, error) {
	if len(b) != EncodedLen {
		return Decimal{}, fmt.Errorf("decimal needs %d bytes, got %d: %w", EncodedLen, len(b), apperrors.ErrInvalidEncoding)
	}
	flags := binary.LittleEndian.Uint32(b[0:4])
	if flags&^(signMask|scaleMask) != 0 {
		return Decimal{}, fmt.Errorf("reserved flag bits %#x: %w", flags, apperrors.ErrInvalidEncoding)
	}
	return New(
		flags&signMask != 0,
		binary.LittleEndian.Uint32(b[4:8]),
		binary.LittleEndian.Uint32(b[12:16]),
		binary.LittleEndian.Uint32(b[8:12]),
		(flags&scaleMask)>>scaleShift,
	)
}

func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decimal) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
