package document

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimal128 is the wire representation of a high-precision decimal: a 96-bit
// unsigned coefficient in three little-endian words plus a flags word carrying
// the scale (bits 16-23, at most 28) and the sign (bit 31). The four words are
// persisted in natural order (Lo, Mid, Hi, Flags).
type Decimal128 struct {
	Lo    uint32
	Mid   uint32
	Hi    uint32
	Flags uint32
}

const (
	// MaxDecimalScale is the largest representable number of fractional
	// digits.
	MaxDecimalScale = 28

	decimalScaleShift = 16
	decimalScaleMask  = 0x00FF0000
	decimalSignMask   = 0x80000000
)

// ErrDecimalOutOfRange is returned when a decimal cannot be represented in
// the 96-bit coefficient layout.
var ErrDecimalOutOfRange = errors.New("document: decimal out of range")

// NewDecimal128 converts d into the four-word layout. Values with more than
// MaxDecimalScale fractional digits are rounded half away from zero first.
// Coefficients beyond 96 bits return ErrDecimalOutOfRange.
func NewDecimal128(d decimal.Decimal) (Decimal128, error) {
	if -d.Exponent() > MaxDecimalScale {
		d = d.Round(MaxDecimalScale)
	}

	coeff := d.Coefficient()
	neg := coeff.Sign() < 0
	coeff.Abs(coeff)

	scale := -d.Exponent()
	if scale < 0 {
		// The layout has no negative scale; fold the exponent into the
		// coefficient.
		coeff.Mul(coeff, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-scale)), nil))
		scale = 0
	}

	if coeff.BitLen() > 96 {
		return Decimal128{}, ErrDecimalOutOfRange
	}

	var buf [12]byte
	coeff.FillBytes(buf[:])

	flags := uint32(scale) << decimalScaleShift //nolint:gosec // scale is 0..28
	if neg {
		flags |= decimalSignMask
	}

	return Decimal128{
		Lo:    binary.BigEndian.Uint32(buf[8:12]),
		Mid:   binary.BigEndian.Uint32(buf[4:8]),
		Hi:    binary.BigEndian.Uint32(buf[0:4]),
		Flags: flags,
	}, nil
}

// ParseDecimal128 parses a decimal string such as "123.456" or "-0.5e3".
func ParseDecimal128(s string) (Decimal128, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal128{}, err
	}
	return NewDecimal128(d)
}

// Scale returns the number of digits to the right of the decimal point.
func (d Decimal128) Scale() uint8 {
	return uint8((d.Flags & decimalScaleMask) >> decimalScaleShift) //nolint:gosec // masked to one byte
}

// IsNegative reports whether the sign bit is set.
func (d Decimal128) IsNegative() bool { return d.Flags&decimalSignMask != 0 }

// Decimal converts the wire layout back into an arbitrary-precision decimal.
func (d Decimal128) Decimal() decimal.Decimal {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], d.Hi)
	binary.BigEndian.PutUint32(buf[4:8], d.Mid)
	binary.BigEndian.PutUint32(buf[8:12], d.Lo)

	coeff := new(big.Int).SetBytes(buf[:])
	if d.IsNegative() {
		coeff.Neg(coeff)
	}
	return decimal.NewFromBigInt(coeff, -int32(d.Scale()))
}

// Float64 returns the nearest float64.
func (d Decimal128) Float64() float64 { return d.Decimal().InexactFloat64() }

// Compare returns -1, 0 or +1 ordering d against o numerically.
func (d Decimal128) Compare(o Decimal128) int { return d.Decimal().Cmp(o.Decimal()) }

// String implements fmt.Stringer.
func (d Decimal128) String() string { return d.Decimal().String() }
