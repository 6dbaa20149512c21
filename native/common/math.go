package common

import (
	"math/big"

	"github.com/holiman/uint256"
)

var maxUint256 = new(uint256.Int).SetAllOne()

// toUint256 converts v, treating nil and negative values as zero and
// saturating values wider than 256 bits.
func toUint256(v *big.Int) *uint256.Int {
	if v == nil || v.Sign() <= 0 {
		return new(uint256.Int)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return new(uint256.Int).Set(maxUint256)
	}
	return out
}

// SaturatingAdd returns a+b, clamped to the 256-bit range.
func SaturatingAdd(a, b *big.Int) *big.Int {
	sum, overflow := new(uint256.Int).AddOverflow(toUint256(a), toUint256(b))
	if overflow {
		return maxUint256.ToBig()
	}
	return sum.ToBig()
}

// SaturatingMul returns a*b, clamped to the 256-bit range.
func SaturatingMul(a, b *big.Int) *big.Int {
	product, overflow := new(uint256.Int).MulOverflow(toUint256(a), toUint256(b))
	if overflow {
		return maxUint256.ToBig()
	}
	return product.ToBig()
}

// SaturatingSub returns a-b, or zero when b exceeds a.
func SaturatingSub(a, b *big.Int) *big.Int {
	diff, underflow := new(uint256.Int).SubOverflow(toUint256(a), toUint256(b))
	if underflow {
		return new(big.Int)
	}
	return diff.ToBig()
}

// MulDiv returns a*b/d truncated toward zero. The intermediate product is
// computed at 512 bits so proportional shares never overflow; a result that
// does not fit in 256 bits saturates. Division by zero yields zero.
func MulDiv(a, b, d *big.Int) *big.Int {
	divisor := toUint256(d)
	if divisor.IsZero() {
		return new(big.Int)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(toUint256(a), toUint256(b), divisor)
	if overflow {
		return maxUint256.ToBig()
	}
	return out.ToBig()
}

// Percent returns v*pct/100.
func Percent(v *big.Int, pct uint64) *big.Int {
	return MulDiv(v, new(big.Int).SetUint64(pct), big.NewInt(100))
}

// MulUint64 returns v*n with saturation.
func MulUint64(v *big.Int, n uint64) *big.Int {
	return SaturatingMul(v, new(big.Int).SetUint64(n))
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// CopyAmount returns a defensive copy, mapping nil to zero.
func CopyAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
