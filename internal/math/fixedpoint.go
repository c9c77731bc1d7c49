// internal/math/fixedpoint.go
package math

import (
	"errors"
	"math/big"
	"sync"
)

// Fixed-point scales used across the ledger.
//
//	E6  coefficients, penalties, income shares
//	E8  oracle prices
//	E18 cumulative interest indexes
//	E24 per-second interest rates
const (
	E6Precision  = 6
	E8Precision  = 8
	E18Precision = 18
	E24Precision = 24
)

var (
	E6  = big.NewInt(1_000_000)
	E8  = big.NewInt(100_000_000)
	E18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	E24 = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

	Zero = big.NewInt(0)
	One  = big.NewInt(1)
)

// ErrUnderflow is returned by checked subtraction when the result
// would be negative. Balances and indexes are never negative.
var ErrUnderflow = errors.New("fixedpoint: result below zero")

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven // Banker's rounding
)

// intPool holds big.Int scratch values for intermediate products.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes a * b / denom into a fresh big.Int with the given
// rounding. denom must be positive; a and b must be non-negative.
func MulDiv(a, b, denom *big.Int, mode RoundingMode) *big.Int {
	product := getInt()
	product.Mul(a, b)

	quotient := new(big.Int)
	remainder := getInt()
	quotient.QuoRem(product, denom, remainder)

	switch mode {
	case RoundUp:
		if remainder.Sign() != 0 {
			quotient.Add(quotient, One)
		}
	case RoundHalfEven:
		// remainder*2 vs denom: >half rounds up, ==half rounds to even
		doubled := getInt()
		doubled.Lsh(remainder, 1)
		cmp := doubled.Cmp(denom)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, One)
		}
		putInt(doubled)
	}

	putInt(product)
	putInt(remainder)
	return quotient
}

// CheckedSub returns a - b, or ErrUnderflow when b > a.
func CheckedSub(a, b *big.Int) (*big.Int, error) {
	if a.Cmp(b) < 0 {
		return nil, ErrUnderflow
	}
	return new(big.Int).Sub(a, b), nil
}

// SaturatingSub returns a - b clamped at zero.
func SaturatingSub(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(a, b)
}

// Clone returns an owned copy of x. Nil is treated as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsZero reports whether x is nil or zero.
func IsZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}
