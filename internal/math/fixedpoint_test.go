package math

import (
	"math/big"
	"testing"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestMulDivRounding(t *testing.T) {
	cases := []struct {
		name    string
		a, b, d int64
		mode    RoundingMode
		want    int64
	}{
		{"exact", 10, 3, 6, RoundDown, 5},
		{"down truncates", 7, 1, 2, RoundDown, 3},
		{"up bumps remainder", 7, 1, 2, RoundUp, 4},
		{"up exact stays", 8, 1, 2, RoundUp, 4},
		{"half even to even low", 1, 1, 2, RoundHalfEven, 0},
		{"half even to even high", 3, 1, 2, RoundHalfEven, 2},
		{"half even above half", 5, 2, 3, RoundHalfEven, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MulDiv(bi(tc.a), bi(tc.b), bi(tc.d), tc.mode)
			if got.Int64() != tc.want {
				t.Fatalf("MulDiv(%d,%d,%d) = %d, want %d", tc.a, tc.b, tc.d, got.Int64(), tc.want)
			}
		})
	}
}

func TestCheckedSub(t *testing.T) {
	if _, err := CheckedSub(bi(5), bi(7)); err != ErrUnderflow {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
	got, err := CheckedSub(bi(7), bi(5))
	if err != nil || got.Int64() != 2 {
		t.Fatalf("CheckedSub(7,5) = %v, %v", got, err)
	}
}

func TestSaturatingSub(t *testing.T) {
	if got := SaturatingSub(bi(3), bi(10)); got.Sign() != 0 {
		t.Fatalf("saturating sub should clamp to zero, got %v", got)
	}
	if got := SaturatingSub(bi(10), bi(3)); got.Int64() != 7 {
		t.Fatalf("SaturatingSub(10,3) = %v", got)
	}
}

func TestCompoundIndex(t *testing.T) {
	index := Clone(E18)

	// Zero elapsed and zero rate are both identity.
	if got := CompoundIndex(index, bi(123), 0, RoundDown); got.Cmp(index) != 0 {
		t.Fatalf("zero elapsed changed index: %v", got)
	}
	if got := CompoundIndex(index, bi(0), 100, RoundDown); got.Cmp(index) != 0 {
		t.Fatalf("zero rate changed index: %v", got)
	}

	// 10% per second for 1 second: rate = E24/10.
	rate := new(big.Int).Quo(E24, bi(10))
	got := CompoundIndex(index, rate, 1, RoundDown)
	want := new(big.Int).Quo(new(big.Int).Mul(E18, bi(11)), bi(10))
	if got.Cmp(want) != 0 {
		t.Fatalf("CompoundIndex = %v, want %v", got, want)
	}

	// Monotone: a positive rate never shrinks the index.
	if got.Cmp(index) < 0 {
		t.Fatal("index decreased under positive rate")
	}
}

func TestByIndexRatio(t *testing.T) {
	amount := bi(1000)
	oldIdx := Clone(E18)
	newIdx := new(big.Int).Quo(new(big.Int).Mul(E18, bi(3)), bi(2)) // 1.5x

	got := ByIndexRatio(amount, oldIdx, newIdx, RoundDown)
	if got.Int64() != 1500 {
		t.Fatalf("ByIndexRatio = %v, want 1500", got)
	}

	// Same index is identity, not a division round-trip.
	if got := ByIndexRatio(amount, oldIdx, oldIdx, RoundUp); got.Int64() != 1000 {
		t.Fatalf("identity ratio altered amount: %v", got)
	}
}

func TestSimpleInterest(t *testing.T) {
	principal := bi(1_000_000)
	rate := new(big.Int).Quo(E24, bi(100)) // 1% per second

	got := SimpleInterest(principal, rate, 10)
	if got.Int64() != 100_000 {
		t.Fatalf("SimpleInterest = %v, want 100000", got)
	}

	// Fractional interest rounds up.
	got = SimpleInterest(bi(1), rate, 1)
	if got.Int64() != 1 {
		t.Fatalf("fractional interest should round up to 1, got %v", got)
	}

	if got := SimpleInterest(principal, rate, 0); got.Sign() != 0 {
		t.Fatalf("zero elapsed accrued %v", got)
	}
}

func TestBlendStableRate(t *testing.T) {
	// 300 at rate 90 blended with 100 at rate 50:
	// (300*90 + 100*50) / 400 = 80, +1 bias = 81.
	got := BlendStableRate(bi(300), bi(90), bi(100), bi(50))
	if got.Int64() != 81 {
		t.Fatalf("BlendStableRate = %v, want 81", got)
	}

	// First tranche: average is the tranche rate plus the unit bias.
	got = BlendStableRate(bi(0), bi(0), bi(100), bi(50))
	if got.Int64() != 51 {
		t.Fatalf("first tranche blend = %v, want 51", got)
	}

	if got := BlendStableRate(bi(0), bi(0), bi(0), bi(0)); got.Sign() != 0 {
		t.Fatalf("empty blend = %v, want 0", got)
	}
}

func TestWeightedStableRate(t *testing.T) {
	// Same weights as the blend above, without the unit bias:
	// (300*90 + 100*50) / 400 = 80.
	got := WeightedStableRate(bi(300), bi(90), bi(100), bi(50))
	if got.Int64() != 80 {
		t.Fatalf("WeightedStableRate = %v, want 80", got)
	}

	got = WeightedStableRate(bi(0), bi(0), bi(100), bi(50))
	if got.Int64() != 50 {
		t.Fatalf("first tranche = %v, want 50", got)
	}

	if got := WeightedStableRate(bi(0), bi(0), bi(0), bi(0)); got.Sign() != 0 {
		t.Fatalf("empty aggregate = %v, want 0", got)
	}
}

func TestUnblendStableRate(t *testing.T) {
	// Removing 100 at rate 50 from a 400-at-80 aggregate restores the
	// remaining tranche's rate: (400*80 - 100*50) / 300 = 90.
	got := UnblendStableRate(bi(400), bi(80), bi(100), bi(50))
	if got.Int64() != 90 {
		t.Fatalf("UnblendStableRate = %v, want 90", got)
	}

	// Removing the whole pool zeroes the average.
	if got := UnblendStableRate(bi(400), bi(80), bi(400), bi(80)); got.Sign() != 0 {
		t.Fatalf("emptied pool average = %v, want 0", got)
	}
	if got := UnblendStableRate(bi(400), bi(80), bi(500), bi(80)); got.Sign() != 0 {
		t.Fatalf("over-removal average = %v, want 0", got)
	}

	// Rounding drift cannot drive the average negative: the removed
	// tranche's biased rate may exceed the floor-rounded aggregate.
	if got := UnblendStableRate(bi(100), bi(80), bi(99), bi(81)); got.Sign() < 0 {
		t.Fatalf("average went negative: %v", got)
	}
}

func TestInterpolateRate(t *testing.T) {
	r0, r1 := bi(1000), bi(2000)

	if got := InterpolateRate(500_000, 500_000, 600_000, r0, r1); got.Int64() != 1000 {
		t.Fatalf("at left endpoint got %v", got)
	}
	if got := InterpolateRate(600_000, 500_000, 600_000, r0, r1); got.Int64() != 2000 {
		t.Fatalf("at right endpoint got %v", got)
	}
	if got := InterpolateRate(550_000, 500_000, 600_000, r0, r1); got.Int64() != 1500 {
		t.Fatalf("midpoint got %v, want 1500", got)
	}
}
