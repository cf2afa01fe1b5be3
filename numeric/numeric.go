// Package numeric implements the protocol's fixed-point arithmetic kernel.
//
// Token amounts (CT, ST) are unsigned 64-bit counts of 1e-8 base units, the
// same representation the teacher's ray-precision lending math promotes to
// big.Int for multiplication/division before truncating back down. Price and
// Ratio are decimal values backed by a big.Int numerator over a fixed 1e18
// denominator ("scale"), giving more than the 96 bits of significand the
// protocol requires for reproducible liquidation math across nodes.
//
// Only the conversions in the package's operator set are exposed; there is
// no generic numeric interface to accidentally multiply a CT by an ST.
package numeric

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// scale is the fixed-point denominator for Price and Ratio. The teacher's
// lending engine and its math helpers disagree internally on ray precision
// (1e18 in one file, 1e27 in another); this package picks 1e18 and applies
// it everywhere, consistently.
const scale = 1_000_000_000_000_000_000

var scaleBig = big.NewInt(scale)

// tokenScale is the base-unit scale for CT/ST amounts (1e-8 per the spec).
const tokenScale = 100_000_000

// CT is a whole-number count of 1e-8 collateral-token base units.
type CT uint64

// ST is a whole-number count of 1e-8 stable-token base units.
type ST uint64

// Ratio is a dimensionless decimal, stored as a big.Int numerator over scale.
type Ratio struct{ n *big.Int }

// Price is a USD-per-CT decimal, stored the same way as Ratio.
type Price struct{ n *big.Int }

func newRatio(n *big.Int) Ratio { return Ratio{n: n} }
func newPrice(n *big.Int) Price { return Price{n: n} }

// RatioOne is the multiplicative identity.
var RatioOne = newRatio(new(big.Int).Set(scaleBig))

// RatioZero is the additive identity.
var RatioZero = newRatio(big.NewInt(0))

// RatioFromFloat builds a Ratio from a float64 literal (constants like MCR,
// CCR, and the redemption-fee bounds). Not used for anything derived from
// untrusted input.
func RatioFromFloat(f float64) Ratio {
	bf := new(big.Float).SetFloat64(f)
	bf.Mul(bf, new(big.Float).SetInt(scaleBig))
	n, _ := bf.Int(nil)
	return newRatio(n)
}

// PriceFromUnits constructs a Price from an oracle reading of rate/10^decimals.
func PriceFromUnits(rate uint64, decimals uint32) Price {
	n := new(big.Int).SetUint64(rate)
	n.Mul(n, scaleBig)
	d := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	n.Quo(n, d)
	return newPrice(n)
}

// RatioMax is a sentinel standing in for an infinite collateralization
// ratio, reported for a vault or the system total when debt is zero.
var RatioMax = newRatio(new(big.Int).Lsh(big.NewInt(1), 256))

func (r Ratio) bigRat() *big.Rat {
	return new(big.Rat).SetFrac(r.n, scaleBig)
}

// Float64 renders the ratio as a float64, for logging and metrics only.
func (r Ratio) Float64() float64 {
	f, _ := r.bigRat().Float64()
	return f
}

func (r Ratio) String() string {
	return formatScaled(r.n)
}

func (p Price) String() string {
	return formatScaled(p.n)
}

// Cmp compares two prices: -1, 0, 1.
func (p Price) Cmp(o Price) int { return p.n.Cmp(o.n) }

// LessThan reports whether p < o.
func (p Price) LessThan(o Price) bool { return p.Cmp(o) < 0 }

// MarshalJSON renders the scaled numerator as a decimal string, so a
// persisted snapshot survives round-tripping without losing precision to a
// JSON float.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.n == nil {
		return json.Marshal("0")
	}
	return json.Marshal(r.n.String())
}

// UnmarshalJSON parses the scaled numerator written by MarshalJSON.
func (r *Ratio) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("numeric: invalid Ratio json %q", s)
	}
	r.n = n
	return nil
}

// MarshalJSON renders the scaled numerator as a decimal string.
func (p Price) MarshalJSON() ([]byte, error) {
	if p.n == nil {
		return json.Marshal("0")
	}
	return json.Marshal(p.n.String())
}

// UnmarshalJSON parses the scaled numerator written by MarshalJSON.
func (p *Price) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("numeric: invalid Price json %q", s)
	}
	p.n = n
	return nil
}

func formatScaled(n *big.Int) string {
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(n, scaleBig, frac)
	if frac.Sign() < 0 {
		frac.Neg(frac)
	}
	return fmt.Sprintf("%s.%018s", whole.String(), frac.String())
}

// Cmp compares two ratios: -1, 0, 1.
func (r Ratio) Cmp(o Ratio) int { return r.n.Cmp(o.n) }

// LessThan reports whether r < o.
func (r Ratio) LessThan(o Ratio) bool { return r.Cmp(o) < 0 }

// GreaterOrEqual reports whether r >= o.
func (r Ratio) GreaterOrEqual(o Ratio) bool { return r.Cmp(o) >= 0 }

// Clamp restricts r to the closed interval [lo, hi].
func (r Ratio) Clamp(lo, hi Ratio) Ratio {
	if r.Cmp(lo) < 0 {
		return lo
	}
	if r.Cmp(hi) > 0 {
		return hi
	}
	return r
}

// Add returns r + o.
func (r Ratio) Add(o Ratio) Ratio {
	return newRatio(new(big.Int).Add(r.n, o.n))
}

// Mul implements `Ratio * Ratio -> Ratio`.
func (r Ratio) Mul(o Ratio) Ratio {
	prod := new(big.Int).Mul(r.n, o.n)
	prod.Quo(prod, scaleBig)
	return newRatio(prod)
}

// Pow implements `Ratio.pow(n: u64) -> Ratio`, n=0 yielding 1.
func (r Ratio) Pow(n uint64) Ratio {
	result := RatioOne
	base := r
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base)
		}
		base = base.Mul(base)
		n >>= 1
	}
	return result
}

// mulDivScaled computes floor(a * b.n / scale) for a token base-unit count a
// and a scaled decimal b, reporting overflow rather than wrapping.
func mulDivScaled(a uint64, b *big.Int) uint64 {
	prod := new(big.Int).SetUint64(a)
	prod.Mul(prod, b)
	prod.Quo(prod, scaleBig)
	if !prod.IsUint64() {
		panic(fmt.Sprintf("numeric: overflow computing %d * %s", a, formatScaled(b)))
	}
	return prod.Uint64()
}

// divScaled computes floor(a * scale / b.n) for a token base-unit count a and
// a scaled decimal divisor b.
func divScaled(a uint64, b *big.Int) uint64 {
	if b.Sign() == 0 {
		panic("numeric: division by zero")
	}
	num := new(big.Int).SetUint64(a)
	num.Mul(num, scaleBig)
	num.Quo(num, b)
	if !num.IsUint64() {
		panic(fmt.Sprintf("numeric: overflow dividing %d by %s", a, formatScaled(b)))
	}
	return num.Uint64()
}

// ratioOfTokens implements `Token / Token -> Ratio` for two raw base-unit
// counts sharing a denomination.
func ratioOfTokens(a, b uint64) Ratio {
	if b == 0 {
		panic("numeric: division by zero")
	}
	num := new(big.Int).SetUint64(a)
	num.Mul(num, scaleBig)
	num.Quo(num, new(big.Int).SetUint64(b))
	return newRatio(num)
}

// --- CT ---

// Add returns the exact sum; CT addition never overflows in practice at
// realistic supply levels but is checked regardless.
func (c CT) Add(o CT) CT {
	sum := uint64(c) + uint64(o)
	if sum < uint64(c) {
		panic("numeric: CT addition overflow")
	}
	return CT(sum)
}

// Sub returns c - o. Underflow (o > c) is a fatal contract violation, never
// a value the caller should recover from.
func (c CT) Sub(o CT) CT {
	if o > c {
		panic(fmt.Sprintf("numeric: CT underflow: %d - %d", c, o))
	}
	return c - o
}

// MulPrice implements `CT * Price -> ST`: the USD value of a CT amount.
func (c CT) MulPrice(p Price) ST {
	return ST(mulDivScaled(uint64(c), p.n))
}

// DivCT implements `CT / CT -> Ratio`.
func (c CT) DivCT(o CT) Ratio {
	return ratioOfTokens(uint64(c), uint64(o))
}

// MulRatio implements `Token * Ratio -> Token` for CT.
func (c CT) MulRatio(r Ratio) CT {
	return CT(mulDivScaled(uint64(c), r.n))
}

// Float64 renders the amount in whole CT units, for logging/metrics only.
func (c CT) Float64() float64 {
	return float64(c) / tokenScale
}

// LessThan reports whether c < o.
func (c CT) LessThan(o CT) bool { return c < o }

// --- ST ---

func (s ST) Add(o ST) ST {
	sum := uint64(s) + uint64(o)
	if sum < uint64(s) {
		panic("numeric: ST addition overflow")
	}
	return ST(sum)
}

func (s ST) Sub(o ST) ST {
	if o > s {
		panic(fmt.Sprintf("numeric: ST underflow: %d - %d", s, o))
	}
	return s - o
}

// MulPrice implements `ST * Price -> CT`. The redemption engine does not use
// it; it converts ST to CT with DivPrice.
func (s ST) MulPrice(p Price) CT {
	return CT(mulDivScaled(uint64(s), p.n))
}

// DivPrice implements `ST / Price -> CT`: the redeem/quote conversion.
func (s ST) DivPrice(p Price) CT {
	return CT(divScaled(uint64(s), p.n))
}

// DivST implements `ST / ST -> Ratio`.
func (s ST) DivST(o ST) Ratio {
	return ratioOfTokens(uint64(s), uint64(o))
}

// MulRatio implements `Token * Ratio -> Token` for ST.
func (s ST) MulRatio(r Ratio) ST {
	return ST(mulDivScaled(uint64(s), r.n))
}

func (s ST) Float64() float64 {
	return float64(s) / tokenScale
}

// LessThan reports whether s < o.
func (s ST) LessThan(o ST) bool { return s < o }
