package numeric

import "testing"

const e8 = 100_000_000

func TestCTMulPriceMatchesScenario1(t *testing.T) {
	price := PriceFromUnits(20000, 0)
	collateral := CT(1 * e8)
	value := collateral.MulPrice(price)
	if value != ST(20000*e8) {
		t.Fatalf("expected 20000 ST, got %d", value)
	}
}

func TestBorrowFeeScenario1(t *testing.T) {
	fee := RatioFromFloat(0.005)
	amount := ST(10000 * e8)
	feeAmount := amount.MulRatio(fee)
	if feeAmount != ST(50*e8) {
		t.Fatalf("expected fee 50 ST, got %d", feeAmount)
	}
	net := amount.Sub(feeAmount)
	if net != ST(9950*e8) {
		t.Fatalf("expected net 9950 ST, got %d", net)
	}
}

func TestSTDivPriceScenario4(t *testing.T) {
	price := PriceFromUnits(20000, 0)
	net := ST(950 * e8)
	out := net.DivPrice(price)
	if out != CT(4_750_000) {
		t.Fatalf("expected 4750000 base units, got %d", out)
	}
}

func TestCollateralRatioScenario2(t *testing.T) {
	price := PriceFromUnits(12000, 0)
	collateral := CT(1 * e8)
	debt := ST(10000 * e8)
	value := collateral.MulPrice(price)
	cr := value.DivST(debt)
	mcr := RatioFromFloat(1.33)
	if !cr.LessThan(mcr) {
		t.Fatalf("expected CR < MCR, got %s vs %s", cr, mcr)
	}
}

func TestRatioPowZeroIsOne(t *testing.T) {
	r := RatioFromFloat(0.94)
	if r.Pow(0).Cmp(RatioOne) != 0 {
		t.Fatalf("expected pow(0) == 1")
	}
}

func TestCTSubUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on underflow")
		}
	}()
	_ = CT(1).Sub(CT(2))
}

func TestRatioOfTokensDimensionless(t *testing.T) {
	a := ST(200 * e8)
	b := ST(100 * e8)
	r := a.DivST(b)
	if r.Cmp(RatioFromFloat(2.0)) != 0 {
		t.Fatalf("expected ratio 2.0, got %s", r)
	}
}
