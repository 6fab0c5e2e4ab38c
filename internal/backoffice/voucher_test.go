package backoffice

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestApply_Percentage(t *testing.T) {
	v := VoucherOutcome{IsValid: true, Kind: VoucherPercentage, DiscountValue: decimal.NewFromInt(20)}

	q := v.Apply(decimal.NewFromInt(50000))
	if !q.DiscountAmount.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected discount 10000, got %s", q.DiscountAmount)
	}
	if !q.DiscountedPrice.Equal(decimal.NewFromInt(40000)) {
		t.Fatalf("expected discounted 40000, got %s", q.DiscountedPrice)
	}
}

func TestApply_FractionalRoundsUp(t *testing.T) {
	v := VoucherOutcome{IsValid: true, Kind: VoucherPercentage, DiscountValue: decimal.NewFromInt(20)}

	q := v.Apply(decimal.NewFromInt(50001))
	if !q.DiscountedPrice.Equal(decimal.NewFromInt(40001)) {
		t.Fatalf("expected discounted 40001, got %s", q.DiscountedPrice)
	}
	if !q.DiscountAmount.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected discount 10000, got %s", q.DiscountAmount)
	}

	// 99.5% of 100 leaves half a unit, which must not become a zero charge
	v.DiscountValue = decimal.RequireFromString("99.5")
	if q := v.Apply(decimal.NewFromInt(100)); !q.DiscountedPrice.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected discounted 1, got %s", q.DiscountedPrice)
	}
}

func TestApply_NominalClampsAtZero(t *testing.T) {
	v := VoucherOutcome{IsValid: true, Kind: VoucherNominal, DiscountValue: decimal.NewFromInt(75000)}

	q := v.Apply(decimal.NewFromInt(50000))
	if !q.DiscountedPrice.IsZero() {
		t.Fatalf("expected 0, got %s", q.DiscountedPrice)
	}
}

func TestApply_PercentageOverHundredClamps(t *testing.T) {
	v := VoucherOutcome{IsValid: true, Kind: VoucherPercentage, DiscountValue: decimal.NewFromInt(150)}

	if q := v.Apply(decimal.NewFromInt(50000)); !q.DiscountedPrice.IsZero() {
		t.Fatalf("expected 0, got %s", q.DiscountedPrice)
	}
}

func TestApply_Full(t *testing.T) {
	v := VoucherOutcome{IsValid: true, Kind: VoucherFull}

	q := v.Apply(decimal.NewFromInt(50000))
	if !q.DiscountedPrice.IsZero() || !q.DiscountAmount.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("unexpected quote %+v", q)
	}
}

func TestParseVoucherKind(t *testing.T) {
	if k, ok := ParseVoucherKind(" Percentage "); !ok || k != VoucherPercentage {
		t.Fatalf("unexpected %v %v", k, ok)
	}
	if _, ok := ParseVoucherKind("bogo"); ok {
		t.Fatal("expected unknown kind")
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if !(VoucherOutcome{Expiry: &past}).Expired(now) {
		t.Fatal("expected expired")
	}
	if (VoucherOutcome{Expiry: &future}).Expired(now) {
		t.Fatal("expected not expired")
	}
	if (VoucherOutcome{}).Expired(now) {
		t.Fatal("no expiry never expires")
	}
}
