package backoffice

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VoucherKind is how a voucher discounts the booth price.
type VoucherKind string

const (
	VoucherFull       VoucherKind = "full"
	VoucherPercentage VoucherKind = "percentage"
	VoucherNominal    VoucherKind = "nominal"
)

// ParseVoucherKind accepts the back-office voucher_type strings case-insensitively.
func ParseVoucherKind(s string) (VoucherKind, bool) {
	switch VoucherKind(strings.ToLower(strings.TrimSpace(s))) {
	case VoucherFull:
		return VoucherFull, true
	case VoucherPercentage:
		return VoucherPercentage, true
	case VoucherNominal:
		return VoucherNominal, true
	}
	return "", false
}

// VoucherOutcome is the result of one voucher check. It is not stored past
// the check that produced it.
type VoucherOutcome struct {
	Code          string
	IsValid       bool
	Kind          VoucherKind
	DiscountValue decimal.Decimal
	Expiry        *time.Time
	Message       string
}

// Expired reports whether the voucher expiry is set and before now.
func (v VoucherOutcome) Expired(now time.Time) bool {
	return v.Expiry != nil && v.Expiry.Before(now)
}

// Quote is the price after applying a voucher.
type Quote struct {
	Price           decimal.Decimal
	DiscountAmount  decimal.Decimal
	DiscountedPrice decimal.Decimal
}

// Apply computes the discount for price. Full vouchers discount everything;
// the discounted price is clamped at zero and rounded up to whole currency
// units, the only amounts the gateway charges.
func (v VoucherOutcome) Apply(price decimal.Decimal) Quote {
	var discount decimal.Decimal
	switch v.Kind {
	case VoucherFull:
		discount = price
	case VoucherPercentage:
		discount = price.Mul(v.DiscountValue).Div(decimal.NewFromInt(100))
	case VoucherNominal:
		discount = v.DiscountValue
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	discounted := price.Sub(discount).Ceil()
	if discounted.IsNegative() {
		discounted = decimal.Zero
	}
	if discounted.GreaterThan(price) {
		discounted = price
	}
	discount = price.Sub(discounted)
	return Quote{Price: price, DiscountAmount: discount, DiscountedPrice: discounted}
}
