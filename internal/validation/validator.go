package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a configured validator with the custom tags used across the kiosk:
//
//	decimal_amount  string parses as a non-negative decimal (gateway gross_amount, prices)
//	voucher_code    trimmed code of 4..32 printable characters without spaces
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("decimal_amount", decimalAmount)
	_ = v.RegisterValidation("voucher_code", voucherCode)

	return v
}

func decimalAmount(fl validatorv10.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return !d.IsNegative()
}

func voucherCode(fl validatorv10.FieldLevel) bool {
	code := fl.Field().String()
	if code != strings.TrimSpace(code) || len(code) < 4 || len(code) > 32 {
		return false
	}
	for _, r := range code {
		if r <= ' ' || r > '~' {
			return false
		}
	}
	return true
}
