package validation

// VoucherRequest is the payload for POST /kiosk/vouchers.
type VoucherRequest struct {
	Code string `json:"code" validate:"required,voucher_code"`
}

// ResetRequest is the payload for POST /kiosk/reset; the operator PIN guards it.
type ResetRequest struct {
	Pin string `json:"pin" validate:"required,numeric,min=4,max=8"`
}
