package session

import "github.com/shopspring/decimal"

// IntentKind tags what the UI shell should do with an Intent.
type IntentKind string

const (
	IntentNavigate        IntentKind = "navigate"
	IntentShowQR          IntentKind = "show_qr"
	IntentStatus          IntentKind = "status"
	IntentNotify          IntentKind = "notify"
	IntentKioskVisibility IntentKind = "kiosk_visibility"
)

// View names a kiosk screen.
type View string

const (
	ViewIdle           View = "idle"
	ViewPaymentOptions View = "payment_options"
	ViewQRISPayment    View = "qris_payment"
	ViewVoucherPayment View = "voucher_payment"
)

// Intent is an instruction for the kiosk display. Only the fields for Kind are set.
type Intent struct {
	Kind    IntentKind `json:"kind"`
	View    View       `json:"view,omitempty"`
	URL     string     `json:"url,omitempty"`
	Amount  string     `json:"amount,omitempty"`
	Code    string     `json:"code,omitempty"`
	Text    string     `json:"text,omitempty"`
	Visible *bool      `json:"visible,omitempty"`
}

func Navigate(v View) Intent { return Intent{Kind: IntentNavigate, View: v} }

func ShowQR(url string, amount decimal.Decimal) Intent {
	return Intent{Kind: IntentShowQR, URL: url, Amount: amount.String()}
}

func Status(code, text string) Intent { return Intent{Kind: IntentStatus, Code: code, Text: text} }

func Notify(message string) Intent { return Intent{Kind: IntentNotify, Text: message} }

func KioskVisibility(visible bool) Intent {
	return Intent{Kind: IntentKioskVisibility, Visible: &visible}
}
