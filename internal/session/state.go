package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the session lifecycle position. Idle means there is no session.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingPayment State = "awaiting_payment"
	StatePaymentSettled  State = "payment_settled"
	StateCapturing       State = "capturing"
	StateResetting       State = "resetting"
)

// Method is how the session is being paid.
type Method string

const (
	MethodQRIS    Method = "qris"
	MethodVoucher Method = "voucher"
)

// Back-office sale types.
const (
	saleQRIS    = "qris"
	saleVoucher = "voucher"
)

// session is the single mutable record owned by the orchestrator loop.
type session struct {
	id        string
	state     State
	method    Method
	startedAt time.Time

	providerOrderID string
	amountDue       decimal.Decimal
	voucherCode     string
	qrURL           string
	saleType        string

	orderCreated   bool
	printConfirmed bool
	backofficeID   int
	deviceActive   bool

	// in-flight and failed collaborator calls
	charging        bool
	chargeFailed    bool
	checkingVoucher bool
	voucherFailed   bool
	orderPending    bool
	orderFailed     bool
	devicePending   bool
	deviceFailed    bool
	lastError       string
}

func (s *session) retryable() bool {
	return s.chargeFailed || s.voucherFailed || s.orderFailed || s.deviceFailed
}

// Snapshot is a read-only copy of the session for the UI shell.
type Snapshot struct {
	State             State      `json:"state"`
	SessionID         string     `json:"session_id,omitempty"`
	Method            Method     `json:"method,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	ProviderOrderID   string     `json:"provider_order_id,omitempty"`
	AmountDue         string     `json:"amount_due,omitempty"`
	VoucherCode       string     `json:"voucher_code,omitempty"`
	QRURL             string     `json:"qr_url,omitempty"`
	OrderCreated      bool       `json:"order_created"`
	PrintConfirmed    bool       `json:"print_confirmed"`
	BackofficeOrderID int        `json:"backoffice_order_id,omitempty"`
	DeviceActive      bool       `json:"device_active"`
	Busy              bool       `json:"busy"`
	Retryable         bool       `json:"retryable"`
	LastError         string     `json:"last_error,omitempty"`
}

func snapshotOf(s *session) Snapshot {
	if s == nil {
		return Snapshot{State: StateIdle}
	}
	started := s.startedAt
	return Snapshot{
		State:             s.state,
		SessionID:         s.id,
		Method:            s.method,
		StartedAt:         &started,
		ProviderOrderID:   s.providerOrderID,
		AmountDue:         s.amountDue.String(),
		VoucherCode:       s.voucherCode,
		QRURL:             s.qrURL,
		OrderCreated:      s.orderCreated,
		PrintConfirmed:    s.printConfirmed,
		BackofficeOrderID: s.backofficeID,
		DeviceActive:      s.deviceActive,
		Busy:              s.charging || s.checkingVoucher || s.orderPending || s.devicePending,
		Retryable:         s.retryable(),
		LastError:         s.lastError,
	}
}
