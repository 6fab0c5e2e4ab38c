package payment

// Status is the closed set of internal payment outcomes.
type Status string

const (
	StatusSettled   Status = "SETTLED"
	StatusPending   Status = "PENDING"
	StatusDenied    Status = "DENIED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
	StatusUnknown   Status = "UNKNOWN"
)

// providerStatuses maps gateway transaction_status values; exact match only.
var providerStatuses = map[string]Status{
	"settlement": StatusSettled,
	"pending":    StatusPending,
	"expire":     StatusExpired,
	"cancel":     StatusCancelled,
	"deny":       StatusDenied,
}

// Normalize maps a provider status string to a Status. Anything not in the
// table is StatusUnknown.
func Normalize(raw string) Status {
	if s, ok := providerStatuses[raw]; ok {
		return s
	}
	return StatusUnknown
}

// Outcome is a verified, normalized payment notification. It carries no
// amount: the amount due belongs to the session.
type Outcome struct {
	Status        Status
	RawStatus     string // provider transaction_status as received
	TransactionID string
	OrderID       string
	PaymentType   string
}

// Terminal reports whether the outcome ends the payment attempt unsuccessfully.
func (o Outcome) Terminal() bool {
	switch o.Status {
	case StatusDenied, StatusCancelled, StatusExpired:
		return true
	}
	return false
}
