package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/validation"
)

var (
	// ErrMalformedPayload covers bodies that are not JSON or miss signed fields.
	ErrMalformedPayload = errors.New("malformed payment notification")
	// ErrBadSignature means the claimed signature does not match the shared secret.
	ErrBadSignature = errors.New("payment notification signature mismatch")
)

// Notification is the gateway's asynchronous status callback body.
type Notification struct {
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id" validate:"required"`
	StatusCode        string `json:"status_code" validate:"required,numeric"`
	GrossAmount       string `json:"gross_amount" validate:"required,decimal_amount"`
	SignatureKey      string `json:"signature_key" validate:"required,hexadecimal"`
	TransactionStatus string `json:"transaction_status"`
	PaymentType       string `json:"payment_type"`
	TransactionTime   string `json:"transaction_time"`
	FraudStatus       string `json:"fraud_status"`
}

// Verifier authenticates and normalizes payment notifications. It has no
// side effects beyond logging.
type Verifier struct {
	secret   string
	validate *validatorv10.Validate
	log      *logrus.Entry
}

// NewVerifier returns a Verifier bound to the gateway server key.
func NewVerifier(secret string, log *logrus.Entry) *Verifier {
	return &Verifier{
		secret:   secret,
		validate: validation.New(),
		log:      log.WithField("component", "verifier"),
	}
}

// Signature computes hex(sha512(orderID || statusCode || grossAmount || secret)).
func Signature(orderID, statusCode, grossAmount, secret string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + secret))
	return hex.EncodeToString(sum[:])
}

// Verify parses body, checks its signature and returns the normalized outcome.
// Any error means the notification must be discarded.
func (v *Verifier) Verify(body []byte) (Outcome, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		v.log.WithError(err).Warn("discarding unparseable payment notification")
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := v.validate.Struct(&n); err != nil {
		v.log.WithField("fields", validation.ErrorsToMap(err)).Warn("discarding incomplete payment notification")
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	expected := Signature(n.OrderID, n.StatusCode, n.GrossAmount, v.secret)
	claimed := strings.ToLower(n.SignatureKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(claimed)) != 1 {
		v.log.WithFields(logrus.Fields{
			"order_id":           n.OrderID,
			"transaction_status": n.TransactionStatus,
		}).Warn("discarding payment notification with bad signature")
		return Outcome{}, ErrBadSignature
	}

	out := Outcome{
		Status:        Normalize(n.TransactionStatus),
		RawStatus:     n.TransactionStatus,
		TransactionID: n.TransactionID,
		OrderID:       n.OrderID,
		PaymentType:   n.PaymentType,
	}
	v.log.WithFields(logrus.Fields{
		"order_id":       out.OrderID,
		"transaction_id": out.TransactionID,
		"status":         out.Status,
		"raw_status":     out.RawStatus,
	}).Info("payment notification verified")
	return out, nil
}
