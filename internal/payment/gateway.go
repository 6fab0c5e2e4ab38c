package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// GatewayError is a charge the gateway answered but refused.
type GatewayError struct {
	HTTPStatus    int
	StatusCode    string
	StatusMessage string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway refused charge: http=%d status_code=%s message=%q", e.HTTPStatus, e.StatusCode, e.StatusMessage)
}

// Charge is a created QRIS / e-wallet charge.
type Charge struct {
	OrderID       string
	TransactionID string
	QRURL         string
}

// GatewayConfig configures the charge client.
type GatewayConfig struct {
	BaseURL         string // e.g. https://api.sandbox.midtrans.com/v2/
	ServerKey       string
	NotificationURL string // sent as X-Override-Notification when set
	HTTPClient      *http.Client
}

// Gateway creates charges against the payment provider's core API.
type Gateway struct {
	cfg  GatewayConfig
	http *http.Client
	log  *logrus.Entry
}

// NewGateway returns a charge client.
func NewGateway(cfg GatewayConfig, log *logrus.Entry) *Gateway {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	return &Gateway{cfg: cfg, http: client, log: log.WithField("component", "gateway")}
}

type chargeRequest struct {
	PaymentType        string             `json:"payment_type"`
	TransactionDetails transactionDetails `json:"transaction_details"`
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type chargeResponse struct {
	StatusCode    string         `json:"status_code"`
	StatusMessage string         `json:"status_message"`
	TransactionID string         `json:"transaction_id"`
	OrderID       string         `json:"order_id"`
	Actions       []chargeAction `json:"actions"`
}

type chargeAction struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

// CreateCharge requests a QRIS charge for amount under orderID and returns the
// QR image URL. The amount is sent in whole currency units, rounded up.
func (g *Gateway) CreateCharge(ctx context.Context, orderID string, amount decimal.Decimal) (Charge, error) {
	reqBody, err := json.Marshal(chargeRequest{
		PaymentType: "qris",
		TransactionDetails: transactionDetails{
			OrderID:     orderID,
			GrossAmount: amount.Ceil().IntPart(),
		},
	})
	if err != nil {
		return Charge{}, fmt.Errorf("marshal charge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"charge", bytes.NewReader(reqBody))
	if err != nil {
		return Charge{}, fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(g.cfg.ServerKey+":")))
	if g.cfg.NotificationURL != "" {
		req.Header.Set("X-Override-Notification", g.cfg.NotificationURL)
	}

	g.log.WithFields(logrus.Fields{"order_id": orderID, "amount": amount.String()}).Info("requesting charge")
	resp, err := g.http.Do(req)
	if err != nil {
		return Charge{}, fmt.Errorf("charge request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Charge{}, fmt.Errorf("read charge response: %w", err)
	}

	var out chargeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Charge{}, fmt.Errorf("decode charge response (http %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || out.StatusCode != "201" {
		return Charge{}, &GatewayError{HTTPStatus: resp.StatusCode, StatusCode: out.StatusCode, StatusMessage: out.StatusMessage}
	}

	charge := Charge{OrderID: orderID, TransactionID: out.TransactionID}
	for _, a := range out.Actions {
		if a.Name == "generate-qr-code" {
			charge.QRURL = a.URL
			break
		}
	}
	if charge.QRURL == "" {
		return Charge{}, &GatewayError{HTTPStatus: resp.StatusCode, StatusCode: out.StatusCode, StatusMessage: "no generate-qr-code action"}
	}
	return charge, nil
}
