// Package backoffice talks to the back-office ERP over JSON-RPC (execute_kw).
// The session orchestrator, not this client, guards against duplicate calls.
package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrLoginFailed means the credentials were rejected (login returned false).
var ErrLoginFailed = errors.New("back-office login failed")

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Message string `json:"message"`
	} `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("back-office error %d: %s (%s)", e.Code, e.Message, e.Data.Message)
	}
	return fmt.Sprintf("back-office error %d: %s", e.Code, e.Message)
}

// Config holds server location and credentials.
type Config struct {
	URL        string
	Database   string
	Username   string
	Password   string
	HTTPClient *http.Client
}

// Client is a JSON-RPC client with a cached login uid.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logrus.Entry

	mu  sync.Mutex
	uid int

	seq atomic.Int64
}

// NewClient returns a Client. Login happens lazily on the first call.
func NewClient(cfg Config, log *logrus.Entry) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{cfg: cfg, http: client, log: log.WithField("component", "backoffice")}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string        `json:"service"`
	Method  string        `json:"method"`
	Args    []interface{} `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, service, method string, args []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.seq.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc %s.%s: %w", service, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc %s.%s: http %d", service, method, resp.StatusCode)
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result, nil
}

func (c *Client) login(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}

	res, err := c.call(ctx, "common", "login", []interface{}{c.cfg.Database, c.cfg.Username, c.cfg.Password})
	if err != nil {
		return 0, err
	}
	var uid int
	if err := json.Unmarshal(res, &uid); err != nil || uid == 0 {
		// login answers false on bad credentials
		return 0, ErrLoginFailed
	}
	c.uid = uid
	c.log.WithField("uid", uid).Info("back-office login ok")
	return uid, nil
}

// executeKw calls model.method with positional args and decodes the result into out.
func (c *Client) executeKw(ctx context.Context, model, method string, args []interface{}, out interface{}) error {
	uid, err := c.login(ctx)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"model": model, "method": method}).Debug("execute_kw")

	res, err := c.call(ctx, "object", "execute_kw", []interface{}{c.cfg.Database, uid, c.cfg.Password, model, method, args})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("decode %s.%s result: %w", model, method, err)
	}
	return nil
}

// OrderRequest describes one booth order.
type OrderRequest struct {
	SaleType    string // "qris" or "voucher"
	MachineID   string
	VoucherCode string
}

// CreateOrder records a booth order and returns its id.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (int, error) {
	args := []interface{}{req.SaleType, req.MachineID}
	if req.VoucherCode != "" {
		args = append(args, req.VoucherCode)
	}
	var orderID int
	if err := c.executeKw(ctx, "booth.order", "create_booth_order", args, &orderID); err != nil {
		return 0, fmt.Errorf("create booth order: %w", err)
	}
	c.log.WithFields(logrus.Fields{"order_id": orderID, "voucher": req.VoucherCode}).Info("booth order created")
	return orderID, nil
}

type voucherResult struct {
	IsValid     bool            `json:"is_valid"`
	Message     json.RawMessage `json:"message"`
	VoucherType json.RawMessage `json:"voucher_type"`
	Value       decimal.Decimal `json:"value"`
	ExpiryDate  json.RawMessage `json:"expiry_date"`
}

// CheckVoucher validates code for the machine. A rejected voucher is a valid
// outcome with IsValid=false, not an error.
func (c *Client) CheckVoucher(ctx context.Context, code, machineID string) (VoucherOutcome, error) {
	var res voucherResult
	if err := c.executeKw(ctx, "booth.voucher", "check_voucher", []interface{}{code, machineID}, &res); err != nil {
		return VoucherOutcome{}, fmt.Errorf("check voucher: %w", err)
	}

	out := VoucherOutcome{
		Code:          code,
		IsValid:       res.IsValid,
		DiscountValue: res.Value,
		Message:       rpcString(res.Message),
	}
	if out.IsValid {
		kind, ok := ParseVoucherKind(rpcString(res.VoucherType))
		if !ok {
			out.IsValid = false
			out.Message = fmt.Sprintf("unsupported voucher type %q", rpcString(res.VoucherType))
		}
		out.Kind = kind
	}
	if t, ok := rpcTime(res.ExpiryDate); ok {
		out.Expiry = &t
	}
	return out, nil
}

// MachineInfo is the per-machine configuration kept in the back office.
type MachineInfo struct {
	Name            string
	Price           decimal.Decimal
	ServerKey       string
	ProductImage    string
	BackgroundImage string
}

type machineResult struct {
	Name            json.RawMessage `json:"name"`
	Price           decimal.Decimal `json:"price"`
	ServerKey       json.RawMessage `json:"server_key"`
	ProductImage    json.RawMessage `json:"product_image"`
	BackgroundImage json.RawMessage `json:"background_image"`
}

// GetMachineInfo fetches the machine's configuration blob. Used at startup and
// from the settings tooling only.
func (c *Client) GetMachineInfo(ctx context.Context, machineID string) (MachineInfo, error) {
	var res machineResult
	if err := c.executeKw(ctx, "booth.machine", "get_machine_info", []interface{}{machineID}, &res); err != nil {
		return MachineInfo{}, fmt.Errorf("get machine info: %w", err)
	}
	return MachineInfo{
		Name:            rpcString(res.Name),
		Price:           res.Price,
		ServerKey:       rpcString(res.ServerKey),
		ProductImage:    rpcString(res.ProductImage),
		BackgroundImage: rpcString(res.BackgroundImage),
	}, nil
}

// ErrActivationRefused is returned when the back office declines to register
// the machine; the wrapped message is the server's reason.
var ErrActivationRefused = errors.New("machine activation refused")

// Activation describes the machine and the partner operating it. Empty
// strings and zero ids are sent as null.
type Activation struct {
	Name             string
	PartnerName      string
	PartnerStreet    string
	PartnerCity      string
	PartnerZip       string
	PartnerPhone     string
	PartnerEmail     string
	PartnerStateID   int
	PartnerCountryID int
	Latitude         float64
	Longitude        float64
}

// ActivationResult is the back office's answer to a successful activation.
type ActivationResult struct {
	MachineID int
	PartnerID int
	IsNew     bool
	Message   string
}

type activationResult struct {
	Success   bool            `json:"success"`
	MachineID json.RawMessage `json:"machine_id"`
	PartnerID json.RawMessage `json:"partner_id"`
	IsNew     bool            `json:"is_new"`
	Message   json.RawMessage `json:"message"`
}

// ActivateMachine registers machineID with the back office, creating the
// partner record when it does not exist yet. Settings time only.
func (c *Client) ActivateMachine(ctx context.Context, machineID string, a Activation) (ActivationResult, error) {
	values := map[string]interface{}{
		"name":               a.Name,
		"partner_name":       a.PartnerName,
		"partner_street":     nullable(a.PartnerStreet),
		"partner_city":       nullable(a.PartnerCity),
		"partner_state_id":   nullableID(a.PartnerStateID),
		"partner_country_id": nullableID(a.PartnerCountryID),
		"partner_zip":        nullable(a.PartnerZip),
		"partner_phone":      nullable(a.PartnerPhone),
		"partner_email":      nullable(a.PartnerEmail),
		"latitude":           a.Latitude,
		"longitude":          a.Longitude,
	}
	var res activationResult
	if err := c.executeKw(ctx, "booth.machine", "activate_machine", []interface{}{machineID, values}, &res); err != nil {
		return ActivationResult{}, fmt.Errorf("activate machine: %w", err)
	}
	if !res.Success {
		return ActivationResult{}, fmt.Errorf("%w: %s", ErrActivationRefused, rpcString(res.Message))
	}
	out := ActivationResult{
		MachineID: rpcInt(res.MachineID),
		PartnerID: rpcInt(res.PartnerID),
		IsNew:     res.IsNew,
		Message:   rpcString(res.Message),
	}
	c.log.WithFields(logrus.Fields{
		"machine_id": machineID,
		"record_id":  out.MachineID,
		"partner_id": out.PartnerID,
		"is_new":     out.IsNew,
	}).Info("machine activated")
	return out, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableID(id int) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

// rpcInt decodes an id field the server may send as false.
func rpcInt(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

// rpcString decodes a string field the server may send as false.
func rpcString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

var rpcTimeLayouts = []string{"2006-01-02 15:04:05", "2006-01-02", time.RFC3339}

func rpcTime(raw json.RawMessage) (time.Time, bool) {
	s := rpcString(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range rpcTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
