package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/boothflow/internal/backoffice"
	"github.com/imrishuroy/boothflow/internal/capture"
	"github.com/imrishuroy/boothflow/internal/ingress"
	"github.com/imrishuroy/boothflow/internal/logger"
	"github.com/imrishuroy/boothflow/internal/payment"
	"github.com/imrishuroy/boothflow/internal/pubsub"
)

var errCollaborator = errors.New("collaborator unavailable")

type chargeCall struct {
	orderID string
	amount  decimal.Decimal
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []chargeCall
	fail  int // fail this many calls before succeeding
	block chan struct{}
}

func (g *fakeGateway) CreateCharge(ctx context.Context, orderID string, amount decimal.Decimal) (payment.Charge, error) {
	g.mu.Lock()
	g.calls = append(g.calls, chargeCall{orderID: orderID, amount: amount})
	fail := g.fail > 0
	if fail {
		g.fail--
	}
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return payment.Charge{}, ctx.Err()
		}
	}
	if fail {
		return payment.Charge{}, errCollaborator
	}
	return payment.Charge{OrderID: orderID, TransactionID: "trx-" + orderID, QRURL: "https://qr.example/" + orderID}, nil
}

func (g *fakeGateway) snapshot() []chargeCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]chargeCall(nil), g.calls...)
}

type fakeBackoffice struct {
	mu          sync.Mutex
	orders      []backoffice.OrderRequest
	orderFail   int
	vouchers    []string
	voucher     backoffice.VoucherOutcome
	voucherFail int
}

func (b *fakeBackoffice) CreateOrder(_ context.Context, req backoffice.OrderRequest) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, req)
	if b.orderFail > 0 {
		b.orderFail--
		return 0, errCollaborator
	}
	return 1000 + len(b.orders), nil
}

func (b *fakeBackoffice) CheckVoucher(_ context.Context, code, _ string) (backoffice.VoucherOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vouchers = append(b.vouchers, code)
	if b.voucherFail > 0 {
		b.voucherFail--
		return backoffice.VoucherOutcome{}, errCollaborator
	}
	v := b.voucher
	v.Code = code
	return v, nil
}

func (b *fakeBackoffice) orderCalls() []backoffice.OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backoffice.OrderRequest(nil), b.orders...)
}

func (b *fakeBackoffice) voucherCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.vouchers)
}

type fakeDevice struct {
	mu         sync.Mutex
	launches   int
	launchFail int
	visibility []bool
	signals    int
	hideBlock  chan struct{}
	firstGate  chan struct{} // holds the first Launch until closed
}

func (d *fakeDevice) Launch(ctx context.Context) (capture.Launched, error) {
	d.mu.Lock()
	d.launches++
	gate := d.firstGate
	if d.launches == 1 && gate != nil {
		d.mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
			return capture.Launched{}, ctx.Err()
		}
		d.mu.Lock()
	}
	defer d.mu.Unlock()
	if d.launchFail > 0 {
		d.launchFail--
		return capture.Launched{}, &capture.LaunchError{Path: "dslrBooth.exe", Err: errCollaborator}
	}
	return capture.Launched{PID: 42, Fresh: d.launches == 1}, nil
}

func (d *fakeDevice) SetVisibility(ctx context.Context, visible bool) error {
	d.mu.Lock()
	block := d.hideBlock
	d.mu.Unlock()
	if !visible && block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visibility = append(d.visibility, visible)
	return nil
}

func (d *fakeDevice) SignalStart(context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signals++
}

func (d *fakeDevice) counts() (launches int, visibility []bool, signals int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches, append([]bool(nil), d.visibility...), d.signals
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) Incr(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[name]++
}

func (r *countingRecorder) get(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

type harness struct {
	o        *Orchestrator
	gateway  *fakeGateway
	office   *fakeBackoffice
	device   *fakeDevice
	metrics  *countingRecorder
	captures *pubsub.Broker[ingress.CaptureEvent]
	payments *pubsub.Broker[payment.Outcome]

	mu      sync.Mutex
	intents []Intent
	ids     int
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newHarness(t *testing.T, price int64) *harness {
	t.Helper()
	log := logger.Discard()
	h := &harness{
		gateway:  &fakeGateway{},
		office:   &fakeBackoffice{},
		device:   &fakeDevice{},
		metrics:  &countingRecorder{},
		captures: pubsub.NewBroker[ingress.CaptureEvent]("captures", 0, log),
		payments: pubsub.NewBroker[payment.Outcome]("payments", 0, log),
	}
	h.o = New(Deps{
		Gateway:         h.gateway,
		Backoffice:      h.office,
		Device:          h.device,
		CaptureEvents:   h.captures,
		PaymentOutcomes: h.payments,
		Metrics:         h.metrics,
		Log:             log,
	}, Options{
		MachineID:           "M-1",
		Price:               decimal.NewFromInt(price),
		CollaboratorTimeout: time.Second,
		NewOrderID:          h.nextOrderID,
	})

	intents, cancelIntents := h.o.Intents().Subscribe()
	go func() {
		for in := range intents {
			h.mu.Lock()
			h.intents = append(h.intents, in)
			h.mu.Unlock()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		cancelIntents()
	})

	require.Eventually(t, func() bool {
		return h.captures.Len() == 1 && h.payments.Len() == 1
	}, waitFor, tick, "orchestrator never subscribed")
	return h
}

func (h *harness) nextOrderID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids++
	return fmt.Sprintf("order-%d", h.ids)
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.o.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func (h *harness) waitState(t *testing.T, st State) Snapshot {
	t.Helper()
	var last Snapshot
	require.Eventually(t, func() bool {
		last = h.snapshot(t)
		return last.State == st
	}, waitFor, tick, "state never reached %s", st)
	return last
}

func (h *harness) waitIntent(t *testing.T, match func(Intent) bool) Intent {
	t.Helper()
	var found Intent
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, in := range h.intents {
			if match(in) {
				found = in
				return true
			}
		}
		return false
	}, waitFor, tick, "intent never emitted")
	return found
}

func (h *harness) sawIntent(match func(Intent) bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, in := range h.intents {
		if match(in) {
			return true
		}
	}
	return false
}

func (h *harness) settle(t *testing.T, orderID string) {
	t.Helper()
	h.payments.Publish(payment.Outcome{Status: payment.StatusSettled, RawStatus: "settlement", OrderID: orderID})
}

func (h *harness) capture(typ ingress.CaptureEventType) {
	h.captures.Publish(ingress.CaptureEvent{Type: typ, Name: string(typ)})
}

func navigatedTo(v View) func(Intent) bool {
	return func(in Intent) bool { return in.Kind == IntentNavigate && in.View == v }
}

func kind(k IntentKind) func(Intent) bool {
	return func(in Intent) bool { return in.Kind == k }
}
