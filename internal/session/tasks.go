package session

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/boothflow/internal/backoffice"
	"github.com/imrishuroy/boothflow/internal/payment"
)

type taskKind int

const (
	taskCharge taskKind = iota
	taskVoucher
	taskOrder
	taskDevice
	taskHide
)

func (k taskKind) String() string {
	switch k {
	case taskCharge:
		return "charge"
	case taskVoucher:
		return "voucher"
	case taskOrder:
		return "order"
	case taskDevice:
		return "device"
	case taskHide:
		return "hide"
	}
	return "unknown"
}

// completion is posted back to the loop when a collaborator call returns.
type completion struct {
	kind            taskKind
	sessionID       string
	providerOrderID string
	charge          payment.Charge
	voucher         backoffice.VoucherOutcome
	orderID         int
	err             error
}

// spawn runs fn off the loop with the collaborator timeout and posts its
// completion. Completions are dropped once the loop has stopped.
func (o *Orchestrator) spawn(fn func(ctx context.Context) completion) {
	ctx := o.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		tctx, cancel := context.WithTimeout(ctx, o.opts.CollaboratorTimeout)
		c := fn(tctx)
		cancel()
		select {
		case o.done <- c:
		case <-o.stopped:
		}
	}()
}

func (o *Orchestrator) beginCharge(s *session) {
	s.providerOrderID = o.opts.NewOrderID()
	s.qrURL = ""
	s.charging = true
	s.chargeFailed = false
	s.lastError = ""

	id, orderID, amount := s.id, s.providerOrderID, s.amountDue
	o.emit(Status("creating_qr", "Preparing payment"))
	o.spawn(func(ctx context.Context) completion {
		charge, err := o.deps.Gateway.CreateCharge(ctx, orderID, amount)
		return completion{kind: taskCharge, sessionID: id, providerOrderID: orderID, charge: charge, err: err}
	})
}

func (o *Orchestrator) beginVoucherCheck(s *session) {
	s.checkingVoucher = true
	s.voucherFailed = false
	s.lastError = ""

	id, code, machine := s.id, s.voucherCode, o.opts.MachineID
	o.emit(Status("checking_voucher", "Checking voucher"))
	o.spawn(func(ctx context.Context) completion {
		v, err := o.deps.Backoffice.CheckVoucher(ctx, code, machine)
		return completion{kind: taskVoucher, sessionID: id, voucher: v, err: err}
	})
}

func (o *Orchestrator) dispatchOrder(s *session) {
	s.orderPending = true
	s.orderFailed = false

	id := s.id
	req := backoffice.OrderRequest{SaleType: s.saleType, MachineID: o.opts.MachineID, VoucherCode: s.voucherCode}
	o.spawn(func(ctx context.Context) completion {
		orderID, err := o.deps.Backoffice.CreateOrder(ctx, req)
		return completion{kind: taskOrder, sessionID: id, orderID: orderID, err: err}
	})
}

// dispatchDevice launches or shows the capture application and asks it to start.
func (o *Orchestrator) dispatchDevice(s *session) {
	s.devicePending = true
	s.deviceFailed = false
	o.deviceGen.Add(1)

	id := s.id
	o.spawn(func(ctx context.Context) completion {
		return completion{kind: taskDevice, sessionID: id, err: o.activateDevice(ctx)}
	})
}

func (o *Orchestrator) activateDevice(ctx context.Context) error {
	if _, err := o.deps.Device.Launch(ctx); err != nil {
		return err
	}
	if err := o.deps.Device.SetVisibility(ctx, true); err != nil {
		return err
	}
	o.deps.Device.SignalStart(ctx)
	return nil
}

// spawnHide hides the capture application to finish the reset of sessionID.
func (o *Orchestrator) spawnHide(sessionID string) {
	o.spawn(func(ctx context.Context) completion {
		return completion{kind: taskHide, sessionID: sessionID, err: o.deps.Device.SetVisibility(ctx, false)}
	})
}

// spawnCleanupHide hides the capture application after a stale activation.
// It is skipped if another activation was dispatched in the meantime.
func (o *Orchestrator) spawnCleanupHide() {
	gen := o.deviceGen.Load()
	o.spawn(func(ctx context.Context) completion {
		if o.deviceGen.Load() != gen {
			return completion{kind: taskHide}
		}
		return completion{kind: taskHide, err: o.deps.Device.SetVisibility(ctx, false)}
	})
}

func zeroAmount(d decimal.Decimal) bool { return !d.IsPositive() }
