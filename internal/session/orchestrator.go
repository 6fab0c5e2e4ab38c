// Package session runs the kiosk session state machine. A single goroutine
// (Run) owns the session; user commands, capture events, payment outcomes and
// collaborator completions are all funneled into it, so every guard check and
// the update that follows it happen without interleaving.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/backoffice"
	"github.com/imrishuroy/boothflow/internal/capture"
	"github.com/imrishuroy/boothflow/internal/ingress"
	"github.com/imrishuroy/boothflow/internal/metrics"
	"github.com/imrishuroy/boothflow/internal/payment"
	"github.com/imrishuroy/boothflow/internal/pubsub"
)

var (
	ErrSessionActive       = errors.New("a session is already active")
	ErrNoSession           = errors.New("no active session")
	ErrSessionLocked       = errors.New("session can no longer be cancelled")
	ErrInvalidAmount       = errors.New("service price must be greater than zero")
	ErrNothingToRetry      = errors.New("nothing to retry")
	ErrVoucherCodeRequired = errors.New("voucher code required")
	ErrStopped             = errors.New("orchestrator stopped")
	ErrAlreadyRunning      = errors.New("orchestrator already running")
)

// Gateway creates payment charges.
type Gateway interface {
	CreateCharge(ctx context.Context, orderID string, amount decimal.Decimal) (payment.Charge, error)
}

// Backoffice records orders and validates vouchers.
type Backoffice interface {
	CreateOrder(ctx context.Context, req backoffice.OrderRequest) (int, error)
	CheckVoucher(ctx context.Context, code, machineID string) (backoffice.VoucherOutcome, error)
}

// Device is the capture application.
type Device interface {
	Launch(ctx context.Context) (capture.Launched, error)
	SetVisibility(ctx context.Context, visible bool) error
	SignalStart(ctx context.Context)
}

// Deps are the orchestrator's collaborators and input streams.
type Deps struct {
	Gateway         Gateway
	Backoffice      Backoffice
	Device          Device
	CaptureEvents   *pubsub.Broker[ingress.CaptureEvent]
	PaymentOutcomes *pubsub.Broker[payment.Outcome]
	Metrics         metrics.Recorder
	Log             *logrus.Entry
}

// Options tune the orchestrator. Zero values get defaults.
type Options struct {
	MachineID           string
	Price               decimal.Decimal
	CollaboratorTimeout time.Duration
	// Intents is where display intents go; a new broker is created when nil.
	Intents    *pubsub.Broker[Intent]
	NewOrderID func() string
	Now        func() time.Time
}

type op int

const (
	opStartPayment op = iota
	opSubmitVoucher
	opRetry
	opCancel
	opReset
	opSnapshot
)

type command struct {
	op    op
	code  string
	reply chan reply
}

type reply struct {
	snap Snapshot
	err  error
}

// Orchestrator is the session state machine.
type Orchestrator struct {
	deps    Deps
	opts    Options
	log     *logrus.Entry
	metrics metrics.Recorder
	intents *pubsub.Broker[Intent]

	cmds    chan command
	done    chan completion
	stopped chan struct{}
	running atomic.Bool
	tasks   sync.WaitGroup

	// bumped on every device activation; a cleanup hide started under an
	// older generation is skipped
	deviceGen atomic.Uint64

	// owned by the Run goroutine
	runCtx  context.Context
	session *session
}

// New builds an Orchestrator. Call Run to start it.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = 30 * time.Second
	}
	if opts.NewOrderID == nil {
		opts.NewOrderID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	log := deps.Log.WithField("component", "session")
	intents := opts.Intents
	if intents == nil {
		intents = pubsub.NewBroker[Intent]("intents", 0, log)
	}
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		log:     log,
		metrics: rec,
		intents: intents,
		cmds:    make(chan command),
		done:    make(chan completion, 16),
		stopped: make(chan struct{}),
	}
}

// Intents is the stream of display instructions.
func (o *Orchestrator) Intents() *pubsub.Broker[Intent] { return o.intents }

// Run consumes events until ctx is cancelled, then waits for in-flight
// collaborator calls to return. It may be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	o.runCtx = ctx

	captures, cancelCaptures := o.deps.CaptureEvents.Subscribe()
	defer cancelCaptures()
	payments, cancelPayments := o.deps.PaymentOutcomes.Subscribe()
	defer cancelPayments()

	defer func() {
		close(o.stopped)
		o.tasks.Wait()
	}()

	o.log.Info("session orchestrator started")
	for {
		select {
		case <-ctx.Done():
			o.log.Info("session orchestrator stopping")
			return nil
		case cmd := <-o.cmds:
			snap, err := o.handleCommand(cmd)
			cmd.reply <- reply{snap: snap, err: err}
		case ev, ok := <-captures:
			if !ok {
				captures = nil
				continue
			}
			o.onCapture(ev)
		case out, ok := <-payments:
			if !ok {
				payments = nil
				continue
			}
			o.onPayment(out)
		case c := <-o.done:
			o.onCompletion(c)
		}
	}
}

func (o *Orchestrator) send(ctx context.Context, cmd command) (Snapshot, error) {
	cmd.reply = make(chan reply, 1)
	select {
	case o.cmds <- cmd:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-o.stopped:
		return Snapshot{}, ErrStopped
	}
	r := <-cmd.reply
	return r.snap, r.err
}

// StartPayment opens a QR payment session for the configured price.
func (o *Orchestrator) StartPayment(ctx context.Context) (Snapshot, error) {
	return o.send(ctx, command{op: opStartPayment})
}

// SubmitVoucher opens a voucher session for code.
func (o *Orchestrator) SubmitVoucher(ctx context.Context, code string) (Snapshot, error) {
	return o.send(ctx, command{op: opSubmitVoucher, code: code})
}

// Retry re-dispatches whichever collaborator call last failed.
func (o *Orchestrator) Retry(ctx context.Context) (Snapshot, error) {
	return o.send(ctx, command{op: opRetry})
}

// Cancel is the user's back navigation. Only allowed before payment settles.
func (o *Orchestrator) Cancel(ctx context.Context) (Snapshot, error) {
	return o.send(ctx, command{op: opCancel})
}

// Reset is the operator reset; it works from any state.
func (o *Orchestrator) Reset(ctx context.Context) (Snapshot, error) {
	return o.send(ctx, command{op: opReset})
}

// Snapshot returns the current session.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	return o.send(ctx, command{op: opSnapshot})
}

func (o *Orchestrator) emit(in Intent) {
	o.intents.Publish(in)
}

func (o *Orchestrator) sessionLog(s *session) *logrus.Entry {
	if s == nil {
		return o.log
	}
	return o.log.WithFields(logrus.Fields{
		"session_id": s.id,
		"state":      s.state,
	})
}

func (o *Orchestrator) newSession(method Method) *session {
	s := &session{
		id:        uuid.NewString(),
		state:     StateAwaitingPayment,
		method:    method,
		startedAt: o.opts.Now(),
		amountDue: o.opts.Price,
	}
	o.session = s
	o.sessionLog(s).WithField("method", method).Info("session started")
	return s
}

func (o *Orchestrator) clear() {
	if o.session != nil {
		o.sessionLog(o.session).Info("session cleared")
	}
	o.session = nil
}

func (o *Orchestrator) handleCommand(cmd command) (Snapshot, error) {
	s := o.session
	switch cmd.op {
	case opSnapshot:
		return snapshotOf(s), nil

	case opStartPayment:
		if s != nil {
			return snapshotOf(s), ErrSessionActive
		}
		if !o.opts.Price.IsPositive() {
			return snapshotOf(nil), ErrInvalidAmount
		}
		s = o.newSession(MethodQRIS)
		o.emit(Navigate(ViewQRISPayment))
		o.beginCharge(s)
		return snapshotOf(s), nil

	case opSubmitVoucher:
		code := strings.TrimSpace(cmd.code)
		if code == "" {
			return snapshotOf(s), ErrVoucherCodeRequired
		}
		if s != nil {
			return snapshotOf(s), ErrSessionActive
		}
		s = o.newSession(MethodVoucher)
		s.voucherCode = code
		o.emit(Navigate(ViewVoucherPayment))
		o.beginVoucherCheck(s)
		return snapshotOf(s), nil

	case opRetry:
		if s == nil {
			return snapshotOf(nil), ErrNoSession
		}
		err := o.retry(s)
		return snapshotOf(s), err

	case opCancel:
		if s == nil {
			o.emit(Navigate(ViewIdle))
			return snapshotOf(nil), nil
		}
		if s.state != StateAwaitingPayment {
			return snapshotOf(s), ErrSessionLocked
		}
		o.sessionLog(s).Info("session cancelled by user")
		o.clear()
		o.emit(Navigate(ViewPaymentOptions))
		return snapshotOf(nil), nil

	case opReset:
		if s == nil {
			o.emit(Navigate(ViewIdle))
			return snapshotOf(nil), nil
		}
		if s.state == StateResetting {
			return snapshotOf(s), nil
		}
		o.sessionLog(s).Warn("operator reset")
		if s.orderCreated || s.deviceActive || s.devicePending {
			o.beginReset(s)
			return snapshotOf(s), nil
		}
		o.clear()
		o.emit(Navigate(ViewIdle))
		return snapshotOf(nil), nil
	}
	return snapshotOf(s), nil
}

func (o *Orchestrator) retry(s *session) error {
	switch s.state {
	case StateAwaitingPayment:
		switch {
		case s.chargeFailed:
			o.beginCharge(s)
			return nil
		case s.voucherFailed:
			o.beginVoucherCheck(s)
			return nil
		}
	case StatePaymentSettled, StateCapturing:
		if !s.orderFailed && !s.deviceFailed {
			break
		}
		if s.orderFailed {
			o.dispatchOrder(s)
		}
		if s.deviceFailed {
			o.dispatchDevice(s)
		}
		return nil
	}
	return ErrNothingToRetry
}
