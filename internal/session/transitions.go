package session

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/backoffice"
	"github.com/imrishuroy/boothflow/internal/ingress"
	"github.com/imrishuroy/boothflow/internal/metrics"
	"github.com/imrishuroy/boothflow/internal/payment"
)

func (o *Orchestrator) onPayment(out payment.Outcome) {
	s := o.session
	log := o.sessionLog(s).WithFields(logrus.Fields{
		"order_id": out.OrderID,
		"status":   out.Status,
	})

	if s == nil || s.providerOrderID == "" || out.OrderID != s.providerOrderID {
		if out.Status == payment.StatusSettled {
			log.Warn("settled payment does not belong to the active session")
		} else {
			log.Debug("payment outcome for another order ignored")
		}
		return
	}

	if s.state != StateAwaitingPayment {
		if out.Status == payment.StatusSettled {
			o.metrics.Incr(metrics.DuplicateSettlements)
			log.Info("duplicate settlement ignored")
		} else {
			log.Debug("payment outcome after settlement ignored")
		}
		return
	}

	switch {
	case out.Status == payment.StatusSettled:
		s.method = MethodQRIS
		o.settle(s, saleQRIS)
	case out.Status == payment.StatusPending:
		o.emit(Status(out.RawStatus, "Waiting for payment"))
	case out.Terminal():
		log.Info("payment failed")
		o.emit(Status(out.RawStatus, failureText(out.Status)))
		o.emit(Notify(failureText(out.Status)))
		o.clear()
		o.emit(Navigate(ViewPaymentOptions))
	default:
		log.WithField("raw_status", out.RawStatus).Warn("unrecognized payment status")
		o.emit(Status(out.RawStatus, "Checking payment status"))
	}
}

func failureText(st payment.Status) string {
	switch st {
	case payment.StatusExpired:
		return "Payment expired. Please try again."
	case payment.StatusCancelled:
		return "Payment was cancelled."
	default:
		return "Payment was declined."
	}
}

// settle moves an awaiting session to PaymentSettled, creating the order and
// activating the capture device exactly once per session.
func (o *Orchestrator) settle(s *session, saleType string) {
	if s.orderCreated {
		o.metrics.Incr(metrics.DuplicateSettlements)
		o.sessionLog(s).Info("duplicate settlement ignored")
		return
	}
	s.state = StatePaymentSettled
	s.orderCreated = true
	s.saleType = saleType
	o.sessionLog(s).WithField("sale_type", saleType).Info("payment settled")

	o.emit(Status("settlement", "Payment received"))
	o.dispatchOrder(s)
	o.dispatchDevice(s)
}

func (o *Orchestrator) onCapture(ev ingress.CaptureEvent) {
	s := o.session
	log := o.sessionLog(s).WithField("event_type", ev.Name)

	switch ev.Type {
	case ingress.EventPrinting:
		if s == nil || (s.state != StatePaymentSettled && s.state != StateCapturing) {
			log.Debug("printing event outside a settled session ignored")
			return
		}
		s.state = StateCapturing
		s.printConfirmed = true
		o.emit(Status("printing", "Printing your photos"))
		log.Info("print confirmed")

	case ingress.EventSessionEnd:
		if s == nil || (s.state != StatePaymentSettled && s.state != StateCapturing) {
			log.Debug("session end outside a settled session ignored")
			return
		}
		if !s.printConfirmed {
			o.metrics.Incr(metrics.SpuriousSessionEnds)
			log.Info("session end before any print ignored")
			return
		}
		o.beginReset(s)

	default:
		log.Debug("capture event")
	}
}

// beginReset hides the capture application; the session clears once the
// hide returns.
func (o *Orchestrator) beginReset(s *session) {
	s.state = StateResetting
	o.sessionLog(s).Info("resetting session")
	o.spawnHide(s.id)
}

func (o *Orchestrator) onCompletion(c completion) {
	s := o.session
	current := s != nil && s.id == c.sessionID
	log := o.sessionLog(s).WithField("task", c.kind.String())

	switch c.kind {
	case taskCharge:
		if !current || s.state != StateAwaitingPayment || c.providerOrderID != s.providerOrderID {
			log.Debug("stale charge result ignored")
			return
		}
		s.charging = false
		if c.err != nil {
			s.chargeFailed = true
			s.lastError = c.err.Error()
			log.WithError(c.err).Error("create charge failed")
			o.emit(Notify("Could not create the payment QR code. Please try again."))
			return
		}
		s.qrURL = c.charge.QRURL
		o.emit(ShowQR(s.qrURL, s.amountDue))
		o.emit(Status("pending", "Scan the QR code to pay"))

	case taskVoucher:
		if !current || s.state != StateAwaitingPayment || !s.checkingVoucher {
			log.Debug("stale voucher result ignored")
			return
		}
		s.checkingVoucher = false
		if c.err != nil {
			s.voucherFailed = true
			s.lastError = c.err.Error()
			log.WithError(c.err).Error("voucher check failed")
			o.emit(Notify("Could not check the voucher. Please try again."))
			return
		}
		o.applyVoucher(s, c.voucher)

	case taskOrder:
		if c.err != nil {
			o.metrics.Incr(metrics.OrderFailures)
		} else {
			o.metrics.Incr(metrics.OrdersCreated)
		}
		if !current {
			log.WithError(c.err).WithField("backoffice_order_id", c.orderID).Warn("order result for a cleared session")
			return
		}
		s.orderPending = false
		if c.err != nil {
			s.orderFailed = true
			s.lastError = c.err.Error()
			log.WithError(c.err).Error("create order failed")
			o.emit(Notify("Your payment was received but the order could not be recorded. Please retry or call staff."))
			return
		}
		s.backofficeID = c.orderID
		log.WithField("backoffice_order_id", c.orderID).Info("order created")

	case taskDevice:
		if c.err != nil {
			o.metrics.Incr(metrics.DeviceFailures)
		}
		if !current || s.state == StateResetting {
			if current {
				s.devicePending = false
			}
			if c.err != nil {
				return
			}
			if !current && s != nil && (s.deviceActive || s.devicePending) {
				log.Info("stale capture device activation, left visible for the live session")
				return
			}
			// shown after the session moved on
			log.Warn("capture device activated for a finished session, hiding")
			o.spawnCleanupHide()
			return
		}
		s.devicePending = false
		if c.err != nil {
			s.deviceFailed = true
			s.lastError = c.err.Error()
			log.WithError(c.err).Error("capture device activation failed")
			o.emit(Notify("The camera could not be started. Please retry or call staff."))
			return
		}
		s.deviceActive = true
		log.Info("capture device active")

	case taskHide:
		if c.err != nil {
			o.metrics.Incr(metrics.DeviceFailures)
			log.WithError(c.err).Error("hide capture device failed")
		}
		if c.sessionID == "" || !current || s.state != StateResetting {
			return
		}
		if s.devicePending {
			// the activation still in flight will hide again when it lands
			log.Debug("device activation still pending at reset")
		}
		o.clear()
		o.emit(Navigate(ViewIdle))
	}
}

func (o *Orchestrator) applyVoucher(s *session, v backoffice.VoucherOutcome) {
	log := o.sessionLog(s).WithField("voucher", s.voucherCode)

	if !v.IsValid || v.Expired(o.opts.Now()) {
		msg := v.Message
		if v.IsValid {
			msg = "Voucher has expired."
		}
		if msg == "" {
			msg = "Voucher is not valid."
		}
		log.WithField("reason", msg).Info("voucher rejected")
		o.emit(Notify(msg))
		o.clear()
		o.emit(Navigate(ViewPaymentOptions))
		return
	}

	quote := v.Apply(s.amountDue)
	log.WithFields(logrus.Fields{
		"kind":     v.Kind,
		"discount": quote.DiscountAmount.String(),
		"due":      quote.DiscountedPrice.String(),
	}).Info("voucher accepted")

	if v.Kind == backoffice.VoucherFull || zeroAmount(quote.DiscountedPrice) {
		s.amountDue = quote.DiscountedPrice
		o.settle(s, saleVoucher)
		return
	}

	s.amountDue = quote.DiscountedPrice
	o.emit(Status("voucher_applied", fmt.Sprintf("Voucher applied, %s to pay", quote.DiscountedPrice.String())))
	o.emit(Navigate(ViewQRISPayment))
	o.beginCharge(s)
}
