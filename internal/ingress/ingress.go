// Package ingress receives capture-device callbacks and payment notifications
// over HTTP and republishes them as typed events.
package ingress

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/metrics"
	"github.com/imrishuroy/boothflow/internal/payment"
	"github.com/imrishuroy/boothflow/internal/pubsub"
)

// maxPaymentBody caps a notification body; real ones are well under 4 KiB.
const maxPaymentBody = 1 << 20

// Verifier authenticates a raw payment notification.
type Verifier interface {
	Verify(body []byte) (payment.Outcome, error)
}

// Ingress owns the two multicast streams.
type Ingress struct {
	verifier Verifier
	captures *pubsub.Broker[CaptureEvent]
	payments *pubsub.Broker[payment.Outcome]
	metrics  metrics.Recorder
	log      *logrus.Entry
	now      func() time.Time
}

// New returns an Ingress publishing to fresh brokers.
func New(v Verifier, rec metrics.Recorder, log *logrus.Entry) *Ingress {
	if rec == nil {
		rec = metrics.Nop{}
	}
	log = log.WithField("component", "ingress")
	return &Ingress{
		verifier: v,
		captures: pubsub.NewBroker[CaptureEvent]("capture_events", 0, log),
		payments: pubsub.NewBroker[payment.Outcome]("payment_outcomes", 0, log),
		metrics:  rec,
		log:      log,
		now:      time.Now,
	}
}

func (i *Ingress) CaptureEvents() *pubsub.Broker[CaptureEvent]      { return i.captures }
func (i *Ingress) PaymentOutcomes() *pubsub.Broker[payment.Outcome] { return i.payments }

// AcceptCapture publishes a capture event to every subscriber.
func (i *Ingress) AcceptCapture(ev CaptureEvent) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = i.now()
	}
	i.metrics.Incr(metrics.CaptureEvents)
	n := i.captures.Publish(ev)
	i.log.WithFields(logrus.Fields{
		"event_type":  ev.Name,
		"normalized":  ev.Type,
		"subscribers": n,
	}).Info("capture event received")
}

// paymentDeliveryTimeout bounds how long a verified outcome waits for a slow
// subscriber.
const paymentDeliveryTimeout = 5 * time.Second

// AcceptPayment verifies body and publishes the outcome. Unverified bodies
// are dropped here and never reach a subscriber. Shared by the HTTP route and
// the relay poller.
func (i *Ingress) AcceptPayment(body []byte) error {
	out, err := i.verifier.Verify(body)
	if err != nil {
		i.metrics.Incr(metrics.PaymentRejected)
		return err
	}
	i.metrics.Incr(metrics.PaymentVerified)
	ctx, cancel := context.WithTimeout(context.Background(), paymentDeliveryTimeout)
	defer cancel()
	i.payments.PublishWait(ctx, out)
	return nil
}

// Close closes both streams.
func (i *Ingress) Close() {
	i.captures.Close()
	i.payments.Close()
}

// Router builds the listener's routes: GET /trigger, POST /payment, and a
// plain-text 404 for everything else.
func (i *Ingress) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(i.log))

	r.GET("/trigger", i.handleTrigger)
	r.POST("/payment", i.handlePayment)

	r.NoRoute(func(c *gin.Context) {
		i.log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"url":    c.Request.URL.String(),
		}).Warn("unrecognized request")
		c.String(http.StatusNotFound, "Not Found")
	})
	return r
}

func (i *Ingress) handleTrigger(c *gin.Context) {
	raw := c.Query("event_type")
	i.AcceptCapture(CaptureEvent{
		Type: ParseCaptureEventType(raw),
		Name: raw,
		Params: [4]string{
			c.Query("param1"),
			c.Query("param2"),
			c.Query("param3"),
			c.Query("param4"),
		},
	})
	c.String(http.StatusOK, "OK")
}

func (i *Ingress) handlePayment(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPaymentBody))
	if err != nil {
		i.log.WithError(err).Warn("read payment notification")
	} else {
		i.log.WithField("bytes", len(body)).Info("payment notification received")
		// verification failures are logged by the verifier
		_ = i.AcceptPayment(body)
	}
	c.String(http.StatusOK, "OK")
}

// RequestLogger logs every request with its original and forwarded host.
func RequestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		forwarded := c.GetHeader("X-Forwarded-Host")
		if forwarded == "" {
			forwarded = "not set"
		}
		c.Next()
		log.WithFields(logrus.Fields{
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"host":           c.Request.Host,
			"forwarded_host": forwarded,
			"status":         c.Writer.Status(),
			"latency":        time.Since(start).String(),
		}).Debug("request handled")
	}
}
