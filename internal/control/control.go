// Package control is the loopback API the kiosk UI shell drives: user actions
// go in as POSTs, display intents come back over server-sent events.
package control

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/ingress"
	"github.com/imrishuroy/boothflow/internal/pubsub"
	"github.com/imrishuroy/boothflow/internal/session"
	"github.com/imrishuroy/boothflow/internal/validation"
)

// Kiosk is the orchestrator surface used by the API.
type Kiosk interface {
	StartPayment(ctx context.Context) (session.Snapshot, error)
	SubmitVoucher(ctx context.Context, code string) (session.Snapshot, error)
	Retry(ctx context.Context) (session.Snapshot, error)
	Cancel(ctx context.Context) (session.Snapshot, error)
	Reset(ctx context.Context) (session.Snapshot, error)
	Snapshot(ctx context.Context) (session.Snapshot, error)
	Intents() *pubsub.Broker[session.Intent]
}

// Config groups the API's dependencies.
type Config struct {
	Kiosk Kiosk
	// Pin guards operator reset.
	Pin string
	Log *logrus.Entry
}

type api struct {
	kiosk Kiosk
	pin   string
	v     *validatorv10.Validate
	log   *logrus.Entry
}

// Router builds the control API.
func Router(cfg Config) *gin.Engine {
	a := &api{
		kiosk: cfg.Kiosk,
		pin:   cfg.Pin,
		v:     validation.New(),
		log:   cfg.Log.WithField("component", "control"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), ingress.RequestLogger(a.log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	k := r.Group("/kiosk")
	k.GET("/session", a.snapshot)
	k.GET("/events", a.events)
	k.POST("/payments", a.startPayment)
	k.POST("/vouchers", a.submitVoucher)
	k.POST("/retry", a.retry)
	k.POST("/back", a.back)
	k.POST("/reset", a.reset)
	return r
}

// statusFor maps orchestrator errors to HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict, "session_active"
	case errors.Is(err, session.ErrSessionLocked):
		return http.StatusConflict, "session_locked"
	case errors.Is(err, session.ErrNothingToRetry):
		return http.StatusConflict, "nothing_to_retry"
	case errors.Is(err, session.ErrNoSession):
		return http.StatusNotFound, "no_session"
	case errors.Is(err, session.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "invalid_amount"
	case errors.Is(err, session.ErrVoucherCodeRequired):
		return http.StatusBadRequest, "voucher_code_required"
	case errors.Is(err, session.ErrStopped):
		return http.StatusServiceUnavailable, "stopped"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (a *api) respond(c *gin.Context, okStatus int, snap session.Snapshot, err error) {
	if err != nil {
		status, code := statusFor(err)
		a.log.WithError(err).WithField("path", c.FullPath()).Info("kiosk action rejected")
		c.JSON(status, gin.H{"error": code, "msg": err.Error(), "session": snap})
		return
	}
	c.JSON(okStatus, snap)
}

func (a *api) snapshot(c *gin.Context) {
	snap, err := a.kiosk.Snapshot(c.Request.Context())
	a.respond(c, http.StatusOK, snap, err)
}

func (a *api) startPayment(c *gin.Context) {
	snap, err := a.kiosk.StartPayment(c.Request.Context())
	a.respond(c, http.StatusCreated, snap, err)
}

func (a *api) submitVoucher(c *gin.Context) {
	var req validation.VoucherRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	snap, err := a.kiosk.SubmitVoucher(c.Request.Context(), req.Code)
	a.respond(c, http.StatusCreated, snap, err)
}

func (a *api) retry(c *gin.Context) {
	snap, err := a.kiosk.Retry(c.Request.Context())
	a.respond(c, http.StatusOK, snap, err)
}

func (a *api) back(c *gin.Context) {
	snap, err := a.kiosk.Cancel(c.Request.Context())
	a.respond(c, http.StatusOK, snap, err)
}

func (a *api) reset(c *gin.Context) {
	var req validation.ResetRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Pin), []byte(a.pin)) != 1 {
		a.log.Warn("operator reset with wrong pin")
		c.JSON(http.StatusForbidden, gin.H{"error": "wrong_pin"})
		return
	}
	snap, err := a.kiosk.Reset(c.Request.Context())
	a.respond(c, http.StatusOK, snap, err)
}

// events streams intents until the client goes away, then unsubscribes.
func (a *api) events(c *gin.Context) {
	ch, cancel := a.kiosk.Intents().Subscribe()
	defer cancel()

	a.log.Debug("intent stream opened")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case in, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(in.Kind), in)
			return true
		case <-ctx.Done():
			return false
		}
	})
	a.log.Debug("intent stream closed")
}
