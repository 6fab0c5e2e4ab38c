package ingress

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/boothflow/internal/logger"
	"github.com/imrishuroy/boothflow/internal/metrics"
	"github.com/imrishuroy/boothflow/internal/payment"
	"github.com/imrishuroy/boothflow/internal/pubsub"
)

const secret = "SB-Mid-server-test"

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

func newTestIngress(t *testing.T) (*Ingress, *countingRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := &countingRecorder{}
	in := New(payment.NewVerifier(secret, logger.Discard()), rec, logger.Discard())
	t.Cleanup(in.Close)
	return in, rec
}

func signedBody(orderID, status, sig string) string {
	if sig == "" {
		sig = payment.Signature(orderID, "200", "50000.00", secret)
	}
	return fmt.Sprintf(`{"order_id":%q,"status_code":"200","gross_amount":"50000.00","signature_key":%q,"transaction_status":%q,"transaction_id":"trx-1","payment_type":"qris"}`,
		orderID, sig, status)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestTriggerPublishesCaptureEvent(t *testing.T) {
	in, rec := newTestIngress(t)
	ch, cancel := in.CaptureEvents().Subscribe()
	defer cancel()
	other, cancelOther := in.CaptureEvents().Subscribe()
	defer cancelOther()

	w := do(t, in.Router(), http.MethodGet, "/trigger?event_type=printing&param1=a&param2=b&param4=d", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	for _, c := range []<-chan CaptureEvent{ch, other} {
		select {
		case ev := <-c:
			assert.Equal(t, EventPrinting, ev.Type)
			assert.Equal(t, "printing", ev.Name)
			assert.Equal(t, [4]string{"a", "b", "", "d"}, ev.Params)
			assert.False(t, ev.ReceivedAt.IsZero())
		case <-time.After(time.Second):
			t.Fatal("capture event not delivered")
		}
	}
	assert.Equal(t, 1, rec.get(metrics.CaptureEvents))
}

func TestTriggerUnknownTypeIsOther(t *testing.T) {
	in, _ := newTestIngress(t)
	ch, cancel := in.CaptureEvents().Subscribe()
	defer cancel()

	do(t, in.Router(), http.MethodGet, "/trigger?event_type=countdown_start", "")
	ev := <-ch
	assert.Equal(t, EventOther, ev.Type)
	assert.Equal(t, "countdown_start", ev.Name)
}

func TestPaymentVerifiedIsPublished(t *testing.T) {
	in, rec := newTestIngress(t)
	ch, cancel := in.PaymentOutcomes().Subscribe()
	defer cancel()

	w := do(t, in.Router(), http.MethodPost, "/payment", signedBody("order-1", "settlement", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	select {
	case out := <-ch:
		assert.Equal(t, payment.StatusSettled, out.Status)
		assert.Equal(t, "order-1", out.OrderID)
	case <-time.After(time.Second):
		t.Fatal("outcome not delivered")
	}
	assert.Equal(t, 1, rec.get(metrics.PaymentVerified))
}

func TestPaymentBadSignatureNeverPublished(t *testing.T) {
	in, rec := newTestIngress(t)
	ch, cancel := in.PaymentOutcomes().Subscribe()
	defer cancel()

	bodies := []string{
		signedBody("order-1", "settlement", strings.Repeat("ab", 64)),
		`{not json`,
		`{"order_id":"order-1"}`,
	}
	for _, b := range bodies {
		w := do(t, in.Router(), http.MethodPost, "/payment", b)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	}

	select {
	case out := <-ch:
		t.Fatalf("unverified outcome published: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 3, rec.get(metrics.PaymentRejected))
}

func TestVerifiedPaymentWaitsForFullSubscriber(t *testing.T) {
	in, _ := newTestIngress(t)
	ch, cancel := in.PaymentOutcomes().Subscribe()
	defer cancel()

	for i := 0; i < pubsub.DefaultBuffer; i++ {
		require.NoError(t, in.AcceptPayment([]byte(signedBody(fmt.Sprintf("order-%d", i), "pending", ""))))
	}

	done := make(chan error, 1)
	go func() { done <- in.AcceptPayment([]byte(signedBody("order-late", "settlement", ""))) }()

	for i := 0; i < pubsub.DefaultBuffer; i++ {
		<-ch
	}
	select {
	case out := <-ch:
		assert.Equal(t, "order-late", out.OrderID)
		assert.Equal(t, payment.StatusSettled, out.Status)
	case <-time.After(time.Second):
		t.Fatal("settlement dropped while the subscriber was full")
	}
	require.NoError(t, <-done)
}

func TestAcceptPaymentReturnsVerifierError(t *testing.T) {
	in, _ := newTestIngress(t)
	err := in.AcceptPayment([]byte(signedBody("o", "settlement", strings.Repeat("00", 64))))
	assert.ErrorIs(t, err, payment.ErrBadSignature)
}

func TestUnknownRoutesAre404(t *testing.T) {
	in, _ := newTestIngress(t)
	r := in.Router()

	cases := []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodPost, "/trigger"},
		{http.MethodGet, "/payment"},
		{http.MethodDelete, "/payment"},
	}
	for _, tc := range cases {
		w := do(t, r, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Not Found", w.Body.String())
	}
}

func TestServerShutdownLetsInFlightFinish(t *testing.T) {
	gin.SetMode(gin.TestMode)
	started := make(chan struct{})
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte("OK"))
	})

	srv, err := Listen("127.0.0.1:0", h, logger.Discard())
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()

	type result struct {
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + srv.Addr() + "/slow")
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		done <- result{body: string(b)}
	}()
	<-started

	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdownDone <- srv.Shutdown(ctx)
	}()

	close(release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "OK", res.body)
	require.NoError(t, <-shutdownDone)
}

func TestListenBindFailure(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", http.NotFoundHandler(), logger.Discard())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	_, err = Listen(srv.Addr(), http.NotFoundHandler(), logger.Discard())
	assert.Error(t, err)
}
