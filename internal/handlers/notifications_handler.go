package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/aws"
	"github.com/imrishuroy/boothflow/internal/idempotency"
)

const (
	// maxNotificationBody caps the webhook body we are willing to relay.
	maxNotificationBody = 1 << 20
	// defaultInProgressLease is how long an IN_PROGRESS record blocks retries.
	defaultInProgressLease = 30 * time.Second
	// markTimeout bounds the status write that follows a send, detached from
	// the request so a dropped request cannot leave the record in progress.
	markTimeout = 5 * time.Second
)

// HandlerConfig groups dependencies for the relay notification handler.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	IdempotencyTable string
	QueueURL         string
	TTLWindow        time.Duration
	InProgressLease  time.Duration // zero means 30s
	Log              *logrus.Entry
}

// dedupeFields are the notification fields that identify one delivery. The
// relay does not verify signatures; the kiosk does.
type dedupeFields struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	TransactionStatus string `json:"transaction_status"`
}

type notificationRelay struct {
	store     *idempotency.Store
	publisher *aws.Publisher
	lease     time.Duration
	log       *logrus.Entry
}

func newNotificationRelay(cfg HandlerConfig) *notificationRelay {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	lease := cfg.InProgressLease
	if lease <= 0 {
		lease = defaultInProgressLease
	}
	return &notificationRelay{
		store:     idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow),
		publisher: aws.NewPublisher(cfg.SQSClient, cfg.QueueURL),
		lease:     lease,
		log:       log.WithField("component", "relay_webhook"),
	}
}

// RegisterNotificationRoutes registers POST /payment, the gateway webhook.
// It always answers 200 "OK": gateway retries are not our failure signal.
func RegisterNotificationRoutes(r *gin.Engine, cfg HandlerConfig) {
	nr := newNotificationRelay(cfg)

	r.POST("/payment", func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxNotificationBody))
		if err != nil {
			nr.log.WithError(err).Warn("read notification body")
			c.String(http.StatusOK, "OK")
			return
		}
		if err := nr.relay(c.Request.Context(), body); err != nil {
			nr.log.WithError(err).Error("relay notification")
		}
		c.String(http.StatusOK, "OK")
	})
}

// relay enqueues body once per distinct delivery key.
func (nr *notificationRelay) relay(ctx context.Context, body []byte) error {
	var f dedupeFields
	if err := json.Unmarshal(body, &f); err != nil || f.OrderID == "" {
		nr.log.Warn("dropping notification without order_id")
		return nil
	}
	key := idempotency.DeliveryKey(f.OrderID, f.TransactionStatus, f.StatusCode)
	log := nr.log.WithField("idempotency_key", key)

	created, err := nr.store.CreateIfNotExists(ctx, key, f.OrderID, f.TransactionStatus)
	if err != nil {
		return fmt.Errorf("dedupe %s: %w", key, err)
	}
	if !created {
		rec, err := nr.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("check existing %s: %w", key, err)
		}
		if rec == nil {
			return fmt.Errorf("dedupe record %s vanished", key)
		}
		switch rec.Status {
		case idempotency.StatusDone:
			log.WithField("status", rec.Status).Info("duplicate notification skipped")
			return nil
		case idempotency.StatusInProgress:
			if !nr.store.LeaseExpired(rec, nr.lease) {
				log.WithField("status", rec.Status).Info("duplicate notification skipped")
				return nil
			}
			log.WithField("updated_at", rec.UpdatedAt).Warn("re-enqueueing notification with an abandoned in-progress record")
		case idempotency.StatusFailed:
			// previous enqueue failed; try again
			log.Info("re-enqueueing previously failed notification")
		default:
			return fmt.Errorf("unknown dedupe status %q for %s", rec.Status, key)
		}
	}

	msgID, err := nr.publisher.SendNotification(ctx, string(body), map[string]string{
		"order_id":           f.OrderID,
		"transaction_status": f.TransactionStatus,
		"idempotency_key":    key,
	})
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	if err != nil {
		if merr := nr.store.MarkFailed(mctx, key, fmt.Sprintf("sqs_send_failed: %v", err)); merr != nil {
			log.WithError(merr).Error("could not mark delivery failed, retries wait for the in-progress lease")
		}
		return fmt.Errorf("enqueue %s: %w", key, err)
	}
	if err := nr.store.MarkDone(mctx, key, msgID); err != nil {
		return fmt.Errorf("mark done %s: %w", key, err)
	}
	log.WithField("message_id", msgID).Info("notification relayed")
	return nil
}
