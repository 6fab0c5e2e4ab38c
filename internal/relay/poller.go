// Package relay pulls payment notifications that the cloud relay enqueued
// and feeds them into the kiosk's normal verification path.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/aws"
	"github.com/imrishuroy/boothflow/internal/metrics"
)

const (
	waitTimeSeconds = 20
	maxMessages     = 10
	errorBackoff    = 5 * time.Second
)

// Sink accepts a raw notification body; the kiosk ingress implements it.
type Sink interface {
	AcceptPayment(body []byte) error
}

// Poller long-polls one SQS queue.
type Poller struct {
	sqs      aws.SQSAPI
	queueURL string
	sink     Sink
	metrics  metrics.Recorder
	log      *logrus.Entry
	backoff  time.Duration
}

// NewPoller returns a Poller for queueURL.
func NewPoller(client aws.SQSAPI, queueURL string, sink Sink, rec metrics.Recorder, log *logrus.Entry) *Poller {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Poller{
		sqs:      client,
		queueURL: queueURL,
		sink:     sink,
		metrics:  rec,
		log:      log.WithField("component", "relay"),
		backoff:  errorBackoff,
	}
}

// Run polls until ctx is cancelled. Receive errors are logged and retried
// after a pause; they never reach the session.
func (p *Poller) Run(ctx context.Context) error {
	p.log.WithField("queue", p.queueURL).Info("relay poller started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := p.PollOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			p.log.WithError(err).Warn("relay receive failed")
			select {
			case <-time.After(p.backoff):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// PollOnce receives one batch, hands each body to the sink and deletes it.
// Bodies that fail verification are deleted too: redelivery cannot fix them.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	out, err := p.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              &p.queueURL,
		MaxNumberOfMessages:   maxMessages,
		WaitTimeSeconds:       waitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return 0, fmt.Errorf("receive message: %w", err)
	}

	for _, msg := range out.Messages {
		p.handle(ctx, msg)
	}
	return len(out.Messages), nil
}

func (p *Poller) handle(ctx context.Context, msg sqstypes.Message) {
	log := p.log.WithFields(logrus.Fields{
		"message_id": deref(msg.MessageId),
		"order_id":   attr(msg, "order_id"),
	})
	p.metrics.Incr(metrics.RelayedMessages)

	if msg.Body == nil {
		log.Warn("relayed message without body")
	} else if err := p.sink.AcceptPayment([]byte(*msg.Body)); err != nil {
		log.WithError(err).Warn("relayed notification rejected")
	} else {
		log.Info("relayed notification accepted")
	}

	if _, err := p.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &p.queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		// redelivery is absorbed by the session's settlement guard
		log.WithError(err).Warn("delete relayed message failed")
	}
}

func attr(msg sqstypes.Message, name string) string {
	if v, ok := msg.MessageAttributes[name]; ok {
		return deref(v.StringValue)
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
