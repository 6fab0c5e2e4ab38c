// Package metrics counts kiosk events and ships them to CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/aws"
)

// Counter names.
const (
	PaymentVerified      = "PaymentVerified"
	PaymentRejected      = "PaymentRejected"
	CaptureEvents        = "CaptureEvents"
	OrdersCreated        = "OrdersCreated"
	OrderFailures        = "OrderFailures"
	DeviceFailures       = "DeviceFailures"
	DuplicateSettlements = "DuplicateSettlements"
	SpuriousSessionEnds  = "SpuriousSessionEnds"
	RelayedMessages      = "RelayedMessages"
)

// Recorder increments named counters. Implementations must not block.
type Recorder interface {
	Incr(name string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Incr(string) {}

// maxDatumsPerCall is the PutMetricData per-request limit.
const maxDatumsPerCall = 1000

// CloudWatch buffers counts in memory and flushes them on an interval.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	dims      []cwtypes.Dimension
	interval  time.Duration
	log       *logrus.Entry

	mu     sync.Mutex
	counts map[string]float64
}

// NewCloudWatch returns a recorder tagging every datum with MachineId.
func NewCloudWatch(client aws.CloudWatchAPI, namespace, machineID string, interval time.Duration, log *logrus.Entry) *CloudWatch {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		dims:      []cwtypes.Dimension{{Name: sdkaws.String("MachineId"), Value: sdkaws.String(machineID)}},
		interval:  interval,
		log:       log.WithField("component", "metrics"),
		counts:    map[string]float64{},
	}
}

func (c *CloudWatch) Incr(name string) {
	c.mu.Lock()
	c.counts[name]++
	c.mu.Unlock()
}

// Flush sends and clears the buffered counts. On failure the counts are
// merged back so the next flush retries them.
func (c *CloudWatch) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.counts
	c.counts = map[string]float64{}
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	now := time.Now()
	data := make([]cwtypes.MetricDatum, 0, len(pending))
	for name, v := range pending {
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(name),
			Dimensions: c.dims,
			Timestamp:  sdkaws.Time(now),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(v),
		})
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  sdkaws.String(c.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			c.restore(pending)
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

func (c *CloudWatch) restore(pending map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range pending {
		c.counts[k] += v
	}
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// with a short deadline.
func (c *CloudWatch) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.log.WithError(err).Warn("metrics flush failed")
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(final); err != nil {
				c.log.WithError(err).Warn("final metrics flush failed")
			}
			cancel()
			return
		}
	}
}
