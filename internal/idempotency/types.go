package idempotency

import "time"

// Status values for delivery entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// DeliveryRecord is the shape persisted in the relay dedupe DynamoDB table.
// One record exists per distinct gateway notification (order + status transition).
type DeliveryRecord struct {
	IdempotencyKey    string    `dynamodbav:"idempotency_key"` // PK: order_id:transaction_status:status_code
	Status            string    `dynamodbav:"status"`
	OrderID           string    `dynamodbav:"order_id,omitempty"`
	TransactionStatus string    `dynamodbav:"transaction_status,omitempty"`
	MessageID         string    `dynamodbav:"message_id,omitempty"` // SQS message id once enqueued
	CreatedAt         time.Time `dynamodbav:"created_at"`
	UpdatedAt         time.Time `dynamodbav:"updated_at"`
	ExpiresAt         int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note              string    `dynamodbav:"note,omitempty"`
}

// DeliveryKey builds the dedupe key for one notification.
func DeliveryKey(orderID, transactionStatus, statusCode string) string {
	return orderID + ":" + transactionStatus + ":" + statusCode
}
