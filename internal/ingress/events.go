package ingress

import (
	"strings"
	"time"
)

// CaptureEventType is the normalized capture-device callback kind.
type CaptureEventType string

const (
	EventPrinting   CaptureEventType = "printing"
	EventSessionEnd CaptureEventType = "session_end"
	EventOther      CaptureEventType = "other"
)

// ParseCaptureEventType maps the event_type query value. Unrecognized values
// are EventOther; the raw name stays on the event.
func ParseCaptureEventType(raw string) CaptureEventType {
	switch CaptureEventType(strings.ToLower(strings.TrimSpace(raw))) {
	case EventPrinting:
		return EventPrinting
	case EventSessionEnd:
		return EventSessionEnd
	}
	return EventOther
}

// CaptureEvent is one capture-device lifecycle callback.
type CaptureEvent struct {
	Type       CaptureEventType
	Name       string // event_type as received
	Params     [4]string
	ReceivedAt time.Time
}
