package metrics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownMeasurementType is returned when a query names a measurement type
// outside the fixed set.
var ErrUnknownMeasurementType = errors.New("unknown measurement type")

// EventKind identifies which fact a measurement Event carries.
type EventKind uint8

const (
	EventRequestStarted EventKind = iota + 1
	EventRequestCompleted
	EventConnectionOpened
	EventConnectionClosed
	EventMemorySample
)

func (k EventKind) String() string {
	switch k {
	case EventRequestStarted:
		return "request_started"
	case EventRequestCompleted:
		return "request_completed"
	case EventConnectionOpened:
		return "connection_opened"
	case EventConnectionClosed:
		return "connection_closed"
	case EventMemorySample:
		return "memory_sample"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is a single observed fact fed into the Engine. Only the fields that
// belong to Kind are meaningful; the rest are zero.
type Event struct {
	Kind     EventKind
	Endpoint string        // RequestCompleted
	Status   int           // RequestCompleted
	Duration time.Duration // RequestCompleted
	Bytes    int64         // RequestCompleted (response size), MemorySample (allocated bytes)
}

// RequestStarted records that a request was received.
func RequestStarted() Event {
	return Event{Kind: EventRequestStarted}
}

// RequestCompleted records a finished response.
func RequestCompleted(endpoint string, status int, duration time.Duration, bytes int64) Event {
	return Event{
		Kind:     EventRequestCompleted,
		Endpoint: endpoint,
		Status:   status,
		Duration: duration,
		Bytes:    bytes,
	}
}

// ConnectionOpened records a newly accepted client connection.
func ConnectionOpened() Event {
	return Event{Kind: EventConnectionOpened}
}

// ConnectionClosed records a client connection going away.
func ConnectionClosed() Event {
	return Event{Kind: EventConnectionClosed}
}

// MemorySample records a memory usage reading in bytes.
func MemorySample(bytes int64) Event {
	return Event{Kind: EventMemorySample, Bytes: bytes}
}

// MeasurementType names one of the fixed history streams kept by the Engine.
type MeasurementType string

const (
	TypeRequests    MeasurementType = "requests"
	TypeResponses   MeasurementType = "responses"
	TypeTimes       MeasurementType = "times"
	TypeConnections MeasurementType = "connections"
	TypeMemory      MeasurementType = "memory"
	TypeEndpoints   MeasurementType = "endpoints"
)

// MeasurementTypes lists every type in rotation order.
var MeasurementTypes = []MeasurementType{
	TypeRequests,
	TypeResponses,
	TypeTimes,
	TypeConnections,
	TypeMemory,
	TypeEndpoints,
}

// ParseMeasurementType resolves a user supplied type name. Matching is case
// insensitive and accepts "response_times" as an alias for "times".
func ParseMeasurementType(s string) (MeasurementType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requests":
		return TypeRequests, nil
	case "responses":
		return TypeResponses, nil
	case "times", "response_times", "response-times":
		return TypeTimes, nil
	case "connections":
		return TypeConnections, nil
	case "memory":
		return TypeMemory, nil
	case "endpoints":
		return TypeEndpoints, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMeasurementType, s)
	}
}
