package types

import "time"

// EventKind is the closed set of event kinds routed by the event bus.
type EventKind string

const (
	EventMarketData EventKind = "market_data"
	EventTick       EventKind = "tick"
	EventBar        EventKind = "bar"

	EventSignal EventKind = "signal"

	EventOrder           EventKind = "order"
	EventOrderSubmitted  EventKind = "order_submitted"
	EventOrderAccepted   EventKind = "order_accepted"
	EventOrderRejected   EventKind = "order_rejected"
	EventOrderCancelled  EventKind = "order_cancelled"

	EventFill        EventKind = "fill"
	EventPartialFill EventKind = "partial_fill"

	EventPositionOpened EventKind = "position_opened"
	EventPositionClosed EventKind = "position_closed"
	EventPositionUpdated EventKind = "position_updated"

	EventRiskViolation EventKind = "risk_violation"
	EventRiskWarning   EventKind = "risk_warning"

	EventSystemStart EventKind = "system_start"
	EventSystemStop  EventKind = "system_stop"
	EventSystemError EventKind = "system_error"
	EventHeartbeat   EventKind = "heartbeat"
)

// Event is the envelope dispatched by the event bus. Events are ordered by
// Priority only (smaller fires first); every other field is informational
// and never participates in ordering comparisons.
type Event struct {
	Priority  int
	Kind      EventKind
	Timestamp time.Time
	Source    string
	Payload   any
	Metadata  map[string]any
}
