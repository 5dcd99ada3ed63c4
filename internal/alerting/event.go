package alerting

import (
	"time"

	"barwatch/internal/domain"
)

// Event names routed through the dispatcher.
const (
	EventFreshness     = "freshness"
	EventEscalation    = "escalation"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClosed = "breaker_closed"
	EventSignal        = "signal"
)

// Event is one notification with enough context to render a message on any
// channel.
type Event struct {
	Name     string
	Severity domain.Severity
	Pair     domain.Pair
	// BarTime anchors signal events for per-bar dedupe.
	BarTime *time.Time
	Message string
	// Fields carries extra key/value context rendered after the message.
	Fields map[string]string
	At     time.Time
}
