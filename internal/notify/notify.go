// Package notify publishes engine lifecycle events to interested trackers.
//
// Publishing is strictly best-effort: the engine never blocks on a tracker
// and never surfaces a publish failure to the caller. When NATS is not
// configured the no-op publisher is wired instead and every event is
// silently dropped.
package notify

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event is a single engine lifecycle notification.
type Event struct {
	Kind      string         `json:"kind"`
	Subject   string         `json:"subject"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher delivers events best-effort. Implementations must never block
// the caller for long and must swallow their own failures.
type Publisher interface {
	Publish(event Event)
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}

// NATSPublisher publishes events to NATS subjects under a configured prefix:
//
//	<prefix>.<subject>.<kind>
//
// e.g. agentd.executions.3f2a….completed
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher over an established connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "agentd"
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.Named("notify"),
	}
}

// Publish implements Publisher. Failures are logged at debug level and
// otherwise ignored; a tracker outage must never affect engine behavior.
func (p *NATSPublisher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Debug("dropping unmarshalable event", zap.Error(err))
		return
	}

	subject := p.prefix + "." + event.Subject + "." + event.Kind
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Debug("event publish failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
