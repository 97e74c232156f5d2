// Package broadcast provides WebSocket fan-out of newly created incident
// reports to connected monitoring sessions.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vigil-app/vigil/internal/report"
)

// Conn is the write side of a monitoring connection. *websocket.Conn
// satisfies it; tests substitute fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Event is the wire payload pushed for each new report. The report is
// always redacted before marshaling; CoarseGeohash lets dashboards cluster
// markers without precise coordinates.
type Event struct {
	Type          string         `json:"type"`
	Report        *report.Report `json:"report"`
	CoarseGeohash string         `json:"coarse_geohash,omitempty"`
	EmittedAt     time.Time      `json:"emitted_at"`
}

// EventTypeNewReport is the event type for report-creation pushes.
const EventTypeNewReport = "new_report"

// Broadcaster owns the set of live monitoring connections and fans out each
// newly created report to all of them. Delivery is best-effort and
// at-most-once per connection per event: a failed write drops that connection
// and never affects the others, nor the report write that triggered the
// broadcast. Connections that join later do not receive past events; they
// pull current state on connect instead.
//
// The Broadcaster is an explicitly owned value passed to the creation path,
// never a package-level singleton.
type Broadcaster struct {
	mu      sync.Mutex
	conns   map[Conn]bool
	logger  *slog.Logger
	metrics *Metrics
}

// New creates an empty Broadcaster. metrics may be nil.
func New(logger *slog.Logger, metrics *Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		conns:   make(map[Conn]bool),
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe adds a monitoring connection to the broadcast set.
func (b *Broadcaster) Subscribe(conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.conns[conn] = true
	if b.metrics != nil {
		b.metrics.SetConnections(len(b.conns))
	}
}

// Unsubscribe removes a monitoring connection from the broadcast set.
// Safe to call for connections already removed by a failed write.
func (b *Broadcaster) Unsubscribe(conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.conns, conn)
	if b.metrics != nil {
		b.metrics.SetConnections(len(b.conns))
	}
}

// ConnectionCount returns the number of live monitoring connections.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Broadcast pushes a new-report event to every current member of the
// connection set. The payload is marshaled once. Connections whose write
// fails are closed and dropped; each member receives the event at most once.
// Errors never propagate to the caller: the report is already durably
// persisted by the time Broadcast runs.
func (b *Broadcaster) Broadcast(r *report.Report) {
	redacted := r.Redacted()
	event := Event{
		Type:          EventTypeNewReport,
		Report:        redacted,
		CoarseGeohash: redacted.CoarseGeohash(),
		EmittedAt:     time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal report event",
			slog.String("error", err.Error()),
			slog.String("report_id", r.ID))
		return
	}

	// Holding the lock across the writes keeps the iteration consistent with
	// concurrent subscribes and unsubscribes and rules out double delivery.
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.IncBroadcasts()
	}

	for conn := range b.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn("dropping monitoring connection after failed delivery",
				slog.String("error", err.Error()),
				slog.String("report_id", r.ID))
			_ = conn.Close()
			delete(b.conns, conn)
			if b.metrics != nil {
				b.metrics.IncDeliveryFailures()
			}
			continue
		}
		if b.metrics != nil {
			b.metrics.IncDeliveries()
		}
	}

	if b.metrics != nil {
		b.metrics.SetConnections(len(b.conns))
	}
}
