package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrClientClosed is returned when sending to a client the gateway dropped.
var ErrClientClosed = errors.New("push client closed")

// SnapshotSource computes the authoritative view of a session for a user.
type SnapshotSource interface {
	Snapshot(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error)
}

// Metrics holds the gateway's collectors.
type Metrics struct {
	Clients        prometheus.Gauge
	DroppedClients prometheus.Counter
	Delivered      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg, if any.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pomo",
			Subsystem: "push",
			Name:      "clients",
			Help:      "Connected push clients.",
		}),
		DroppedClients: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pomo",
			Subsystem: "push",
			Name:      "dropped_clients_total",
			Help:      "Clients disconnected because they could not keep up.",
		}),
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pomo",
			Subsystem: "push",
			Name:      "frames_delivered_total",
			Help:      "Session frames queued to clients.",
		}),
	}
}

type clientSet map[*Client]struct{}

// Gateway routes session frames to subscribed clients.
type Gateway struct {
	mu        sync.RWMutex
	bySession map[uuid.UUID]clientSet
	byUser    map[uuid.UUID]clientSet
	clients   map[*Client]map[uuid.UUID]struct{}

	source  SnapshotSource
	metrics *Metrics
	logger  *slog.Logger
}

// NewGateway creates a Gateway. metrics may be nil.
func NewGateway(source SnapshotSource, metrics *Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Gateway{
		bySession: make(map[uuid.UUID]clientSet),
		byUser:    make(map[uuid.UUID]clientSet),
		clients:   make(map[*Client]map[uuid.UUID]struct{}),
		source:    source,
		metrics:   metrics,
		logger:    logger.With("component", "push_gateway"),
	}
}

// Connect registers a client with no subscriptions.
func (g *Gateway) Connect(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[c]; !ok {
		g.clients[c] = make(map[uuid.UUID]struct{})
		g.metrics.Clients.Inc()
	}
}

// Subscribe adds c to a session's audience and resyncs it immediately. The
// session must belong to the client's user. The client joins the audience
// before the snapshot is read so no transition falls between the two.
func (g *Gateway) Subscribe(ctx context.Context, c *Client, sessionID uuid.UUID, requestID string) error {
	g.mu.Lock()
	subs, ok := g.clients[c]
	if !ok {
		g.mu.Unlock()
		return ErrClientClosed
	}
	_, already := subs[sessionID]
	subs[sessionID] = struct{}{}
	set := g.bySession[sessionID]
	if set == nil {
		set = make(clientSet)
		g.bySession[sessionID] = set
	}
	set[c] = struct{}{}
	g.mu.Unlock()

	snap, err := g.current(ctx, c, sessionID)
	if err != nil {
		if !already {
			g.Unsubscribe(c, sessionID)
		}
		return err
	}
	return g.deliver(c, requestID, "", snap)
}

// SubscribeUser adds c to the audience of every session of its user.
func (g *Gateway) SubscribeUser(c *Client) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.clients[c]; !ok {
		return ErrClientClosed
	}
	set := g.byUser[c.UserID()]
	if set == nil {
		set = make(clientSet)
		g.byUser[c.UserID()] = set
	}
	set[c] = struct{}{}
	return nil
}

// Unsubscribe removes c from a session's audience.
func (g *Gateway) Unsubscribe(c *Client, sessionID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if subs, ok := g.clients[c]; ok {
		delete(subs, sessionID)
	}
	g.removeFromSessionLocked(sessionID, c)
}

// UnsubscribeUser removes c from its user-wide audience.
func (g *Gateway) UnsubscribeUser(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeFromUserLocked(c)
}

// Disconnect drops every subscription of c and closes it. It is safe to call
// more than once.
func (g *Gateway) Disconnect(c *Client) {
	g.mu.Lock()
	subs, ok := g.clients[c]
	if ok {
		for sessionID := range subs {
			g.removeFromSessionLocked(sessionID, c)
		}
		g.removeFromUserLocked(c)
		delete(g.clients, c)
		g.metrics.Clients.Dec()
	}
	g.mu.Unlock()

	c.close()
}

// Resync sends c the current authoritative state of a session.
func (g *Gateway) Resync(ctx context.Context, c *Client, sessionID uuid.UUID, requestID string) error {
	snap, err := g.current(ctx, c, sessionID)
	if err != nil {
		return err
	}
	return g.deliver(c, requestID, "", snap)
}

// current reads the session's snapshot for c. A read that is older than a
// frame c was already sent is taken again.
func (g *Gateway) current(ctx context.Context, c *Client, sessionID uuid.UUID) (domain.SessionSnapshot, error) {
	snap, err := g.source.Snapshot(ctx, c.UserID(), sessionID)
	if err != nil || !c.sentAfter(sessionID, snap.ServerTime) {
		return snap, err
	}
	return g.source.Snapshot(ctx, c.UserID(), sessionID)
}

// Broadcast queues a state frame for every client subscribed to the session
// or to its user. Clients that cannot take the frame are disconnected. It
// returns the number of clients that received it.
func (g *Gateway) Broadcast(reason events.Reason, snap domain.SessionSnapshot) int {
	frame, err := stateFrame("", reason, snap)
	if err != nil {
		g.logger.Error("failed to encode session frame", "session_id", snap.SessionID, "error", err)
		return 0
	}

	g.mu.RLock()
	targets := make([]*Client, 0, len(g.bySession[snap.SessionID])+len(g.byUser[snap.UserID]))
	seen := make(map[*Client]struct{})
	for c := range g.bySession[snap.SessionID] {
		if c.UserID() != snap.UserID {
			continue
		}
		seen[c] = struct{}{}
		targets = append(targets, c)
	}
	for c := range g.byUser[snap.UserID] {
		if _, dup := seen[c]; !dup {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.send(frame) {
			c.markSent(snap.SessionID, snap.ServerTime)
			delivered++
			continue
		}
		g.metrics.DroppedClients.Inc()
		g.logger.Warn("dropping slow push client",
			"client_id", c.ID(),
			"user_id", c.UserID(),
			"session_id", snap.SessionID)
		g.Disconnect(c)
	}
	g.metrics.Delivered.Add(float64(delivered))
	return delivered
}

// HandleEvent broadcasts a session event. Subscriptions to a session end
// with its terminal event.
func (g *Gateway) HandleEvent(ctx context.Context, event *events.SessionEvent) error {
	g.Broadcast(event.Reason, event.Snapshot)

	if event.IsTerminal() {
		g.mu.Lock()
		for c := range g.bySession[event.Snapshot.SessionID] {
			if subs, ok := g.clients[c]; ok {
				delete(subs, event.Snapshot.SessionID)
			}
		}
		delete(g.bySession, event.Snapshot.SessionID)
		g.mu.Unlock()
	}
	return nil
}

// Subscribers returns how many clients follow a session directly.
func (g *Gateway) Subscribers(sessionID uuid.UUID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.bySession[sessionID])
}

// Clients returns the number of connected clients.
func (g *Gateway) Clients() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *Gateway) deliver(c *Client, requestID string, reason events.Reason, snap domain.SessionSnapshot) error {
	frame, err := stateFrame(requestID, reason, snap)
	if err != nil {
		return fmt.Errorf("encode session frame: %w", err)
	}
	if !c.send(frame) {
		g.metrics.DroppedClients.Inc()
		g.Disconnect(c)
		return ErrClientClosed
	}
	c.markSent(snap.SessionID, snap.ServerTime)
	g.metrics.Delivered.Inc()
	return nil
}

func (g *Gateway) removeFromSessionLocked(sessionID uuid.UUID, c *Client) {
	set := g.bySession[sessionID]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(g.bySession, sessionID)
	}
}

func (g *Gateway) removeFromUserLocked(c *Client) {
	set := g.byUser[c.UserID()]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(g.byUser, c.UserID())
	}
}
