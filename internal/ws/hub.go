package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/metrics"
)

// Hub channel buffer sizes and connection caps.
const (
	broadcastBuffer  = 256
	registerBuffer   = 64
	maxClients       = 1000
	maxClientsPerKey = 10
	maxEventPayload  = 8192
	drainTimeout     = 3 * time.Second
)

type replayRequest struct {
	client *Client
	lastID uint64
}

// Hub tracks subscribers and fans events out to them. The client set, and
// every send on or close of a client's channel, belong to the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	perKey     map[string]int
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	replays    chan replayRequest

	shutdownOnce sync.Once
	shutdown     chan struct{}
	done         chan struct{}

	seq    atomic.Uint64
	count  atomic.Int64
	replay *replayBuffer
	log    *logrus.Logger
}

// NewHub creates a Hub. Nothing is delivered until Run is started.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		perKey:     make(map[string]int),
		register:   make(chan *Client, registerBuffer),
		unregister: make(chan *Client, registerBuffer),
		broadcast:  make(chan Event, broadcastBuffer),
		replays:    make(chan replayRequest, registerBuffer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		replay:     newReplayBuffer(defaultReplayLen, defaultReplayAge),
		log:        log,
	}
}

// Run delivers events until ctx is done or Shutdown is called, then drains
// connected clients.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.drain()
			return
		case <-h.shutdown:
			h.drain()
			return

		case c := <-h.register:
			h.add(c)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
			}

		case evt := <-h.broadcast:
			h.deliver(evt)

		case r := <-h.replays:
			if _, ok := h.clients[r.client]; !ok {
				h.addPending()
			}

			if _, ok := h.clients[r.client]; ok {
				h.replayTo(r.client, r.lastID)
			}
		}
	}
}

// addPending registers every queued client. A replay request can be selected
// ahead of the registration that preceded it.
func (h *Hub) addPending() {
	for {
		select {
		case c := <-h.register:
			h.add(c)
		default:
			return
		}
	}
}

func (h *Hub) add(c *Client) {
	log := h.log.WithField("key_id", c.caller.ID)

	if len(h.clients) >= maxClients {
		log.Warn("event stream connection limit reached, dropping client")
		c.closeSend()
		return
	}

	if h.perKey[c.caller.ID] >= maxClientsPerKey {
		log.Warn("per-key event stream limit reached, dropping client")
		c.closeSend()
		return
	}

	h.clients[c] = struct{}{}
	h.perKey[c.caller.ID]++
	h.updateCount()
	log.WithField("total", len(h.clients)).Debug("event stream client registered")
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	c.closeSend()

	h.perKey[c.caller.ID]--
	if h.perKey[c.caller.ID] <= 0 {
		delete(h.perKey, c.caller.ID)
	}

	h.updateCount()
}

// deliver sends evt to every client allowed to see its tenant. A client whose
// buffer is full is disconnected; it can resume with last_event_id.
func (h *Hub) deliver(evt Event) {
	msg, err := json.Marshal(evt)
	if err != nil {
		h.log.WithError(err).Error("encoding event")
		return
	}

	for c := range h.clients {
		if !c.allows(evt.TenantID) {
			continue
		}

		if c.firstLive == 0 {
			c.firstLive = evt.ID
		}

		select {
		case c.send <- msg:
		default:
			h.log.WithField("key_id", c.caller.ID).Warn("event stream client too slow, disconnecting")
			h.remove(c)
		}
	}
}

func (h *Hub) updateCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.EventStreamClients.Set(float64(len(h.clients)))
}

// Publish encodes data as an event for tenantID and queues it for delivery.
// It never blocks; when the queue is full the live delivery is dropped but
// the event stays available for replay.
func (h *Hub) Publish(eventType, tenantID string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.WithError(err).WithField("type", eventType).Error("encoding event payload")
		return
	}

	if len(raw) > maxEventPayload {
		h.log.WithFields(logrus.Fields{
			"type":         eventType,
			"tenant_id":    tenantID,
			"payload_size": len(raw),
		}).Warn("dropping oversized event")
		return
	}

	evt := Event{
		ID:       h.seq.Add(1),
		Type:     eventType,
		TenantID: tenantID,
		Data:     raw,
		Time:     time.Now().UTC(),
	}

	h.replay.append(evt)
	metrics.EventsPublishedTotal.WithLabelValues(eventType).Inc()

	select {
	case h.broadcast <- evt:
	default:
		h.log.WithField("type", eventType).Warn("event queue full, live delivery dropped")
	}
}

// Register adds a client. A client that cannot be registered has its send
// channel closed, which ends its write pump.
func (h *Hub) Register(c *Client) {
	select {
	case <-h.done:
		c.closeSend()
	case h.register <- c:
	default:
		h.log.Warn("register queue full, dropping client")
		c.closeSend()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	default:
		// Run has exited and already dropped every client.
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int { return int(h.count.Load()) }

// RequestReplay asks Run to resend buffered events after lastEventID to c.
func (h *Hub) RequestReplay(c *Client, lastEventID uint64) {
	select {
	case h.replays <- replayRequest{client: c, lastID: lastEventID}:
	default:
		h.log.Warn("replay queue full, request dropped")
	}
}

// replayTo queues buffered events c may see. When the resume point is gone
// the client is told to reset instead.
func (h *Hub) replayTo(c *Client, lastEventID uint64) {
	events, ok := h.replay.since(lastEventID, h.seq.Load())
	if !ok {
		msg, err := json.Marshal(ResetMsg{Type: "reset", Reason: "requested events are no longer buffered, re-read current state"})
		if err == nil {
			select {
			case c.send <- msg:
			default:
			}
		}
		return
	}

	for _, evt := range authz.Filter(events, c.caller) {
		if c.firstLive != 0 && evt.ID >= c.firstLive {
			return
		}

		msg, err := json.Marshal(evt)
		if err != nil {
			continue
		}

		select {
		case c.send <- msg:
		default:
			return
		}
	}
}

// Shutdown stops Run and waits for it to drain clients.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
	<-h.done
}

// drain tells every client the server is going away, gives write pumps a
// moment to flush, then closes them all.
func (h *Hub) drain() {
	if len(h.clients) == 0 {
		return
	}

	h.log.WithField("clients", len(h.clients)).Info("draining event stream clients")

	bye := []byte(`{"type":"shutdown","reason":"server shutting down"}`)
	for c := range h.clients {
		select {
		case c.send <- bye:
		default:
		}
	}

	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

wait:
	for h.pending() {
		select {
		case <-deadline.C:
			h.log.Warn("event stream drain timed out")
			break wait
		case <-tick.C:
		}
	}

	for c := range h.clients {
		h.remove(c)
	}
}

func (h *Hub) pending() bool {
	for c := range h.clients {
		if len(c.send) > 0 {
			return true
		}
	}

	return false
}
