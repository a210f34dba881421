package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/models"
)

const (
	writeTimeout       = 10 * time.Second
	readLimit          = 4096
	clientSendBuffer   = 256
	maxConnLifetime    = 4 * time.Hour
	revalidateInterval = 15 * time.Minute
	revalidateTimeout  = 10 * time.Second
	pingInterval       = 30 * time.Second
	pingTimeout        = 10 * time.Second
	maxMissedPongs     = 2
)

// KeyValidator re-checks that the key a stream was opened with still exists.
type KeyValidator interface {
	GetPrincipalByAPIKey(ctx context.Context, apiKey string) (*models.Principal, error)
}

// Client is one subscriber connection. Its caller is fixed at connect time;
// a key whose grants change must reconnect to see the new set.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	caller    authz.Caller
	apiKey    string
	validator KeyValidator
	log       *logrus.Entry

	closeOnce   sync.Once
	connectedAt time.Time

	// firstLive is the first event ID delivered live. Replays stop below it
	// so no event is sent twice. Owned by the hub's Run goroutine.
	firstLive uint64
}

// NewClient wraps conn for caller. validator may be nil to skip periodic
// key re-validation.
func NewClient(hub *Hub, conn *websocket.Conn, caller authz.Caller, validator KeyValidator, apiKey string) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, clientSendBuffer),
		caller:      caller,
		apiKey:      apiKey,
		validator:   validator,
		log:         hub.log.WithField("key_id", caller.ID),
		connectedAt: time.Now(),
	}
}

func (c *Client) allows(tenantID string) bool {
	return authz.AuthorizedTenants(c.caller).Contains(tenantID)
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ReadPump reads client messages until the connection closes. The only
// message understood is a subscribe request carrying last_event_id.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.CloseNow() //nolint:errcheck // teardown
	}()

	c.conn.SetReadLimit(readLimit)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.log.WithField("status", status).Debug("event stream client disconnected")
			}
			return
		}

		var msg SubscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "subscribe" {
			continue
		}

		if msg.LastEventID > 0 {
			c.hub.RequestReplay(c, msg.LastEventID)
		}
	}
}

// WritePump writes queued messages, pings, re-validates the key and enforces
// the connection lifetime. It returns when the hub closes the send channel.
func (c *Client) WritePump(ctx context.Context) {
	defer c.conn.CloseNow() //nolint:errcheck // teardown

	lifetime := time.NewTimer(time.Until(c.connectedAt.Add(maxConnLifetime)))
	defer lifetime.Stop()

	revalidate := time.NewTicker(revalidateInterval)
	defer revalidate.Stop()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	missed := 0

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "stream closed") //nolint:errcheck // best effort
				return
			}

			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()

			if err != nil {
				c.log.WithError(err).Debug("event stream write failed")
				return
			}

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.conn.Ping(pctx)
			cancel()

			if err == nil {
				missed = 0
				continue
			}

			if missed++; missed >= maxMissedPongs {
				c.log.Debug("closing event stream: missed pongs")
				return
			}

		case <-revalidate.C:
			if !c.keyStillValid(ctx) {
				c.log.Info("closing event stream: API key no longer valid")
				c.conn.Close(websocket.StatusPolicyViolation, "authentication expired") //nolint:errcheck // best effort
				return
			}

		case <-lifetime.C:
			c.conn.Close(websocket.StatusNormalClosure, "max connection lifetime exceeded") //nolint:errcheck // best effort
			return
		}
	}
}

func (c *Client) keyStillValid(ctx context.Context) bool {
	if c.validator == nil {
		return true
	}

	vctx, cancel := context.WithTimeout(ctx, revalidateTimeout)
	defer cancel()

	_, err := c.validator.GetPrincipalByAPIKey(vctx, c.apiKey)

	return err == nil
}
