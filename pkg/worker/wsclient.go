package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/serialize"
	"github.com/lattice-fl/lattice/pkg/transport"
	"github.com/lattice-fl/lattice/pkg/transport/wsbroker"
	"github.com/lattice-fl/lattice/pkg/types"
)

// WSCarrier is the client-side counterpart to transport/wsbroker: one
// persistent duplex connection over which PullCommand and
// SendStatusUpdate calls are multiplexed and correlated by request ID,
// symmetric with the broker's server-side tunnel.
type WSCarrier struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan wsbroker.Envelope
}

// DialWSCarrier dials brokerURL (a ws:// or wss:// URL), presenting
// bearer as the upgrade's bearer token, and starts the carrier's read
// loop.
func DialWSCarrier(brokerURL, bearer string) (*WSCarrier, error) {
	header := http.Header{"Authorization": {"Bearer " + bearer}}
	conn, _, err := websocket.DefaultDialer.Dial(brokerURL, header)
	if err != nil {
		return nil, fmt.Errorf("worker: dial broker: %w", err)
	}
	c := &WSCarrier{conn: conn, pending: make(map[string]chan wsbroker.Envelope)}
	go c.readLoop()
	return c, nil
}

func (c *WSCarrier) readLoop() {
	for {
		var env wsbroker.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			for _, ch := range c.pending {
				close(ch)
			}
			c.pending = make(map[string]chan wsbroker.Envelope)
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[env.RequestID]
		if ok {
			delete(c.pending, env.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
			close(ch)
		}
	}
}

func (c *WSCarrier) roundTrip(ctx context.Context, messageType string, data json.RawMessage) (wsbroker.Envelope, error) {
	reqID := uuid.NewString()
	ch := make(chan wsbroker.Envelope, 1)

	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()

	if err := c.conn.WriteJSON(wsbroker.Envelope{MessageType: messageType, RequestID: reqID, Data: data}); err != nil {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return wsbroker.Envelope{}, fmt.Errorf("worker: send over broker: %w", errs.ErrServerRequest)
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return wsbroker.Envelope{}, fmt.Errorf("worker: broker connection closed: %w", errs.ErrServerRequest)
		}
		return env, nil
	case <-ctx.Done():
		return wsbroker.Envelope{}, ctx.Err()
	}
}

// PullCommand implements Carrier.
func (c *WSCarrier) PullCommand(ctx context.Context, workerName string) (serialize.Envelope, bool, error) {
	req, err := json.Marshal(serialize.Envelope{Datatype: "PullCommand", Data: json.RawMessage("{}")})
	if err != nil {
		return serialize.Envelope{}, false, err
	}

	env, err := c.roundTrip(ctx, transport.MessageServerRequest, req)
	if err != nil {
		return serialize.Envelope{}, false, err
	}

	var wire transport.WireResponse
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &wire); err != nil {
			return serialize.Envelope{}, false, fmt.Errorf("worker: decode pull response: %w", err)
		}
	}
	return extractCommand(wire)
}

// SendStatusUpdate implements Carrier.
func (c *WSCarrier) SendStatusUpdate(ctx context.Context, update types.StatusUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, transport.MessageStatusUpdate, data)
	return err
}

// Close tears down the underlying connection.
func (c *WSCarrier) Close() error { return c.conn.Close() }
