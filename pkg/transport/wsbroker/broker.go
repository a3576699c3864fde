// Package wsbroker implements the persistent, full-duplex broker
// carrier from spec §4.4/§6: a stand-in for the Python original's AMQP
// broker, since no AMQP client exists anywhere in the retrieval pack (see
// DESIGN.md). Each worker holds one gorilla/websocket connection;
// ServerRequest, ServerRequestResponse, and StatusUpdate all multiplex
// over it tagged with a message_type envelope, matching spec.md §6's
// "Wire protocol — broker carrier" note, with request/response
// correlation by a request UUID rather than by HTTP request/response
// pairing.
//
// Grounded on the teacher's pack-sibling
// Freitascorp-devopsclaw/pkg/relay/ws_relay.go (bearer-token-gated
// upgrade, one tunnel per node keyed by identity, registration handshake
// before the duplex loop starts), adapted from that file's
// coder/websocket + context-cancellation style to the teacher's own
// gorilla/websocket dependency and its mutex-guarded map idiom.
package wsbroker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lattice-fl/lattice/pkg/auth"
	"github.com/lattice-fl/lattice/pkg/blobstore"
	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/log"
	"github.com/lattice-fl/lattice/pkg/metrics"
	"github.com/lattice-fl/lattice/pkg/serialize"
	"github.com/lattice-fl/lattice/pkg/transport"
	"github.com/lattice-fl/lattice/pkg/types"
)

// Envelope is the broker carrier's wire frame: {message_type, data},
// plus a request ID used to correlate a ServerRequest with its
// ServerRequestResponse.
type Envelope struct {
	MessageType string          `json:"message_type"`
	RequestID   string          `json:"request_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type tunnel struct {
	conn       *websocket.Conn
	workerName string
	role       auth.Role
	writeMu    sync.Mutex
}

func (t *tunnel) send(env Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteJSON(env)
}

// Broker is the wsbroker carrier server: one HTTP upgrade endpoint that
// promotes each accepted connection to a long-lived duplex tunnel.
type Broker struct {
	handle transport.ServerHandle
	tokens transport.Authenticator
	blobs  transport.BlobStore

	mu      sync.Mutex
	tunnels map[string]*tunnel
}

// NewBroker builds a Broker wired to handle, tokens, and blobs.
func NewBroker(handle transport.ServerHandle, tokens transport.Authenticator, blobs transport.BlobStore) *Broker {
	return &Broker{
		handle:  handle,
		tokens:  tokens,
		blobs:   blobs,
		tunnels: make(map[string]*tunnel),
	}
}

// Handler returns the http.Handler that accepts the upgrade, for mounting
// on whatever mux a caller prefers (its own server, or alongside
// httpcarrier's mux).
func (b *Broker) Handler() http.Handler {
	return http.HandlerFunc(b.handleConnect)
}

func (b *Broker) handleConnect(w http.ResponseWriter, r *http.Request) {
	transport.SecurityHeaders(w.Header())

	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	username, role, err := b.tokens.VerifyToken(strings.TrimPrefix(header, prefix))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("wsbroker").Error().Err(err).Msg("upgrade failed")
		return
	}

	t := &tunnel{conn: conn, workerName: username, role: role}

	b.mu.Lock()
	if existing, ok := b.tunnels[username]; ok {
		existing.conn.Close()
		log.WithComponent("wsbroker").Warn().Str("worker", username).Msg("replacing stale tunnel")
	}
	b.tunnels[username] = t
	b.mu.Unlock()

	log.WithComponent("wsbroker").Info().Str("worker", username).Msg("tunnel established")
	b.serve(t)
}

// serve runs the duplex read loop for one tunnel until the connection
// closes, then unregisters it.
func (b *Broker) serve(t *tunnel) {
	defer func() {
		b.mu.Lock()
		if b.tunnels[t.workerName] == t {
			delete(b.tunnels, t.workerName)
		}
		b.mu.Unlock()
		t.conn.Close()
		log.WithComponent("wsbroker").Info().Str("worker", t.workerName).Msg("tunnel closed")
	}()

	for {
		var env Envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			return
		}
		b.dispatch(t, env)
	}
}

func (b *Broker) dispatch(t *tunnel, env Envelope) {
	timer := metrics.NewTimer()
	endpoint := "unknown"
	switch env.MessageType {
	case transport.MessageServerRequest:
		endpoint = "serverrequest"
		b.handleServerRequest(t, env)
	case transport.MessageStatusUpdate:
		endpoint = "status"
		b.handleStatusUpdate(t, env)
	default:
		log.WithComponent("wsbroker").Warn().Str("message_type", env.MessageType).Msg("unrecognized message type, dropping")
	}
	timer.ObserveDurationVec(metrics.TransportRequestDuration, endpoint)
	metrics.TransportRequestsTotal.WithLabelValues(endpoint, "200").Inc()
}

func (b *Broker) handleServerRequest(t *tunnel, env Envelope) {
	var req serialize.Envelope
	if err := json.Unmarshal(env.Data, &req); err != nil {
		b.replyError(t, env.RequestID, fmt.Errorf("wsbroker: decode server request: %w", errs.ErrInvalidRequest))
		return
	}

	resp, err := b.handle.HandleServerRequest(req, t.workerName)
	if err != nil {
		b.replyError(t, env.RequestID, err)
		return
	}
	wire, err := transport.ToWire(b.blobs, resp, blobstore.Shared)
	if err != nil {
		b.replyError(t, env.RequestID, err)
		return
	}
	data, err := json.Marshal(wire)
	if err != nil {
		b.replyError(t, env.RequestID, fmt.Errorf("wsbroker: encode response: %w", err))
		return
	}
	if err := t.send(Envelope{MessageType: transport.MessageServerRequestResponse, RequestID: env.RequestID, Data: data}); err != nil {
		log.WithComponent("wsbroker").Error().Err(err).Str("worker", t.workerName).Msg("send response failed")
	}
}

func (b *Broker) handleStatusUpdate(t *tunnel, env Envelope) {
	var update types.StatusUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil {
		b.replyError(t, env.RequestID, fmt.Errorf("wsbroker: decode status update: %w", errs.ErrInvalidRequest))
		return
	}
	if update.NodeName == "" {
		update.NodeName = t.workerName
	}
	if update.Response != nil && len(update.Response.RemoteFiles) > 0 {
		local, err := transport.MaterializeAndDelete(b.blobs, update.Response.RemoteFiles, true)
		if err != nil {
			b.replyError(t, env.RequestID, err)
			return
		}
		update.Response.Files = local
		update.Response.RemoteFiles = nil
	}
	if err := b.handle.HandleStatusUpdate(update); err != nil {
		b.replyError(t, env.RequestID, err)
		return
	}
	if env.RequestID != "" {
		if err := t.send(Envelope{MessageType: transport.MessageServerRequestResponse, RequestID: env.RequestID}); err != nil {
			log.WithComponent("wsbroker").Error().Err(err).Str("worker", t.workerName).Msg("ack status update failed")
		}
	}
}

func (b *Broker) replyError(t *tunnel, requestID string, err error) {
	log.WithComponent("wsbroker").Debug().Err(err).Str("worker", t.workerName).Msg("request failed")
	if requestID == "" {
		return
	}
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	_ = t.send(Envelope{MessageType: transport.MessageServerRequestResponse, RequestID: requestID, Data: data})
}

// NewRequestID mints a fresh correlation ID for a client-side caller
// issuing a ServerRequest over this carrier (the worker-side symmetric
// helper; the server only ever echoes a request ID it was given).
func NewRequestID() string {
	return uuid.NewString()
}
