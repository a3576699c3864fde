// Package transport defines the carrier-agnostic contract shared by
// transport/httpcarrier and transport/wsbroker: the three message kinds
// from spec §4.4 (ServerRequest, StatusUpdate, CommandDispatch — the
// last carried as PullCommand's response data rather than a kind of its
// own), the small server-side handle both carriers are constructed
// against (spec §9's guidance against cyclic back-references), and the
// blob-externalization helpers every carrier needs to turn
// ExecutionResponse.Files into on-wire blob IDs and back.
//
// Grounded on the teacher's pkg/health (HealthServer takes a narrow
// *manager.Manager handle, not the other way around) and pkg/ingress
// (header manipulation as free functions operating on *http.Request,
// not methods tangled into a god object).
package transport

import (
	"fmt"
	"net/http"

	"github.com/lattice-fl/lattice/pkg/auth"
	"github.com/lattice-fl/lattice/pkg/blobstore"
	"github.com/lattice-fl/lattice/pkg/serialize"
	"github.com/lattice-fl/lattice/pkg/types"
)

// Broker message_type values for the wsbroker carrier's envelope, per
// spec §4.4/§6's "Wire protocol — broker carrier" note.
const (
	MessageServerRequest         = "ServerRequest"
	MessageServerRequestResponse = "ServerRequestResponse"
	MessageStatusUpdate          = "StatusUpdate"
)

// ServerHandle is the narrow view of the OperationManager a carrier
// needs: handle one server-request envelope, or absorb one status
// update. A *operation.Manager satisfies this structurally; tests can
// supply a fake without pulling in the whole operation package.
type ServerHandle interface {
	HandleServerRequest(req serialize.Envelope, workerName string) (*types.ExecutionResponse, error)
	HandleStatusUpdate(update types.StatusUpdate) error
}

// Authenticator is the narrow view of auth.Store both the control-plane
// token endpoint and the storage-token endpoint authenticate against.
// Per DESIGN.md, /token and /storage-token share one Authenticator in
// this deployment: there is no separate blob-store credential table, so
// both endpoints mint from the same user store.
type Authenticator interface {
	Authenticate(username, password string) (token string, role auth.Role, err error)
	VerifyToken(token string) (username string, role auth.Role, err error)
}

// BlobStore is the narrow view of blobstore.Store a carrier needs to
// serve /file and to externalize/materialize ExecutionResponse files.
type BlobStore interface {
	Put(data []byte, vis blobstore.Visibility) (string, error)
	Get(id string, callerIsServer bool) ([]byte, error)
	GetAndDelete(id string, callerIsServer bool) ([]byte, error)
	Delete(id string) error
}

// SecurityHeaders sets the fixed set of hardening headers spec §6
// requires on every HTTP response, HTTP or websocket-upgrade alike.
func SecurityHeaders(h http.Header) {
	h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Permissions-Policy", "interest-cohort=()")
	h.Set("Content-Security-Policy", "frame-ancestors 'none'")
}

// ExternalizeFiles uploads every entry of files to store under vis and
// returns the resulting name -> blob ID map, the wire-ready
// RemoteFiles. Called on the way out (server -> worker command
// dispatch files, or a worker's ExecutionResponse on its way to the
// server) to turn raw bytes into blob references before JSON encoding.
func ExternalizeFiles(store BlobStore, files types.LocalFiles, vis blobstore.Visibility) (types.RemoteFiles, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := make(types.RemoteFiles, len(files))
	for name, data := range files {
		id, err := store.Put(data, vis)
		if err != nil {
			return nil, fmt.Errorf("transport: externalize file %q: %w", name, err)
		}
		out[name] = id
	}
	return out, nil
}

// MaterializeAndDelete fetches and eagerly deletes every blob referenced
// by files, returning the name -> bytes map. Used on a StatusUpdate's
// Response.RemoteFiles once it reaches the server: a blob unfetched
// within the run it belongs to is considered leaked, so the server
// consumes each one exactly once, here.
func MaterializeAndDelete(store BlobStore, files types.RemoteFiles, callerIsServer bool) (types.LocalFiles, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := make(types.LocalFiles, len(files))
	for name, id := range files {
		data, err := store.GetAndDelete(id, callerIsServer)
		if err != nil {
			return nil, fmt.Errorf("transport: materialize file %q (blob %s): %w", name, id, err)
		}
		out[name] = data
	}
	return out, nil
}

// WireResponse is the /serverrequest and CommandDispatch JSON shape from
// spec §6: {data?, files?: map<name, blob_id>, response_type?}.
type WireResponse struct {
	Data         map[string]any    `json:"data,omitempty"`
	Files        types.RemoteFiles `json:"files,omitempty"`
	ResponseType string            `json:"response_type,omitempty"`
}

// ToWire externalizes resp.Files (if any) and flattens resp into the
// on-wire shape.
func ToWire(store BlobStore, resp *types.ExecutionResponse, vis blobstore.Visibility) (WireResponse, error) {
	if resp == nil {
		return WireResponse{}, nil
	}
	remote, err := ExternalizeFiles(store, resp.Files, vis)
	if err != nil {
		return WireResponse{}, err
	}
	if remote == nil {
		remote = resp.RemoteFiles
	}
	return WireResponse{Data: resp.Data, Files: remote, ResponseType: resp.ResponseType}, nil
}
