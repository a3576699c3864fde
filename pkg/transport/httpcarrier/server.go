// Package httpcarrier implements the request/reply HTTP+TLS carrier
// from spec §4.4/§6: one endpoint per message kind, Go 1.22+
// http.ServeMux method-pattern routing (no router library appears
// anywhere in the retrieval pack — see DESIGN.md), bearer-token auth via
// pkg/auth, and blob upload/download via pkg/blobstore. Grounded on the
// teacher's pkg/api/health.go (mux-per-server, http.Server with explicit
// timeouts) and pkg/ingress/middleware.go (free functions operating on
// *http.Request/http.ResponseWriter rather than a god object).
package httpcarrier

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lattice-fl/lattice/pkg/auth"
	"github.com/lattice-fl/lattice/pkg/blobstore"
	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/log"
	"github.com/lattice-fl/lattice/pkg/metrics"
	"github.com/lattice-fl/lattice/pkg/serialize"
	"github.com/lattice-fl/lattice/pkg/transport"
	"github.com/lattice-fl/lattice/pkg/types"
)

// Server is the HTTP carrier. The zero value is not usable; construct
// with NewServer.
type Server struct {
	handle transport.ServerHandle
	tokens transport.Authenticator
	blobs  transport.BlobStore

	mux     *http.ServeMux
	httpSrv *http.Server
}

// NewServer builds a Server wired to handle, tokens, and blobs. TLS, if
// any, is supplied to Start via tlsConfig; a nil tlsConfig serves plain
// HTTP, for local development only.
func NewServer(handle transport.ServerHandle, tokens transport.Authenticator, blobs transport.BlobStore) *Server {
	s := &Server{handle: handle, tokens: tokens, blobs: blobs}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("POST /storage-token", s.handleToken)
	mux.HandleFunc("POST /serverrequest", s.withAuth(s.handleServerRequest))
	mux.HandleFunc("POST /status", s.withAuth(s.handleStatus))
	mux.HandleFunc("POST /file", s.withAuth(s.handleFileUpload))
	mux.HandleFunc("GET /file/{id}", s.withAuth(s.handleFileGet))
	mux.HandleFunc("DELETE /file/{id}", s.withAuth(s.handleFileDelete))
	s.mux = mux
	return s
}

// Handler returns the carrier's http.Handler for mounting on a caller-
// supplied server or test harness (e.g. httptest.NewServer), as an
// alternative to Start managing its own listener.
func (s *Server) Handler() http.Handler {
	return s.securityHeaders(s.instrument(s.mux))
}

// instrument records lattice_transport_requests_total and
// lattice_transport_request_duration_seconds for every request, labeled
// by a fixed endpoint name (not the raw path, which would give
// /file/{id} unbounded cardinality).
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := endpointLabel(r)
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDurationVec(metrics.TransportRequestDuration, endpoint)
		metrics.TransportRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func endpointLabel(r *http.Request) string {
	switch {
	case strings.HasPrefix(r.URL.Path, "/token"), strings.HasPrefix(r.URL.Path, "/storage-token"):
		return "token"
	case strings.HasPrefix(r.URL.Path, "/serverrequest"):
		return "serverrequest"
	case strings.HasPrefix(r.URL.Path, "/status"):
		return "status"
	case strings.HasPrefix(r.URL.Path, "/file"):
		return "file"
	default:
		return "unknown"
	}
}

// Start serves the carrier on addr, blocking until the server stops.
// tlsConfig nil means plain HTTP.
func (s *Server) Start(addr string, tlsConfig *tls.Config) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		TLSConfig:    tlsConfig,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.WithComponent("httpcarrier").Info().Str("addr", addr).Bool("tls", tlsConfig != nil).Msg("starting HTTP carrier")
	if tlsConfig != nil {
		return s.httpSrv.ListenAndServeTLS("", "")
	}
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts the carrier down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.SecurityHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

// withAuth requires a valid "Authorization: Bearer <token>" header and
// passes the resolved username/role through the request context.
func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, username string, role auth.Role)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeErr(w, fmt.Errorf("httpcarrier: missing bearer token: %w", errs.ErrUnauthorized))
			return
		}
		username, role, err := s.tokens.VerifyToken(strings.TrimPrefix(header, prefix))
		if err != nil {
			writeErr(w, err)
			return
		}
		next(w, r, username, role)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, fmt.Errorf("httpcarrier: parse form: %w", errs.ErrInvalidRequest))
		return
	}
	token, _, err := s.tokens.Authenticate(r.Form.Get("username"), r.Form.Get("password"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleServerRequest(w http.ResponseWriter, r *http.Request, username string, _ auth.Role) {
	var env serialize.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeErr(w, fmt.Errorf("httpcarrier: decode server request: %w", errs.ErrInvalidRequest))
		return
	}
	resp, err := s.handle.HandleServerRequest(env, username)
	if err != nil {
		writeErr(w, err)
		return
	}
	wire, err := transport.ToWire(s.blobs, resp, blobstore.Shared)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, username string, _ auth.Role) {
	var update types.StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeErr(w, fmt.Errorf("httpcarrier: decode status update: %w", errs.ErrInvalidRequest))
		return
	}
	if update.NodeName == "" {
		update.NodeName = username
	}
	if update.Response != nil && len(update.Response.RemoteFiles) > 0 {
		local, err := transport.MaterializeAndDelete(s.blobs, update.Response.RemoteFiles, true)
		if err != nil {
			writeErr(w, err)
			return
		}
		update.Response.Files = local
		update.Response.RemoteFiles = nil
	}
	if err := s.handle.HandleStatusUpdate(update); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request, _ string, role auth.Role) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, fmt.Errorf("httpcarrier: parse multipart form: %w", errs.ErrInvalidRequest))
		return
	}
	vis := blobstore.Shared
	if serverOnly, _ := strconv.ParseBool(r.FormValue("is_server_only")); serverOnly {
		if role != auth.RoleServer {
			writeErr(w, fmt.Errorf("httpcarrier: only server role may upload server-only blobs: %w", errs.ErrForbidden))
			return
		}
		vis = blobstore.ServerOnly
	}

	ids := make(map[string]string)
	for name, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeErr(w, fmt.Errorf("httpcarrier: open uploaded file %q: %w", name, errs.ErrInvalidRequest))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeErr(w, fmt.Errorf("httpcarrier: read uploaded file %q: %w", name, errs.ErrInvalidRequest))
				return
			}
			id, err := s.blobs.Put(data, vis)
			if err != nil {
				writeErr(w, err)
				return
			}
			ids[name] = id
		}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request, _ string, role auth.Role) {
	id := r.PathValue("id")
	data, err := s.blobs.Get(id, role == auth.RoleServer)
	if err != nil {
		// §6: a blob lookup that fails visibility is reported identically
		// to one that doesn't exist, so existence is never leaked to a
		// caller without access.
		if errors.Is(err, errs.ErrForbidden) || errors.Is(err, errs.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request, _ string, _ auth.Role) {
	id := r.PathValue("id")
	if err := s.blobs.Delete(id); err != nil {
		if errors.Is(err, errs.ErrForbidden) || errors.Is(err, errs.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithComponent("httpcarrier").Error().Err(err).Msg("encode response failed")
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	log.WithComponent("httpcarrier").Debug().Err(err).Int("status", status).Msg("request failed")
	http.Error(w, err.Error(), status)
}

// statusFor maps a wrapped errs sentinel to the §7 HTTP status table.
// /file/{id} overrides Forbidden/NotFound to 404 itself (see
// handleFileGet/handleFileDelete) before ever reaching here.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrRequestDenied), errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
