package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/serialize"
	"github.com/lattice-fl/lattice/pkg/transport"
	"github.com/lattice-fl/lattice/pkg/types"
)

// HTTPCarrier is the client-side counterpart to transport/httpcarrier: a
// Carrier that authenticates once via /token and thereafter calls
// /serverrequest and /status with a bearer header. On a 401 it drops the
// cached token and returns ErrUnauthorized without retrying; the next call
// authenticates again. Grounded on the teacher's pkg/health.HTTPChecker (a plain
// context-scoped *http.Client.Do with a status-code check).
type HTTPCarrier struct {
	baseURL  string
	username string
	password string
	client   *http.Client

	mu    sync.Mutex
	token string
}

// NewHTTPCarrier builds an HTTPCarrier against baseURL, authenticating as
// username/password. A nil client gets a 30s-timeout default.
func NewHTTPCarrier(baseURL, username, password string, client *http.Client) *HTTPCarrier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPCarrier{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   client,
	}
}

// Authenticate returns a bearer token for this carrier's credentials,
// minting and caching one via /token if none is cached yet. Exposed so
// callers that need a bearer token up front (e.g. dialing WSCarrier,
// which authenticates once at connect time rather than per-request) can
// reuse the same username/password flow instead of duplicating it.
func (c *HTTPCarrier) Authenticate(ctx context.Context) (string, error) {
	return c.authenticate(ctx)
}

func (c *HTTPCarrier) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("worker: token request: %w", errs.ErrServerRequest)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("worker: token request: %w", errs.ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("worker: token request status %d: %w", resp.StatusCode, errs.ErrServerRequest)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("worker: decode token response: %w", err)
	}

	c.mu.Lock()
	c.token = body.AccessToken
	c.mu.Unlock()
	return body.AccessToken, nil
}

func (c *HTTPCarrier) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("worker: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker: %s %s: %w", method, path, errs.ErrServerRequest)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		resp.Body.Close()
		return nil, fmt.Errorf("worker: %s %s: %w", method, path, errs.ErrUnauthorized)
	}
	return resp, nil
}

// PullCommand implements Carrier by issuing a PullCommand server request
// and unwrapping the dispatched command envelope from its "command" data
// field, when the server had one to send.
func (c *HTTPCarrier) PullCommand(ctx context.Context, workerName string) (serialize.Envelope, bool, error) {
	env := serialize.Envelope{Datatype: "PullCommand", Data: json.RawMessage("{}")}
	resp, err := c.do(ctx, http.MethodPost, "/serverrequest", env)
	if err != nil {
		return serialize.Envelope{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return serialize.Envelope{}, false, fmt.Errorf("worker: pull command status %d: %w", resp.StatusCode, errs.ErrServerRequest)
	}

	var wire transport.WireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return serialize.Envelope{}, false, fmt.Errorf("worker: decode pull response: %w", err)
	}
	return extractCommand(wire)
}

// SendStatusUpdate implements Carrier.
func (c *HTTPCarrier) SendStatusUpdate(ctx context.Context, update types.StatusUpdate) error {
	resp, err := c.do(ctx, http.MethodPost, "/status", update)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker: status update status %d: %w", resp.StatusCode, errs.ErrServerRequest)
	}
	return nil
}

// extractCommand pulls the dispatched command envelope back out of a
// WireResponse's generic data map, re-marshaling the decoded any value
// rather than assuming a concrete type, since json.Decode into
// map[string]any loses the original RawMessage shape.
func extractCommand(wire transport.WireResponse) (serialize.Envelope, bool, error) {
	raw, ok := wire.Data["command"]
	if !ok {
		return serialize.Envelope{}, false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return serialize.Envelope{}, false, fmt.Errorf("worker: re-encode dispatched command: %w", err)
	}
	var cmdEnv serialize.Envelope
	if err := json.Unmarshal(data, &cmdEnv); err != nil {
		return serialize.Envelope{}, false, fmt.Errorf("worker: decode dispatched envelope: %w", err)
	}
	return cmdEnv, true, nil
}
