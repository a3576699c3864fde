package httpcarrier

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/lattice-fl/lattice/pkg/auth"
	"github.com/lattice-fl/lattice/pkg/blobstore"
	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/serialize"
	"github.com/lattice-fl/lattice/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	resp          *types.ExecutionResponse
	respErr       error
	statusUpdate  types.StatusUpdate
	statusErr     error
}

func (h *fakeHandle) HandleServerRequest(req serialize.Envelope, workerName string) (*types.ExecutionResponse, error) {
	return h.resp, h.respErr
}

func (h *fakeHandle) HandleStatusUpdate(update types.StatusUpdate) error {
	h.statusUpdate = update
	return h.statusErr
}

type fakeTokens struct {
	mintedToken string
	mintedRole  auth.Role
	mintErr     error

	verifyUser string
	verifyRole auth.Role
	verifyErr  error
}

func (f *fakeTokens) Authenticate(username, password string) (string, auth.Role, error) {
	return f.mintedToken, f.mintedRole, f.mintErr
}

func (f *fakeTokens) VerifyToken(token string) (string, auth.Role, error) {
	return f.verifyUser, f.verifyRole, f.verifyErr
}

type fakeBlobs struct {
	store map[string][]byte
	vis   map[string]blobstore.Visibility
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{store: make(map[string][]byte), vis: make(map[string]blobstore.Visibility)}
}

func (b *fakeBlobs) Put(data []byte, vis blobstore.Visibility) (string, error) {
	id := fmt.Sprintf("blob-%d", len(b.store))
	b.store[id] = data
	b.vis[id] = vis
	return id, nil
}

func (b *fakeBlobs) Get(id string, callerIsServer bool) ([]byte, error) {
	data, ok := b.store[id]
	if !ok {
		return nil, fmt.Errorf("fakeBlobs: %w", errs.ErrNotFound)
	}
	if b.vis[id] == blobstore.ServerOnly && !callerIsServer {
		return nil, fmt.Errorf("fakeBlobs: %w", errs.ErrForbidden)
	}
	return data, nil
}

func (b *fakeBlobs) GetAndDelete(id string, callerIsServer bool) ([]byte, error) {
	data, err := b.Get(id, callerIsServer)
	if err != nil {
		return nil, err
	}
	delete(b.store, id)
	return data, nil
}

func (b *fakeBlobs) Delete(id string) error {
	delete(b.store, id)
	return nil
}

func TestHandleToken_Success(t *testing.T) {
	tokens := &fakeTokens{mintedToken: "tok-123", mintedRole: auth.RoleClient}
	s := NewServer(&fakeHandle{}, tokens, newFakeBlobs())

	form := url.Values{"username": {"alice"}, "password": {"hunter2"}}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "tok-123", body["access_token"])
	assert.Equal(t, "bearer", body["token_type"])
}

func TestHandleToken_BadCredentials(t *testing.T) {
	tokens := &fakeTokens{mintErr: fmt.Errorf("auth: %w", errs.ErrUnauthorized)}
	s := NewServer(&fakeHandle{}, tokens, newFakeBlobs())

	form := url.Values{"username": {"alice"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleServerRequest_MissingBearer(t *testing.T) {
	s := NewServer(&fakeHandle{}, &fakeTokens{}, newFakeBlobs())

	req := httptest.NewRequest(http.MethodPost, "/serverrequest", strings.NewReader(`{"datatype":"PullCommand"}`))
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleServerRequest_ReturnsWireResponse(t *testing.T) {
	handle := &fakeHandle{resp: &types.ExecutionResponse{ResponseType: "command_dispatch", Data: map[string]any{"x": "y"}}}
	tokens := &fakeTokens{verifyUser: "worker-a", verifyRole: auth.RoleClient}
	s := NewServer(handle, tokens, newFakeBlobs())

	req := httptest.NewRequest(http.MethodPost, "/serverrequest", strings.NewReader(`{"datatype":"PullCommand"}`))
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var wire map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&wire))
	assert.Equal(t, "command_dispatch", wire["response_type"])
}

func TestHandleServerRequest_ExternalizesResponseFiles(t *testing.T) {
	handle := &fakeHandle{resp: &types.ExecutionResponse{Files: types.LocalFiles{"weights.bin": []byte("abc")}}}
	tokens := &fakeTokens{verifyUser: "worker-a", verifyRole: auth.RoleClient}
	blobs := newFakeBlobs()
	s := NewServer(handle, tokens, blobs)

	req := httptest.NewRequest(http.MethodPost, "/serverrequest", strings.NewReader(`{"datatype":"PullCommand"}`))
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var wire map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&wire))
	files, ok := wire["files"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, files, "weights.bin")
	assert.Len(t, blobs.store, 1)
}

func TestHandleStatus_MaterializesAndDeletesResponseFiles(t *testing.T) {
	blobs := newFakeBlobs()
	id, err := blobs.Put([]byte("checkpoint-bytes"), blobstore.Shared)
	require.NoError(t, err)

	handle := &fakeHandle{}
	tokens := &fakeTokens{verifyUser: "worker-a", verifyRole: auth.RoleClient}
	s := NewServer(handle, tokens, blobs)

	body := fmt.Sprintf(`{"command_uuid":"c1","status_code":"FINISHED","datatype":"leaf","response":{"files":{"ckpt":%q}}}`, id)
	req := httptest.NewRequest(http.MethodPost, "/status", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, handle.statusUpdate.Response)
	assert.Equal(t, []byte("checkpoint-bytes"), handle.statusUpdate.Response.Files["ckpt"])
	assert.Empty(t, blobs.store, "blob must be deleted once consumed by the status update")
}

func TestHandleFileUpload_ServerOnlyRequiresServerRole(t *testing.T) {
	tokens := &fakeTokens{verifyUser: "worker-a", verifyRole: auth.RoleClient}
	s := NewServer(&fakeHandle{}, tokens, newFakeBlobs())

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("data.bin", "data.bin")
	require.NoError(t, err)
	_, err = part.Write([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("is_server_only", "true"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/file", strings.NewReader(buf.String()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleFileUpload_ThenGet_RoundTrips(t *testing.T) {
	tokens := &fakeTokens{verifyUser: "worker-a", verifyRole: auth.RoleClient}
	blobs := newFakeBlobs()
	s := NewServer(&fakeHandle{}, tokens, blobs)

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("data.bin", "data.bin")
	require.NoError(t, err)
	_, err = part.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	uploadReq := httptest.NewRequest(http.MethodPost, "/file", strings.NewReader(buf.String()))
	uploadReq.Header.Set("Content-Type", mw.FormDataContentType())
	uploadReq.Header.Set("Authorization", "Bearer anything")
	uploadW := httptest.NewRecorder()
	s.mux.ServeHTTP(uploadW, uploadReq)
	require.Equal(t, http.StatusOK, uploadW.Code)

	var ids map[string]string
	require.NoError(t, json.NewDecoder(uploadW.Body).Decode(&ids))
	id := ids["data.bin"]
	require.NotEmpty(t, id)

	getReq := httptest.NewRequest(http.MethodGet, "/file/"+id, nil)
	getReq.Header.Set("Authorization", "Bearer anything")
	getW := httptest.NewRecorder()
	s.mux.ServeHTTP(getW, getReq)

	require.Equal(t, http.StatusOK, getW.Code)
	assert.Equal(t, "payload", getW.Body.String())
}

func TestHandleFileGet_UnknownIDReturns404(t *testing.T) {
	tokens := &fakeTokens{verifyUser: "worker-a", verifyRole: auth.RoleClient}
	s := NewServer(&fakeHandle{}, tokens, newFakeBlobs())

	req := httptest.NewRequest(http.MethodGet, "/file/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleFileDelete_RemovesBlob(t *testing.T) {
	tokens := &fakeTokens{verifyUser: "worker-a", verifyRole: auth.RoleClient}
	blobs := newFakeBlobs()
	id, err := blobs.Put([]byte("bytes"), blobstore.Shared)
	require.NoError(t, err)
	s := NewServer(&fakeHandle{}, tokens, blobs)

	req := httptest.NewRequest(http.MethodDelete, "/file/"+id, nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, blobs.store)
}

func TestSecurityHeaders_PresentOnEveryResponse(t *testing.T) {
	s := NewServer(&fakeHandle{}, &fakeTokens{}, newFakeBlobs())
	handler := s.securityHeaders(s.mux)

	req := httptest.NewRequest(http.MethodPost, "/serverrequest", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "frame-ancestors 'none'", w.Header().Get("Content-Security-Policy"))
}
