package transport_test

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-fl/lattice/pkg/blobstore"
	"github.com/lattice-fl/lattice/pkg/transport"
	"github.com/lattice-fl/lattice/pkg/types"
)

func openTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.Open(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSecurityHeaders_SetsHardeningHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	transport.SecurityHeaders(w.Header())

	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "frame-ancestors 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestExternalizeFiles_EmptyIsNil(t *testing.T) {
	out, err := transport.ExternalizeFiles(openTestStore(t), nil, blobstore.Shared)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestExternalizeFiles_UploadsEachEntry(t *testing.T) {
	store := openTestStore(t)
	files := types.LocalFiles{"weights.bin": []byte("abc")}

	remote, err := transport.ExternalizeFiles(store, files, blobstore.Shared)
	require.NoError(t, err)
	require.Contains(t, remote, "weights.bin")

	data, err := store.Get(remote["weights.bin"], false)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestMaterializeAndDelete_FetchesAndRemovesBlob(t *testing.T) {
	store := openTestStore(t)
	id, err := store.Put([]byte("xyz"), blobstore.Shared)
	require.NoError(t, err)

	local, err := transport.MaterializeAndDelete(store, types.RemoteFiles{"f": id}, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("xyz"), local["f"])

	_, err = store.Get(id, false)
	assert.Error(t, err, "blob must be gone after MaterializeAndDelete")
}

func TestMaterializeAndDelete_UnknownBlobErrors(t *testing.T) {
	store := openTestStore(t)
	_, err := transport.MaterializeAndDelete(store, types.RemoteFiles{"f": "ghost"}, false)
	assert.Error(t, err)
}

func TestToWire_NilResponseIsZeroValue(t *testing.T) {
	out, err := transport.ToWire(openTestStore(t), nil, blobstore.Shared)
	require.NoError(t, err)
	assert.Equal(t, transport.WireResponse{}, out)
}

func TestToWire_ExternalizesFilesAndFlattensFields(t *testing.T) {
	store := openTestStore(t)
	resp := &types.ExecutionResponse{
		ResponseType: "train-result",
		Data:         map[string]any{"loss": 0.1},
		Files:        types.LocalFiles{"ckpt.bin": []byte("data")},
	}

	wire, err := transport.ToWire(store, resp, blobstore.ServerOnly)
	require.NoError(t, err)
	assert.Equal(t, "train-result", wire.ResponseType)
	assert.Equal(t, 0.1, wire.Data["loss"])
	require.Contains(t, wire.Files, "ckpt.bin")

	fetched, err := store.Get(wire.Files["ckpt.bin"], true)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), fetched)
}
