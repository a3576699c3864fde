package worker

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-fl/lattice/pkg/command"
	"github.com/lattice-fl/lattice/pkg/transport/wsbroker"
	"github.com/lattice-fl/lattice/pkg/types"
)

func dialTestWSCarrier(t *testing.T, httpSrv *httptest.Server, token string) *WSCarrier {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	carrier, err := DialWSCarrier(wsURL, token)
	require.NoError(t, err)
	t.Cleanup(func() { carrier.Close() })
	return carrier
}

func TestWSCarrier_PullCommandReturnsDispatchedEnvelope(t *testing.T) {
	env, err := command.Encode(&echoCommand{ID: "cmd-1"})
	require.NoError(t, err)

	handle := &carrierFakeHandle{dispatch: &env}
	authStore := newTestAuthStore(t)
	token, _, err := authStore.Authenticate("worker-a", "correct-horse")
	require.NoError(t, err)

	broker := wsbroker.NewBroker(handle, authStore, newTestBlobStore(t))
	httpSrv := httptest.NewServer(broker.Handler())
	defer httpSrv.Close()

	carrier := dialTestWSCarrier(t, httpSrv, token)

	got, ok, err := carrier.PullCommand(context.Background(), "worker-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env.Datatype, got.Datatype)
}

func TestWSCarrier_SendStatusUpdateReachesHandle(t *testing.T) {
	handle := &carrierFakeHandle{}
	authStore := newTestAuthStore(t)
	token, _, err := authStore.Authenticate("worker-a", "correct-horse")
	require.NoError(t, err)

	broker := wsbroker.NewBroker(handle, authStore, newTestBlobStore(t))
	httpSrv := httptest.NewServer(broker.Handler())
	defer httpSrv.Close()

	carrier := dialTestWSCarrier(t, httpSrv, token)

	err = carrier.SendStatusUpdate(context.Background(), types.StatusUpdate{
		CommandUUID: "cmd-1",
		Status:      types.StatusFinished,
		Datatype:    "Echo",
	})
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", handle.lastStatus.CommandUUID)
}

func TestLoop_EndToEndOverWSCarrier(t *testing.T) {
	env, err := command.Encode(&echoCommand{ID: "cmd-e2e"})
	require.NoError(t, err)

	handle := &carrierFakeHandle{dispatch: &env}
	authStore := newTestAuthStore(t)
	token, _, err := authStore.Authenticate("worker-a", "correct-horse")
	require.NoError(t, err)

	broker := wsbroker.NewBroker(handle, authStore, newTestBlobStore(t))
	httpSrv := httptest.NewServer(broker.Handler())
	defer httpSrv.Close()

	carrier := dialTestWSCarrier(t, httpSrv, token)
	loop := NewLoop(Config{Name: "worker-a", PingInterval: 10 * time.Millisecond}, carrier, newTestRegistry(), nil)

	loop.Start()
	defer loop.Stop()

	require.Eventually(t, func() bool {
		return handle.lastStatus.Status == types.StatusFinished
	}, time.Second, 5*time.Millisecond)
}
