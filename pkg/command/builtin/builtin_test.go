package builtin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-fl/lattice/pkg/command"
	"github.com/lattice-fl/lattice/pkg/command/builtin"
	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/types"
)

type stubHandle struct {
	name      string
	resources *registry.Registry
	updates   []types.StatusUpdate
}

func newStubHandle(name string) *stubHandle {
	return &stubHandle{name: name, resources: registry.New(nil)}
}

func (h *stubHandle) Name() string                  { return h.name }
func (h *stubHandle) Resources() *registry.Registry { return h.resources }
func (h *stubHandle) SendStatusUpdate(u types.StatusUpdate) {
	h.updates = append(h.updates, u)
}

func TestRegister_WiresAllFourDatatypes(t *testing.T) {
	reg := command.NewRegistry()
	builtin.Register(reg)

	for _, dt := range []string{"Print", "Sleep", "SetResource", "CollectMetric"} {
		assert.True(t, reg.Has(dt), "expected %s to be registered", dt)
	}
}

func TestPrint_ReportsResourceKeys(t *testing.T) {
	node := newStubHandle("worker-1")
	require.NoError(t, node.Resources().Set("device", "cuda:0", false))

	p := &builtin.Print{}
	resp, err := p.Execute(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, []string{"device"}, resp.Data["keys"])
}

func TestSleep_ReturnsAfterDuration(t *testing.T) {
	s := &builtin.Sleep{Duration: time.Millisecond}
	_, err := s.Execute(context.Background(), newStubHandle("w"))
	assert.NoError(t, err)
}

func TestSleep_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &builtin.Sleep{Duration: time.Hour}
	_, err := s.Execute(ctx, newStubHandle("w"))
	assert.Error(t, err)
}

func TestSetResource_WritesIntoNodeResources(t *testing.T) {
	node := newStubHandle("w")
	s := &builtin.SetResource{Key: "lr", Resource: 0.01, Overwrite: false}

	_, err := s.Execute(context.Background(), node)
	require.NoError(t, err)

	v, err := node.Resources().Get("lr", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0.01, v)
}

func TestSetResource_ConflictWithoutOverwrite(t *testing.T) {
	node := newStubHandle("w")
	require.NoError(t, node.Resources().Set("lr", 0.01, false))

	s := &builtin.SetResource{Key: "lr", Resource: 0.02, Overwrite: false}
	_, err := s.Execute(context.Background(), node)
	assert.Error(t, err)
}

func TestCollectMetric_ReadsNumericResourceIntoResponse(t *testing.T) {
	node := newStubHandle("w")
	require.NoError(t, node.Resources().Set("acc", 0.93, false))

	c := &builtin.CollectMetric{ResourceKey: "acc", MetricType: "acc", Round: 2, Epoch: 1}
	resp, err := c.Execute(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, "metric", resp.ResponseType)
	assert.Equal(t, 0.93, resp.Data["value"])
	assert.Equal(t, 2, resp.Data["round"])
}

func TestCollectMetric_NonNumericResourceErrors(t *testing.T) {
	node := newStubHandle("w")
	require.NoError(t, node.Resources().Set("acc", "not-a-number", false))

	c := &builtin.CollectMetric{ResourceKey: "acc", MetricType: "acc"}
	_, err := c.Execute(context.Background(), node)
	assert.Error(t, err)
}

func TestCollectMetric_MissingResourceErrors(t *testing.T) {
	c := &builtin.CollectMetric{ResourceKey: "missing", MetricType: "acc"}
	_, err := c.Execute(context.Background(), newStubHandle("w"))
	assert.Error(t, err)
}
