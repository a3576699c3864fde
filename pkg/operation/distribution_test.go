package operation

import (
	"context"
	"time"

	"testing"

	"github.com/lattice-fl/lattice/pkg/command"
	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/selector"
	"github.com/lattice-fl/lattice/pkg/topology"
	"github.com/lattice-fl/lattice/pkg/types"
	"github.com/lattice-fl/lattice/pkg/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type leafCommand struct {
	uuid     string
	datatype string
}

func (c *leafCommand) UUID() string           { return c.uuid }
func (c *leafCommand) SetUUID(id string)      { c.uuid = id }
func (c *leafCommand) Datatype() string       { return c.datatype }
func (c *leafCommand) Subcommands() []command.Command { return nil }
func (c *leafCommand) Execute(ctx context.Context, node command.NodeHandle) (*types.ExecutionResponse, error) {
	return &types.ExecutionResponse{ResponseType: "ok"}, nil
}

func buildTestTopology(t *testing.T, clients int) *topology.Topology {
	t.Helper()
	topo := topology.New(nil, time.Minute, time.Minute)
	require.NoError(t, topo.AddNode("server-1", types.NodeRoleServer))
	for i := 0; i < clients; i++ {
		name := clientName(i)
		require.NoError(t, topo.AddNode(name, types.NodeRoleClient))
		require.NoError(t, topo.SetOnline(name))
	}
	return topo
}

func clientName(i int) string {
	return string(rune('a' + i))
}

func TestClosedDistribution_Init_SelectsAndBuildsTable(t *testing.T) {
	topo := buildTestTopology(t, 3)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	dist := NewClosedDistribution(tree, selector.List{Names: []string{"a", "b"}}, nil, 0, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	assert.Equal(t, types.DistributionExecution, dist.Status())
	assert.ElementsMatch(t, []string{"a", "b"}, dist.table.SelectedWorkers())
	assert.True(t, dist.OwnsWorker("c"), "excluded workers still own a (nil) row")
	assert.False(t, dist.table.HasWorker("c"))
}

func TestClosedDistribution_Init_NoSelection_FinishesImmediately(t *testing.T) {
	topo := buildTestTopology(t, 0)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	dist := NewClosedDistribution(tree, selector.All{}, nil, 0, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	assert.Equal(t, types.DistributionCompleted, dist.Status())
}

func TestClosedDistribution_NextCommand_RespectsMaxActive(t *testing.T) {
	topo := buildTestTopology(t, 2)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	dist := NewClosedDistribution(tree, selector.All{}, nil, 1, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	cmd, ok := dist.NextCommand("a")
	require.True(t, ok)
	assert.NotNil(t, cmd)

	_, ok = dist.NextCommand("b")
	assert.False(t, ok, "maxActive=1 blocks a second concurrent dispatch")
}

func TestClosedDistribution_HandleStatusUpdate_FinishesWhenAllTerminal(t *testing.T) {
	topo := buildTestTopology(t, 1)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	finishCalled := false
	onFinish := func(topo *topology.Topology, resources *registry.Registry) []ProgramItem {
		finishCalled = true
		return nil
	}

	dist := NewClosedDistribution(tree, selector.All{}, nil, 0, nil, nil, onFinish)
	require.NoError(t, dist.Init(topo, resources))

	mainUUID := tree.UUID()
	update := types.StatusUpdate{NodeName: "a", CommandUUID: mainUUID, Status: types.StatusFinished}
	require.NoError(t, dist.HandleStatusUpdate(update, topo, resources))

	assert.Equal(t, types.DistributionCompleted, dist.Status())
	assert.True(t, finishCalled)
}

func TestClosedDistribution_HandleStatusUpdate_RejectsUnselectedWorker(t *testing.T) {
	topo := buildTestTopology(t, 2)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	dist := NewClosedDistribution(tree, selector.List{Names: []string{"a"}}, nil, 0, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	update := types.StatusUpdate{NodeName: "b", CommandUUID: tree.UUID(), Status: types.StatusFinished}
	err := dist.HandleStatusUpdate(update, topo, resources)
	assert.Error(t, err)
}

func TestClosedDistribution_HandleTopologyChange_OfflineExcludesWorker(t *testing.T) {
	topo := buildTestTopology(t, 2)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	dist := NewClosedDistribution(tree, selector.All{}, nil, 0, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	dist.HandleTopologyChange("a", false)
	assert.False(t, dist.table.HasWorker("a"))
	assert.True(t, dist.table.Contains("a"))

	dist.HandleTopologyChange("b", true)
	assert.True(t, dist.table.HasWorker("b"), "online edges are ignored for closed membership")
}

func TestOpenDistribution_Init_SelectsOnlineClients(t *testing.T) {
	topo := buildTestTopology(t, 2)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	dist := NewOpenDistribution(tree, nil, 0, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	assert.Equal(t, types.DistributionExecution, dist.Status())
	assert.ElementsMatch(t, []string{"a", "b"}, dist.table.SelectedWorkers())
}

func TestOpenDistribution_HandleTopologyChange_AddsAndRemovesWorkers(t *testing.T) {
	topo := buildTestTopology(t, 1)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	dist := NewOpenDistribution(tree, nil, 0, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	dist.HandleTopologyChange("z", true)
	assert.True(t, dist.table.HasWorker("z"))

	dist.HandleTopologyChange("z", false)
	assert.False(t, dist.table.Contains("z"), "offline workers are dropped entirely, not excluded")
}

func TestOpenDistribution_HandleStatusUpdate_NeverAutoFinishes(t *testing.T) {
	topo := buildTestTopology(t, 1)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	dist := NewOpenDistribution(tree, nil, 0, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	update := types.StatusUpdate{NodeName: "a", CommandUUID: tree.UUID(), Status: types.StatusFinished}
	require.NoError(t, dist.HandleStatusUpdate(update, topo, resources))
	assert.Equal(t, types.DistributionExecution, dist.Status())
}

func TestOpenDistribution_Stop_Finishes(t *testing.T) {
	topo := buildTestTopology(t, 1)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}

	dist := NewOpenDistribution(tree, nil, 0, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	dist.Stop(topo, resources)
	assert.Equal(t, types.DistributionCompleted, dist.Status())
}

func TestClosedDistribution_NotifiesWatcherPoolOnCommandFinished(t *testing.T) {
	topo := buildTestTopology(t, 1)
	resources := registry.New(nil)
	tree := &leafCommand{datatype: "leaf"}
	pool := watcher.NewPool()

	var notified []watcher.Notification
	pool.Add(&recordingWatcher{notifications: &notified})

	dist := NewClosedDistribution(tree, selector.All{}, pool, 0, nil, nil, nil)
	require.NoError(t, dist.Init(topo, resources))

	update := types.StatusUpdate{NodeName: "a", CommandUUID: tree.UUID(), Status: types.StatusFinished}
	require.NoError(t, dist.HandleStatusUpdate(update, topo, resources))

	require.Len(t, notified, 1)
	assert.Equal(t, watcher.CommandFinishedNotification, notified[0].Type)
}

type recordingWatcher struct {
	notifications *[]watcher.Notification
}

func (w *recordingWatcher) Name() string { return "recorder" }
func (w *recordingWatcher) NotificationsOfInterest() map[watcher.NotificationType]watcher.Handler {
	return nil
}
func (w *recordingWatcher) Fallback() watcher.Handler {
	return func(n watcher.Notification) { *w.notifications = append(*w.notifications, n) }
}
