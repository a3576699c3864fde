package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-fl/lattice/pkg/config"
	"github.com/lattice-fl/lattice/pkg/topology"
	"github.com/lattice-fl/lattice/pkg/types"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestApplyTopologyFile_RegistersNodesAndValidates(t *testing.T) {
	path := writeTempFile(t, `
nodes:
  - name: server-1
    role: server
  - name: client-1
    role: client
  - name: client-2
    role: client
`)

	f, err := config.LoadTopologyFile(path)
	require.NoError(t, err)
	require.Len(t, f.Nodes, 3)

	topo := topology.New(nil, time.Minute, time.Minute)
	require.NoError(t, config.ApplyTopologyFile(topo, f))

	assert.Equal(t, 2, topo.NumClients())
	node, ok := topo.Node("server-1")
	require.True(t, ok)
	assert.Equal(t, types.NodeRoleServer, node.Role)
}

func TestApplyTopologyFile_RejectsMissingServer(t *testing.T) {
	f := config.TopologyFile{Nodes: []config.TopologyNode{
		{Name: "client-1", Role: "client"},
	}}
	topo := topology.New(nil, time.Minute, time.Minute)
	err := config.ApplyTopologyFile(topo, f)
	assert.Error(t, err)
}

func TestApplyTopologyFile_RejectsUnknownRole(t *testing.T) {
	f := config.TopologyFile{Nodes: []config.TopologyNode{
		{Name: "node-1", Role: "coordinator"},
	}}
	topo := topology.New(nil, time.Minute, time.Minute)
	err := config.ApplyTopologyFile(topo, f)
	assert.Error(t, err)
}
