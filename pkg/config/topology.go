package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lattice-fl/lattice/pkg/topology"
	"github.com/lattice-fl/lattice/pkg/types"
)

// TopologyFile is the YAML shape of the topology config file named in
// spec §6: a flat list of nodes, exactly one of which must be the
// server.
type TopologyFile struct {
	Nodes []TopologyNode `yaml:"nodes"`
}

// TopologyNode is one row of TopologyFile.
type TopologyNode struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"` // "server" or "client"
}

// LoadTopologyFile reads and parses a topology YAML file.
func LoadTopologyFile(path string) (TopologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TopologyFile{}, fmt.Errorf("config: read topology file %s: %w", path, err)
	}
	var f TopologyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return TopologyFile{}, fmt.Errorf("config: parse topology file %s: %w", path, err)
	}
	return f, nil
}

// ApplyTopologyFile registers every node in f into t via AddNode, then
// validates the exactly-one-server invariant.
func ApplyTopologyFile(t *topology.Topology, f TopologyFile) error {
	for _, n := range f.Nodes {
		role, err := parseNodeRole(n.Role)
		if err != nil {
			return fmt.Errorf("config: node %q: %w", n.Name, err)
		}
		if err := t.AddNode(n.Name, role); err != nil {
			return fmt.Errorf("config: add node %q: %w", n.Name, err)
		}
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("config: topology file: %w", err)
	}
	return nil
}

func parseNodeRole(s string) (types.NodeRole, error) {
	switch s {
	case string(types.NodeRoleServer):
		return types.NodeRoleServer, nil
	case string(types.NodeRoleClient):
		return types.NodeRoleClient, nil
	default:
		return "", fmt.Errorf("unknown node role %q (want %q or %q)", s, types.NodeRoleServer, types.NodeRoleClient)
	}
}
