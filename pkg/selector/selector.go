// Package selector implements the client-selection policies spec
// §4.2/§4.9 names: which online clients a Distribution's commands get
// sent to. It is grounded on
// original_source/theoden/operations/instructions/selection.py — the
// Selector/BinarySelector split collapses here into a single Selector
// interface (every selector in the source is in practice a
// BinarySelector; the multi-command Selector.selection base case is
// never used for anything but the Non-goal-scoped ML command families),
// with Selection building the per-client UUID map BinarySelector.selection
// used to build inline.
package selector

import (
	"math/rand"

	"github.com/lattice-fl/lattice/pkg/topology"
)

// Selector chooses which online clients a Distribution targets.
type Selector interface {
	SelectClients(topo *topology.Topology) []string
}

// Selection builds the full node-name -> selected-command-UUID map over
// every online client, mirroring original_source's
// BinarySelector.selection: selected clients map to cmdUUID, everyone
// else maps to nil (so the caller can emit an Excluded status for them).
func Selection(sel Selector, topo *topology.Topology, cmdUUID string) map[string]*string {
	selected := make(map[string]struct{})
	for _, name := range sel.SelectClients(topo) {
		selected[name] = struct{}{}
	}

	out := make(map[string]*string)
	for _, name := range topo.OnlineClients() {
		if _, ok := selected[name]; ok {
			uuid := cmdUUID
			out[name] = &uuid
		} else {
			out[name] = nil
		}
	}
	return out
}

// rng returns a seeded generator, or the shared package-level generator
// if seed is nil (original_source only reseeds the shared random module
// when a seed is given; math/rand's package-level functions play that
// role here).
func rng(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewSource(rand.Int63()))
	}
	return rand.New(rand.NewSource(*seed))
}

// All selects every online client.
type All struct{}

func (All) SelectClients(topo *topology.Topology) []string {
	return topo.OnlineClients()
}

// Percentage selects a random Percent of online clients (0-100).
type Percentage struct {
	Percent int
	Seed    *int64
}

func (p Percentage) SelectClients(topo *topology.Topology) []string {
	clients := topo.OnlineClients()
	rng(p.Seed).Shuffle(len(clients), func(i, j int) { clients[i], clients[j] = clients[j], clients[i] })
	n := len(clients) * p.Percent / 100
	return clients[:n]
}

// N selects Count random online clients.
type N struct {
	Count int
	Seed  *int64
}

func (s N) SelectClients(topo *topology.Topology) []string {
	clients := topo.OnlineClients()
	if s.Count >= len(clients) {
		return clients
	}
	r := rng(s.Seed)
	r.Shuffle(len(clients), func(i, j int) { clients[i], clients[j] = clients[j], clients[i] })
	return clients[:s.Count]
}

// Flag selects every online client carrying Flag.
type Flag struct {
	Flag string
}

func (f Flag) SelectClients(topo *topology.Topology) []string {
	var out []string
	for _, name := range topo.OnlineClients() {
		node, ok := topo.Node(name)
		if ok && node.HasFlag(f.Flag) {
			out = append(out, name)
		}
	}
	return out
}

// List selects the intersection of Names with the currently-online
// clients; offline or unknown names are silently ignored, mirroring
// original_source's ListSelector.
type List struct {
	Names []string
}

func (l List) SelectClients(topo *topology.Topology) []string {
	online := make(map[string]struct{})
	for _, name := range topo.OnlineClients() {
		online[name] = struct{}{}
	}
	var out []string
	for _, name := range l.Names {
		if _, ok := online[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// RandomNumber selects a random, non-empty random-sized subset of online
// clients.
type RandomNumber struct {
	Seed *int64
}

func (r RandomNumber) SelectClients(topo *topology.Topology) []string {
	clients := topo.OnlineClients()
	if len(clients) == 0 {
		return nil
	}
	gen := rng(r.Seed)
	n := gen.Intn(len(clients)) + 1
	gen.Shuffle(len(clients), func(i, j int) { clients[i], clients[j] = clients[j], clients[i] })
	return clients[:n]
}
