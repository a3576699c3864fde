package command

import (
	"context"
	"testing"

	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCommand struct {
	uuid     string
	datatype string
	resp     *types.ExecutionResponse
	err      error
	subs     []Command
}

func (s *stubCommand) UUID() string          { return s.uuid }
func (s *stubCommand) SetUUID(id string)     { s.uuid = id }
func (s *stubCommand) Datatype() string      { return s.datatype }
func (s *stubCommand) Subcommands() []Command { return s.subs }
func (s *stubCommand) Execute(ctx context.Context, node NodeHandle) (*types.ExecutionResponse, error) {
	return s.resp, s.err
}

type stubHandle struct {
	name      string
	resources *registry.Registry
	updates   []types.StatusUpdate
}

func newStubHandle(name string) *stubHandle {
	return &stubHandle{name: name, resources: registry.New(nil)}
}

func (h *stubHandle) Name() string                   { return h.name }
func (h *stubHandle) Resources() *registry.Registry  { return h.resources }
func (h *stubHandle) SendStatusUpdate(u types.StatusUpdate) {
	h.updates = append(h.updates, u)
}

func TestInitTree_AssignsUUIDsRecursively(t *testing.T) {
	leaf1 := &stubCommand{datatype: "leaf"}
	leaf2 := &stubCommand{datatype: "leaf"}
	root := &stubCommand{datatype: "root", subs: []Command{leaf1, leaf2}}

	rootUUID := InitTree(root)
	assert.Equal(t, root.UUID(), rootUUID)
	assert.NotEmpty(t, root.UUID())
	assert.NotEmpty(t, leaf1.UUID())
	assert.NotEmpty(t, leaf2.UUID())
	assert.NotEqual(t, root.UUID(), leaf1.UUID())
	assert.NotEqual(t, leaf1.UUID(), leaf2.UUID())
}

func TestFlattenAndFind(t *testing.T) {
	leaf1 := &stubCommand{uuid: "l1", datatype: "leaf"}
	leaf2 := &stubCommand{uuid: "l2", datatype: "leaf"}
	root := &stubCommand{uuid: "root", subs: []Command{leaf1, leaf2}}

	flat := Flatten(root)
	require.Len(t, flat, 3)

	found, ok := Find(root, "l2")
	require.True(t, ok)
	assert.Equal(t, leaf2, found)

	_, ok = Find(root, "missing")
	assert.False(t, ok)
}

func TestRun_SendsStartedAndFinishedOnSuccess(t *testing.T) {
	cmd := &stubCommand{uuid: "c1", datatype: "leaf", resp: &types.ExecutionResponse{ResponseType: "ok"}}
	handle := newStubHandle("node-1")

	resp, err := Run(context.Background(), handle, cmd)
	require.NoError(t, err)
	assert.Equal(t, cmd.resp, resp)

	require.Len(t, handle.updates, 2)
	assert.Equal(t, types.StatusStarted, handle.updates[0].Status)
	assert.Equal(t, types.StatusFinished, handle.updates[1].Status)
	assert.Equal(t, resp, handle.updates[1].Response)
}

func TestRun_SendsFailedOnError(t *testing.T) {
	cmd := &stubCommand{uuid: "c1", datatype: "leaf", err: assert.AnError}
	handle := newStubHandle("node-1")

	_, err := Run(context.Background(), handle, cmd)
	require.Error(t, err)

	require.Len(t, handle.updates, 2)
	assert.Equal(t, types.StatusStarted, handle.updates[0].Status)
	assert.Equal(t, types.StatusFailed, handle.updates[1].Status)
	assert.NotEmpty(t, handle.updates[1].Error)
}

func TestSequence_RunsChildrenInOrderAndStopsOnError(t *testing.T) {
	var order []string
	first := &recordingCommand{uuid: "a", datatype: "a", order: &order}
	second := &recordingCommand{uuid: "b", datatype: "b", order: &order, err: assert.AnError}
	third := &recordingCommand{uuid: "c", datatype: "c", order: &order}

	seq := NewSequence(first, second, third)
	handle := newStubHandle("node-1")

	_, err := seq.Execute(context.Background(), handle)
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, order, "third command must not run after second fails")
}

func TestSequence_Append(t *testing.T) {
	a := &stubCommand{uuid: "a", datatype: "a"}
	b := &stubCommand{uuid: "b", datatype: "b"}
	seq := NewSequence(a).Append(b)
	assert.Equal(t, []Command{a, b}, seq.Commands)
}

func TestConditional_ExecutesWhenResolvedTrue(t *testing.T) {
	then := &stubCommand{uuid: "then", datatype: "then", resp: &types.ExecutionResponse{ResponseType: "done"}}
	cond := NewConditional(then, fixedCondition{result: true})
	handle := newStubHandle("node-1")
	require.NoError(t, handle.resources.Set("key", "value", false))

	resp, err := cond.Execute(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, then.resp, resp)
	assert.Len(t, handle.updates, 2, "Conditional.Execute runs Then through Run, which reports Started and Finished")
}

func TestConditional_ExcludesWhenResolvedFalse(t *testing.T) {
	then := &stubCommand{uuid: "then", datatype: "then"}
	cond := NewConditional(then, fixedCondition{result: false})
	handle := newStubHandle("node-1")

	resp, err := cond.Execute(context.Background(), handle)
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.Len(t, handle.updates, 1)
	assert.Equal(t, types.StatusExcluded, handle.updates[0].Status)
}

func TestRepeatN_BuildsNCopies(t *testing.T) {
	n := 0
	seq, err := RepeatN(3, func() Command {
		n++
		return &stubCommand{datatype: "rep"}
	})
	require.NoError(t, err)
	assert.Len(t, seq.Commands, 3)
	assert.Equal(t, 3, n)

	_, err = RepeatN(0, func() Command { return &stubCommand{} })
	assert.Error(t, err)
}

func TestHasResourceCondition(t *testing.T) {
	r := registry.New(nil)
	cond := HasResourceCondition{Name: "model"}
	assert.False(t, cond.Resolved(r))

	require.NoError(t, r.Set("model", []byte{1, 2, 3}, false))
	assert.True(t, cond.Resolved(r))
}

type recordingCommand struct {
	uuid     string
	datatype string
	order    *[]string
	err      error
}

func (r *recordingCommand) UUID() string          { return r.uuid }
func (r *recordingCommand) SetUUID(id string)     { r.uuid = id }
func (r *recordingCommand) Datatype() string      { return r.datatype }
func (r *recordingCommand) Subcommands() []Command { return nil }
func (r *recordingCommand) Execute(ctx context.Context, node NodeHandle) (*types.ExecutionResponse, error) {
	*r.order = append(*r.order, r.uuid)
	return nil, r.err
}

type fixedCondition struct{ result bool }

func (f fixedCondition) Resolved(*registry.Registry) bool { return f.result }
