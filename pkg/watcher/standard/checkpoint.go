package standard

import (
	"fmt"

	"github.com/lattice-fl/lattice/pkg/blobstore"
	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/watcher"
)

// CheckpointSaver reacts to NewBestModelNotification by copying
// model:<key>:__global__ to model:<key>:<key>_best_<split> in the
// resource registry and persisting the bytes via the blob store, per
// spec §4.6.
type CheckpointSaver struct {
	resources *registry.Registry
	blobs     *blobstore.Store
}

// NewCheckpointSaver builds a saver wired to a specific resource registry
// and blob store (typically the server's global registry and its
// __storage__ blob client).
func NewCheckpointSaver(resources *registry.Registry, blobs *blobstore.Store) *CheckpointSaver {
	return &CheckpointSaver{resources: resources, blobs: blobs}
}

func (c *CheckpointSaver) Name() string { return "checkpoint-saver" }

func (c *CheckpointSaver) NotificationsOfInterest() map[watcher.NotificationType]watcher.Handler {
	return map[watcher.NotificationType]watcher.Handler{
		watcher.NewBestModelNotification: c.onNewBest,
	}
}

func (c *CheckpointSaver) Fallback() watcher.Handler { return nil }

func (c *CheckpointSaver) onNewBest(n watcher.Notification) {
	p, ok := n.Payload.(NewBestPayload)
	if !ok {
		return
	}
	src := fmt.Sprintf("model:%s:__global__", p.Key)
	dst := fmt.Sprintf("model:%s:%s_best_%s", p.Key, p.Key, p.Split)
	if err := c.resources.Copy(src, dst); err != nil {
		return
	}
	v, err := c.resources.Get(dst, nil, false)
	if err != nil {
		return
	}
	data, ok := v.([]byte)
	if !ok || c.blobs == nil {
		return
	}
	_, _ = c.blobs.Put(data, blobstore.ServerOnly)
}
