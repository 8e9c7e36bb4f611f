package distributed

import (
	"context"

	"github.com/scusemua/distributed-checkpointer/common/tensor"
)

// Parameter is one named model weight as seen by a single rank. When Sharded
// is true, Local holds only this rank's slice of the full tensor and an
// all-gather is required to reconstruct it.
type Parameter struct {
	FQN     string
	Local   *tensor.Tensor
	Sharded bool
}

// Communicator exposes the collective operations the checkpointer requires
// from the distributed runtime. Every collective blocks until all ranks of
// the group have called it; a stalled rank stalls the whole group. There is
// no partial-quorum fallback.
type Communicator interface {
	// Rank returns this worker's index within the group.
	Rank() int

	// WorldSize returns the fixed number of workers in the group.
	WorldSize() int

	// AllGather reconstructs a full tensor from the per-rank shards, sliced
	// along the leading dimension in rank order. Every rank receives the
	// full tensor.
	AllGather(ctx context.Context, shard *tensor.Tensor) (*tensor.Tensor, error)

	// AllReduceMaxInt returns the maximum of every rank's contributed value.
	AllReduceMaxInt(ctx context.Context, value int) (int, error)

	// Barrier blocks until every rank has reached it.
	Barrier(ctx context.Context) error
}
