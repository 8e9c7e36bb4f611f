package distributed

import (
	"context"
	"fmt"
	"sync"

	"github.com/scusemua/distributed-checkpointer/common/tensor"
)

type collectiveOp string

const (
	opAllGather collectiveOp = "all_gather"
	opAllReduce collectiveOp = "all_reduce_max"
	opBarrier   collectiveOp = "barrier"
)

// round is one in-flight collective operation. Every rank of the group
// contributes exactly once; the final arrival computes the result and
// releases the others.
type round struct {
	op            collectiveOp
	contributions []*tensor.Tensor
	maxInt        int
	arrived       int

	result *tensor.Tensor
	err    error
	done   chan struct{}
}

// Group is an in-process communicator group: a fixed number of ranks, each
// driven by its own goroutine, rendezvousing on shared rounds. It implements
// the same blocking collective contract as a multi-process runtime, which
// makes it suitable both for single-node runs and for exercising multi-rank
// behavior in tests.
type Group struct {
	worldSize int

	mu      sync.Mutex
	current *round
}

// NewGroup creates an in-process group with the given number of ranks.
func NewGroup(worldSize int) *Group {
	if worldSize <= 0 {
		panic(fmt.Sprintf("invalid world size %d", worldSize))
	}
	return &Group{worldSize: worldSize}
}

// Communicator returns the Communicator backed by this group for one rank.
func (g *Group) Communicator(rank int) Communicator {
	if rank < 0 || rank >= g.worldSize {
		panic(fmt.Sprintf("invalid rank %d for world size %d", rank, g.worldSize))
	}
	return &groupCommunicator{group: g, rank: rank}
}

// SingleProcess returns a Communicator for a world of exactly one rank.
// Its collectives complete immediately.
func SingleProcess() Communicator {
	return NewGroup(1).Communicator(0)
}

// rendezvous joins (or opens) the current round, applies this rank's
// contribution, and blocks until every rank has arrived. All ranks calling
// into the group must be executing the same collective; a mismatch is
// reported as an error on every participant.
func (g *Group) rendezvous(ctx context.Context, op collectiveOp, contribute func(*round)) (*round, error) {
	g.mu.Lock()
	if g.current == nil {
		g.current = &round{
			op:            op,
			contributions: make([]*tensor.Tensor, g.worldSize),
			done:          make(chan struct{}),
		}
	}
	r := g.current
	if r.op != op {
		r.err = fmt.Errorf("collective mismatch: group is executing %s, rank attempted %s", r.op, op)
	}
	contribute(r)

	r.arrived++
	full := r.arrived == g.worldSize
	if full {
		g.current = nil
	}
	g.mu.Unlock()

	if full {
		r.finalize()
		close(r.done)
	}

	select {
	case <-r.done:
		return r, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *round) finalize() {
	if r.err != nil {
		return
	}
	if r.op == opAllGather {
		r.result, r.err = tensor.Concat(r.contributions)
	}
}

type groupCommunicator struct {
	group *Group
	rank  int
}

func (c *groupCommunicator) Rank() int {
	return c.rank
}

func (c *groupCommunicator) WorldSize() int {
	return c.group.worldSize
}

func (c *groupCommunicator) AllGather(ctx context.Context, shard *tensor.Tensor) (*tensor.Tensor, error) {
	r, err := c.group.rendezvous(ctx, opAllGather, func(r *round) {
		r.contributions[c.rank] = shard
	})
	if err != nil {
		return nil, err
	}
	return r.result, nil
}

func (c *groupCommunicator) AllReduceMaxInt(ctx context.Context, value int) (int, error) {
	r, err := c.group.rendezvous(ctx, opAllReduce, func(r *round) {
		if value > r.maxInt {
			r.maxInt = value
		}
	})
	if err != nil {
		return 0, err
	}
	return r.maxInt, nil
}

func (c *groupCommunicator) Barrier(ctx context.Context) error {
	_, err := c.group.rendezvous(ctx, opBarrier, func(*round) {})
	return err
}
