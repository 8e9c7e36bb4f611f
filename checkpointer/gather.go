package checkpointer

import (
	"golang.org/x/net/context"

	"github.com/scusemua/distributed-checkpointer/common/tensor"
	"github.com/scusemua/distributed-checkpointer/common/training"
)

// gatherStateDict reconstructs the full state dict on the coordinator rank,
// cast to the configured checkpoint precision. Non-coordinator ranks
// participate in every collective but return an empty dict: reconstructed
// tensors are dropped there one parameter at a time, so no rank ever holds
// more than one full tensor beyond its own shards.
func (c *Checkpointer) gatherStateDict(ctx context.Context, state *training.State) (map[string]*tensor.Tensor, error) {
	coordinator := c.comm.Rank() == 0

	stateDict := make(map[string]*tensor.Tensor)
	for _, param := range state.Model.NamedParameters() {
		full := param.Local
		if param.Sharded {
			gathered, err := c.comm.AllGather(ctx, param.Local)
			if err != nil {
				return nil, err
			}
			if !coordinator {
				continue
			}
			full = gathered
		}

		if !coordinator {
			continue
		}

		cast, err := full.Cast(c.dtype)
		if err != nil {
			return nil, err
		}
		stateDict[param.FQN] = cast
	}

	return stateDict, nil
}
