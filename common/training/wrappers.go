package training

import (
	"sort"

	"github.com/scusemua/distributed-checkpointer/common/distributed"
	"github.com/scusemua/distributed-checkpointer/model"
)

// TrainedModel is the capability query over whatever distributed wrapper the
// training loop has applied to the model. Implementations know how to locate
// the true underlying module and tokenizer and how to enumerate this rank's
// view of the parameters.
type TrainedModel interface {
	// Unwrap returns the true underlying model instance and its tokenizer.
	Unwrap() (model.Pretrained, *model.Tokenizer)

	// NamedParameters returns this rank's view of every parameter, in
	// deterministic (sorted) order.
	NamedParameters() []distributed.Parameter

	// UsingAdapter reports whether the underlying model is adapter (PEFT)
	// based.
	UsingAdapter() bool
}

// Plain is a model executing on a single device per rank with no distributed
// wrapping.
type Plain struct {
	Model     model.Pretrained
	Tokenizer *model.Tokenizer
}

func (p *Plain) Unwrap() (model.Pretrained, *model.Tokenizer) {
	return p.Model, p.Tokenizer
}

func (p *Plain) NamedParameters() []distributed.Parameter {
	return fullParameters(p.Model)
}

func (p *Plain) UsingAdapter() bool {
	return usingAdapter(p.Model)
}

// DDP wraps a model replicated across ranks: every rank holds a full copy of
// every parameter, so no gathering is required.
type DDP struct {
	Module *Plain
}

func (d *DDP) Unwrap() (model.Pretrained, *model.Tokenizer) {
	return d.Module.Unwrap()
}

func (d *DDP) NamedParameters() []distributed.Parameter {
	return d.Module.NamedParameters()
}

func (d *DDP) UsingAdapter() bool {
	return d.Module.UsingAdapter()
}

// FSDP wraps a fully-sharded model: each rank holds only its slice of every
// parameter, and reconstruction requires an all-gather per parameter.
type FSDP struct {
	Model     model.Pretrained
	Tokenizer *model.Tokenizer

	rank      int
	worldSize int
}

// NewFSDP builds the sharded view of a model for one rank of a group.
func NewFSDP(m model.Pretrained, tokenizer *model.Tokenizer, comm distributed.Communicator) *FSDP {
	return &FSDP{
		Model:     m,
		Tokenizer: tokenizer,
		rank:      comm.Rank(),
		worldSize: comm.WorldSize(),
	}
}

func (f *FSDP) Unwrap() (model.Pretrained, *model.Tokenizer) {
	return f.Model, f.Tokenizer
}

func (f *FSDP) NamedParameters() []distributed.Parameter {
	params := make([]distributed.Parameter, 0)
	for _, full := range fullParameters(f.Model) {
		shard, err := full.Local.Shard(f.rank, f.worldSize)
		if err != nil {
			// Tensors too small to slice across the group stay replicated.
			params = append(params, full)
			continue
		}
		params = append(params, distributed.Parameter{
			FQN:     full.FQN,
			Local:   shard,
			Sharded: true,
		})
	}
	return params
}

func (f *FSDP) UsingAdapter() bool {
	return usingAdapter(f.Model)
}

func fullParameters(m model.Pretrained) []distributed.Parameter {
	stateDict := m.StateDict()
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]distributed.Parameter, 0, len(names))
	for _, name := range names {
		params = append(params, distributed.Parameter{
			FQN:   name,
			Local: stateDict[name],
		})
	}
	return params
}

func usingAdapter(m model.Pretrained) bool {
	_, ok := m.(*model.AdapterModel)
	return ok
}
