package tensor

import (
	"fmt"
)

// Shard returns the slice of the tensor held by the given rank when the tensor
// is split along its leading dimension across worldSize workers. Rows are
// distributed evenly; the final rank absorbs any remainder.
func (t *Tensor) Shard(rank int, worldSize int) (*Tensor, error) {
	if worldSize <= 0 || rank < 0 || rank >= worldSize {
		return nil, fmt.Errorf("invalid shard request: rank %d of world size %d", rank, worldSize)
	}
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("cannot shard scalar tensor")
	}
	if t.IsPlaceholder() {
		return nil, fmt.Errorf("cannot shard placeholder tensor of shape %v", t.Shape)
	}

	rows := t.Shape[0]
	rowsPerRank := rows / int64(worldSize)
	start := int64(rank) * rowsPerRank
	end := start + rowsPerRank
	if rank == worldSize-1 {
		end = rows
	}

	rowBytes := int64(t.DType.Size())
	for _, dim := range t.Shape[1:] {
		rowBytes *= dim
	}

	shard := &Tensor{
		Shape: append([]int64{end - start}, t.Shape[1:]...),
		DType: t.DType,
		Data:  append([]byte{}, t.Data[start*rowBytes:end*rowBytes]...),
	}
	return shard, nil
}

// Concat reassembles a full tensor from per-rank shards, in rank order.
// All shards must agree on dtype and trailing dimensions.
func Concat(shards []*Tensor) (*Tensor, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("cannot concatenate zero shards")
	}

	first := shards[0]
	totalRows := int64(0)
	totalBytes := 0
	for i, shard := range shards {
		if shard.DType != first.DType || len(shard.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("shard %d is incompatible with shard 0 (%s vs %s)", i, shard.String(), first.String())
		}
		for j := 1; j < len(first.Shape); j++ {
			if shard.Shape[j] != first.Shape[j] {
				return nil, fmt.Errorf("shard %d has mismatched trailing dimensions (%v vs %v)", i, shard.Shape, first.Shape)
			}
		}
		totalRows += shard.Shape[0]
		totalBytes += len(shard.Data)
	}

	data := make([]byte, 0, totalBytes)
	for _, shard := range shards {
		data = append(data, shard.Data...)
	}

	return &Tensor{
		Shape: append([]int64{totalRows}, first.Shape[1:]...),
		DType: first.DType,
		Data:  data,
	}, nil
}
