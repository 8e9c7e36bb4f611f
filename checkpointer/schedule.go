package checkpointer

import (
	"math"

	"github.com/scusemua/distributed-checkpointer/common/training"
)

// isLastBatch reports whether the current batch is the final one of the run,
// which is when the checkpoint is additionally registered. Beyond the direct
// elapsed-fraction test, two indirect cases are recognized so registration is
// not silently skipped when the interval and the max duration are denominated
// in different units:
//
//  1. a batch-denominated interval landing on the last batch of the
//     second-to-last epoch, and
//  2. a whole-duration interval under an epoch-denominated max duration,
//     which resolves to the batch count of the full run.
func (c *Checkpointer) isLastBatch(state *training.State) bool {
	if elapsed := state.ElapsedDuration(); elapsed != nil && *elapsed >= 1.0 {
		return true
	}

	if state.MaxDuration == nil {
		return false
	}

	if c.saveInterval.Unit == training.Batch && state.MaxDuration.Unit == training.Epoch {
		secondToLastEpoch := state.Timestamp.Epoch == int64(state.MaxDuration.Value)-1
		epochComplete := state.DataloaderLen >= 0 && state.Timestamp.BatchInEpoch == state.DataloaderLen
		if secondToLastEpoch && epochComplete {
			return true
		}
	}

	if c.saveInterval.Unit == training.Duration && c.saveInterval.Value == 1 &&
		state.MaxDuration.Unit == training.Epoch {
		if state.DataloaderLen < 0 {
			return false
		}
		totalBatches := int64(math.Ceil(state.MaxDuration.Value * float64(state.DataloaderLen)))
		if totalBatches > 0 && state.Timestamp.Batch%totalBatches == 0 {
			return true
		}
	}

	return false
}
