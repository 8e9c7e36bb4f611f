package checkpointer

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/distributed-checkpointer/common/configuration"
	"github.com/scusemua/distributed-checkpointer/common/distributed"
	"github.com/scusemua/distributed-checkpointer/common/training"
)

func newScheduleFixture(saveInterval string) *Checkpointer {
	opts := configuration.DefaultCheckpointerOptions()
	opts.SaveFolder = GinkgoT().TempDir()
	opts.SaveInterval = saveInterval

	c, err := New(opts, distributed.SingleProcess(), nil, nil)
	Expect(err).To(BeNil())
	return c
}

var _ = Describe("Last-batch detection", func() {
	It("Will recognize the direct case: elapsed fraction at or past 1.0", func() {
		c := newScheduleFixture("1ep")

		state := &training.State{
			Timestamp:     training.Timestamp{Batch: 100},
			MaxDuration:   &training.Time{Value: 100, Unit: training.Batch},
			DataloaderLen: -1,
		}
		Expect(c.isLastBatch(state)).To(BeTrue())

		state.Timestamp.Batch = 99
		Expect(c.isLastBatch(state)).To(BeFalse())
	})

	It("Will recognize a batch interval finishing the second-to-last epoch", func() {
		c := newScheduleFixture("500ba")

		state := &training.State{
			Timestamp:     training.Timestamp{Batch: 29, Epoch: 2, BatchInEpoch: 10},
			MaxDuration:   &training.Time{Value: 3, Unit: training.Epoch},
			DataloaderLen: 10,
		}
		Expect(c.isLastBatch(state)).To(BeTrue())

		state.Timestamp.BatchInEpoch = 9
		Expect(c.isLastBatch(state)).To(BeFalse())

		state.Timestamp = training.Timestamp{Batch: 19, Epoch: 1, BatchInEpoch: 10}
		Expect(c.isLastBatch(state)).To(BeFalse())
	})

	It("Will resolve a whole-duration interval against an epoch-denominated run", func() {
		c := newScheduleFixture("1dur")

		// 3 epochs of 10 steps: the run is 30 batches long.
		state := &training.State{
			MaxDuration:   &training.Time{Value: 3, Unit: training.Epoch},
			DataloaderLen: 10,
		}

		for batch := int64(1); batch < 30; batch++ {
			state.Timestamp = training.Timestamp{Batch: batch, Epoch: batch / 10, BatchInEpoch: batch % 10}
			Expect(c.isLastBatch(state)).To(BeFalse(), "batch %d is not the last batch", batch)
		}

		state.Timestamp = training.Timestamp{Batch: 30, Epoch: 2, BatchInEpoch: 10}
		Expect(c.isLastBatch(state)).To(BeTrue())
	})

	It("Will not resolve a whole-duration interval while the dataloader length is unknown", func() {
		c := newScheduleFixture("1dur")

		state := &training.State{
			Timestamp:     training.Timestamp{Batch: 30, Epoch: 2},
			MaxDuration:   &training.Time{Value: 3, Unit: training.Epoch},
			DataloaderLen: -1,
		}
		Expect(c.isLastBatch(state)).To(BeFalse())
	})
})
