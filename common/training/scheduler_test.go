package training_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/distributed-checkpointer/common/training"
)

func batchState(batch int64, maxBatches float64) *training.State {
	return &training.State{
		RunName:       "test-run",
		Timestamp:     training.Timestamp{Batch: batch},
		MaxDuration:   &training.Time{Value: maxBatches, Unit: training.Batch},
		DataloaderLen: -1,
	}
}

var _ = Describe("IntervalScheduler", func() {
	It("Will fire on every multiple of a batch-denominated interval and nowhere else", func() {
		scheduler := training.NewIntervalScheduler(training.Time{Value: 5, Unit: training.Batch}, false)

		fired := make([]int64, 0)
		for batch := int64(0); batch <= 23; batch++ {
			if scheduler.Check(batchState(batch, 100), training.EventBatchCheckpoint) {
				fired = append(fired, batch)
			}
		}
		Expect(fired).To(Equal([]int64{5, 10, 15, 20}))
	})

	It("Will never fire while the elapsed duration is unknown", func() {
		scheduler := training.NewIntervalScheduler(training.Time{Value: 1, Unit: training.Batch}, true)

		state := batchState(10, 100)
		state.MaxDuration = nil
		Expect(scheduler.Check(state, training.EventBatchCheckpoint)).To(BeFalse())
	})

	It("Will fire on epoch boundaries for an epoch-denominated interval", func() {
		scheduler := training.NewIntervalScheduler(training.Time{Value: 2, Unit: training.Epoch}, false)

		state := &training.State{
			MaxDuration:   &training.Time{Value: 10, Unit: training.Epoch},
			DataloaderLen: -1,
		}

		state.Timestamp = training.Timestamp{Epoch: 0}
		Expect(scheduler.Check(state, training.EventEpochCheckpoint)).To(BeFalse())

		state.Timestamp = training.Timestamp{Epoch: 2}
		Expect(scheduler.Check(state, training.EventEpochCheckpoint)).To(BeTrue())
		Expect(scheduler.Check(state, training.EventBatchCheckpoint)).To(BeFalse())

		state.Timestamp = training.Timestamp{Epoch: 3}
		Expect(scheduler.Check(state, training.EventEpochCheckpoint)).To(BeFalse())
	})

	It("Will fire exactly once per crossed token threshold", func() {
		scheduler := training.NewIntervalScheduler(training.Time{Value: 1000, Unit: training.Token}, false)

		state := &training.State{
			MaxDuration:   &training.Time{Value: 100000, Unit: training.Token},
			DataloaderLen: -1,
		}

		fired := 0
		for _, tokens := range []int64{100, 700, 999, 1001, 1400, 1900, 2100} {
			state.Timestamp = training.Timestamp{Token: tokens}
			if scheduler.Check(state, training.EventBatchCheckpoint) {
				fired++
			}
		}
		// Thresholds crossed at 1001 (1000) and 2100 (2000).
		Expect(fired).To(Equal(2))
	})

	It("Will fire at the end of training when configured to", func() {
		scheduler := training.NewIntervalScheduler(training.Time{Value: 7, Unit: training.Batch}, true)

		Expect(scheduler.Check(batchState(100, 100), training.EventBatchCheckpoint)).To(BeTrue())
	})
})

var _ = Describe("Time", func() {
	It("Will parse unit-suffixed time strings", func() {
		parsed, err := training.ParseTime("500ba")
		Expect(err).To(BeNil())
		Expect(parsed).To(Equal(training.Time{Value: 500, Unit: training.Batch}))

		parsed, err = training.ParseTime("1dur")
		Expect(err).To(BeNil())
		Expect(parsed).To(Equal(training.Time{Value: 1, Unit: training.Duration}))

		_, err = training.ParseTime("12parsecs")
		Expect(err).ToNot(BeNil())
	})

	It("Will interpret bare numbers in the default unit", func() {
		parsed, err := training.TimeFromInput(3, training.Epoch)
		Expect(err).To(BeNil())
		Expect(parsed).To(Equal(training.Time{Value: 3, Unit: training.Epoch}))
	})
})

var _ = Describe("State", func() {
	It("Will report the elapsed fraction in the max duration's unit", func() {
		state := batchState(25, 100)
		elapsed := state.ElapsedDuration()
		Expect(elapsed).ToNot(BeNil())
		Expect(*elapsed).To(Equal(0.25))
	})

	It("Will report nil elapsed before the max duration is known", func() {
		state := batchState(25, 100)
		state.MaxDuration = nil
		Expect(state.ElapsedDuration()).To(BeNil())
	})

	It("Will substitute run-time tokens into folder templates", func() {
		state := &training.State{
			RunName:   "llm-run",
			Timestamp: training.Timestamp{Batch: 1500, Epoch: 3},
		}
		Expect(training.FormatNameWithState("huggingface/ba{batch}", state, 0)).
			To(Equal("huggingface/ba1500"))
		Expect(training.FormatNameWithState("{run_name}/ep{epoch}/rank{rank}", state, 2)).
			To(Equal("llm-run/ep3/rank2"))
	})
})
