package training

import (
	"math"
	"sync"
)

// IntervalScheduler decides whether a lifecycle event lands on a checkpoint
// instant for a configured interval. Token, sample, and duration intervals
// are threshold-crossing checks, so the scheduler is stateful and must be
// evaluated by a single goroutine per training loop (guarded here anyway,
// since callbacks share it with tests).
type IntervalScheduler struct {
	interval             Time
	includeEndOfTraining bool

	mu          sync.Mutex
	lastCount   int64
	lastElapsed float64
}

// NewIntervalScheduler builds a scheduler for the given interval. With
// includeEndOfTraining, the scheduler also fires on the batch event once the
// elapsed training fraction reaches 1.0.
func NewIntervalScheduler(interval Time, includeEndOfTraining bool) *IntervalScheduler {
	return &IntervalScheduler{
		interval:             interval,
		includeEndOfTraining: includeEndOfTraining,
	}
}

// Interval returns the configured interval.
func (s *IntervalScheduler) Interval() Time {
	return s.interval
}

// Check reports whether the event is a checkpoint instant. It never fires
// while the elapsed training duration is unknown.
func (s *IntervalScheduler) Check(state *State, event Event) bool {
	elapsed := state.ElapsedDuration()
	if elapsed == nil {
		return false
	}

	if s.includeEndOfTraining && event == EventBatchCheckpoint && *elapsed >= 1.0 {
		return true
	}

	switch s.interval.Unit {
	case Epoch:
		return event == EventEpochCheckpoint &&
			s.interval.Value > 0 &&
			state.Timestamp.Epoch > 0 &&
			state.Timestamp.Epoch%int64(s.interval.Value) == 0
	case Batch:
		return event == EventBatchCheckpoint &&
			s.interval.Value > 0 &&
			state.Timestamp.Batch > 0 &&
			state.Timestamp.Batch%int64(s.interval.Value) == 0
	case Token:
		return event == EventBatchCheckpoint && s.crossedCount(state.Timestamp.Token)
	case Sample:
		return event == EventBatchCheckpoint && s.crossedCount(state.Timestamp.Sample)
	case Duration:
		return event == EventBatchCheckpoint && s.crossedFraction(*elapsed)
	default:
		return false
	}
}

// crossedCount fires when the running count passes a multiple of the
// interval since the previous evaluation.
func (s *IntervalScheduler) crossedCount(count int64) bool {
	if s.interval.Value <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.lastCount
	s.lastCount = count
	if count <= previous {
		return false
	}
	return math.Floor(float64(count)/s.interval.Value) > math.Floor(float64(previous)/s.interval.Value)
}

func (s *IntervalScheduler) crossedFraction(elapsed float64) bool {
	if s.interval.Value <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.lastElapsed
	s.lastElapsed = elapsed
	if elapsed <= previous {
		return false
	}
	return math.Floor(elapsed/s.interval.Value) > math.Floor(previous/s.interval.Value)
}
