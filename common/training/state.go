package training

import (
	"strconv"
	"strings"
)

// Event identifies a training-loop lifecycle point delivered to callbacks.
type Event string

const (
	EventInit            Event = "INIT"
	EventBatchCheckpoint Event = "BATCH_CHECKPOINT"
	EventEpochCheckpoint Event = "EPOCH_CHECKPOINT"
	EventFitEnd          Event = "FIT_END"
)

// LoggerDestination is an experiment-tracking destination attached to the
// training loop. Callbacks discover richer capabilities (such as a model
// registry) by type-asserting against concrete destinations.
type LoggerDestination interface {
	DestinationName() string
}

// State is the view of the training loop a callback receives with every
// event. The loop itself is an external collaborator; State is its contract.
type State struct {
	RunName   string
	Timestamp Timestamp

	// MaxDuration is the configured length of training. Nil until the loop
	// has computed it; elapsed-duration queries answer nil until then.
	MaxDuration *Time

	// DataloaderLen is the number of batches per epoch, or a negative value
	// when not yet known.
	DataloaderLen int64

	Model        TrainedModel
	Destinations []LoggerDestination
}

// ElapsedDuration returns the fraction of training completed, or nil when the
// max duration has not been computed yet.
func (s *State) ElapsedDuration() *float64 {
	if s.MaxDuration == nil || s.MaxDuration.Value <= 0 {
		return nil
	}

	current, err := s.Timestamp.Get(s.MaxDuration.Unit)
	if err != nil {
		return nil
	}

	fraction := float64(current) / s.MaxDuration.Value
	return &fraction
}

// FormatNameWithState substitutes run-time tokens ({run_name}, {batch},
// {epoch}, {token}, {sample}, {rank}) into a folder-name template.
func FormatNameWithState(template string, s *State, rank int) string {
	replacer := strings.NewReplacer(
		"{run_name}", s.RunName,
		"{batch}", formatInt(s.Timestamp.Batch),
		"{epoch}", formatInt(s.Timestamp.Epoch),
		"{token}", formatInt(s.Timestamp.Token),
		"{sample}", formatInt(s.Timestamp.Sample),
		"{rank}", formatInt(int64(rank)),
	)
	return replacer.Replace(template)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
