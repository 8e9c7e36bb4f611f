package training

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeUnit is the denomination of a training duration or interval.
type TimeUnit string

const (
	Epoch    TimeUnit = "ep"
	Batch    TimeUnit = "ba"
	Token    TimeUnit = "tok"
	Sample   TimeUnit = "sp"
	Duration TimeUnit = "dur"
)

var unitSuffixes = []TimeUnit{Epoch, Batch, Token, Sample, Duration}

// Time is a quantity of training progress in a particular unit, e.g.
// "100ba", "2ep", or "0.5dur".
type Time struct {
	Value float64
	Unit  TimeUnit
}

func (t Time) String() string {
	if t.Value == float64(int64(t.Value)) {
		return fmt.Sprintf("%d%s", int64(t.Value), string(t.Unit))
	}
	return fmt.Sprintf("%g%s", t.Value, string(t.Unit))
}

// ParseTime parses a time string such as "100ba" or "1dur".
func ParseTime(raw string) (Time, error) {
	raw = strings.TrimSpace(raw)
	for _, unit := range unitSuffixes {
		if !strings.HasSuffix(raw, string(unit)) {
			continue
		}

		valueText := strings.TrimSuffix(raw, string(unit))
		value, err := strconv.ParseFloat(valueText, 64)
		if err != nil {
			return Time{}, fmt.Errorf("invalid time value \"%s\": %w", raw, err)
		}
		if value < 0 {
			return Time{}, fmt.Errorf("time value \"%s\" must be non-negative", raw)
		}
		return Time{Value: value, Unit: unit}, nil
	}
	return Time{}, fmt.Errorf("time string \"%s\" has no recognized unit suffix", raw)
}

// TimeFromInput accepts a Time, a time string, or a bare integer (interpreted
// in defaultUnit), mirroring the permissive configuration surface.
func TimeFromInput(input interface{}, defaultUnit TimeUnit) (Time, error) {
	switch v := input.(type) {
	case Time:
		return v, nil
	case string:
		return ParseTime(v)
	case int:
		return Time{Value: float64(v), Unit: defaultUnit}, nil
	case int64:
		return Time{Value: float64(v), Unit: defaultUnit}, nil
	case float64:
		return Time{Value: v, Unit: defaultUnit}, nil
	default:
		return Time{}, fmt.Errorf("cannot interpret %T as a time", input)
	}
}

// Timestamp records a training run's progress counters.
type Timestamp struct {
	Batch        int64
	Epoch        int64
	BatchInEpoch int64
	Token        int64
	Sample       int64
}

// Get returns the counter denominated in the given unit. Duration has no
// direct counter; callers derive it from State.ElapsedDuration.
func (ts Timestamp) Get(unit TimeUnit) (int64, error) {
	switch unit {
	case Epoch:
		return ts.Epoch, nil
	case Batch:
		return ts.Batch, nil
	case Token:
		return ts.Token, nil
	case Sample:
		return ts.Sample, nil
	default:
		return 0, fmt.Errorf("timestamp has no counter for unit \"%s\"", string(unit))
	}
}
