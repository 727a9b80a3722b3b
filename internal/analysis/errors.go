package analysis

import (
	"errors"
	"fmt"
)

// Stage identifies a component of the analytics pipeline
type Stage string

const (
	StageSummary Stage = "summary"
	StageOutlier Stage = "outlier"
	StageRisk    Stage = "risk"
	StageTrend   Stage = "trend"
)

// AggregatedStages are the stages run by AggregateInsights
var AggregatedStages = []Stage{StageSummary, StageOutlier, StageRisk}

// ErrStageFailed is matched by every StageError via errors.Is
var ErrStageFailed = errors.New("analysis stage failed")

// ErrNilValueSet is returned when an analyzer receives no value set
var ErrNilValueSet = errors.New("value set is required")

// StageError tags a failure with the pipeline stage that produced it
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s analysis failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrStageFailed so callers can test for any stage failure
func (e *StageError) Is(target error) bool {
	return target == ErrStageFailed
}

// runStage executes fn, converting returned errors and panics into a StageError
func runStage[T any](stage Stage, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	result, err = fn()
	if err != nil {
		var zero T
		return zero, &StageError{Stage: stage, Err: err}
	}
	return result, nil
}
