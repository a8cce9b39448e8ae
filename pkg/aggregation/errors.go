package aggregation

import (
	"errors"
	"fmt"
)

var (
	// ErrUndefinedVariable is returned for $$name references that no
	// enclosing expression declares.
	ErrUndefinedVariable = errors.New("undefined variable")

	// ErrGeoNearPosition is returned when $geoNear is not the first stage.
	ErrGeoNearPosition = errors.New("$geoNear is only valid as the first stage of a pipeline")
)

// StageError reports a failure in one pipeline stage.
type StageError struct {
	Index int    // position of the stage in the pipeline
	Stage string // stage name, e.g. "$group"
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(index int, stage string, err error) error {
	return &StageError{Index: index, Stage: stage, Err: err}
}
