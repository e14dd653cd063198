package types

import (
	"errors"
	"fmt"
)

// Error classes shared by every layer of the pipeline. Callers classify a
// failure with errors.Is against one of these.
var (
	// ErrConfiguration marks malformed addresses, unmatched bindings and
	// invalid stage options. Always detected before or at stage start.
	ErrConfiguration = errors.New("configuration error")
	// ErrBind marks a transport endpoint that could not be opened.
	ErrBind = errors.New("bind error")
	// ErrProcessing marks a failure raised by a filter while processing.
	ErrProcessing = errors.New("processing error")
	// ErrForcedTermination marks a stage that ignored a cooperative stop.
	ErrForcedTermination = errors.New("forced termination")
)

// ConfigError wraps a formatted message in ErrConfiguration.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// StageError attributes an error to a named stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// WrapStage returns err attributed to stage, or nil if err is nil. An error
// already attributed to a stage is returned unchanged.
func WrapStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
