package runtime

import (
	"errors"

	"github.com/hiagors92/open-filter-challange/types"
)

// Error classes, re-exported so filter authors need only this package.
var (
	ErrConfiguration     = types.ErrConfiguration
	ErrBind              = types.ErrBind
	ErrProcessing        = types.ErrProcessing
	ErrForcedTermination = types.ErrForcedTermination
)

// ErrEndOfStream may be returned by Process or Generate to end the stage's
// stream cleanly. Messages returned alongside it are still published.
var ErrEndOfStream = errors.New("end of stream")

// StageError attributes an error to a named stage.
type StageError = types.StageError
