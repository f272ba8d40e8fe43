package pipeline

import (
	"errors"

	"trafficetl/internal/etlerr"
)

// State is a position in the run state machine. Runs move strictly forward:
//
//	Idle → Configuring → Extracting → Transforming → Loading → Complete
//
// and any state after Idle may end in Failed.
type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateExtracting
	StateTransforming
	StateLoading
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateExtracting:
		return "extracting"
	case StateTransforming:
		return "transforming"
	case StateLoading:
		return "loading"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Outcome is the process-level result of a run. Its value is the exit code.
type Outcome int

const (
	OutcomeSuccess        Outcome = 0
	OutcomeConfigError    Outcome = 1
	OutcomeExtractionErr  Outcome = 2
	OutcomeTransformError Outcome = 3
	OutcomeLoadError      Outcome = 4
	OutcomeUnknown        Outcome = 99
)

// Code is the process exit code.
func (o Outcome) Code() int { return int(o) }

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConfigError:
		return "configuration error"
	case OutcomeExtractionErr:
		return "extraction error"
	case OutcomeTransformError:
		return "transformation error"
	case OutcomeLoadError:
		return "load error"
	default:
		return "unexpected error"
	}
}

// OutcomeFor maps err onto an Outcome. Errors that are not stage errors are
// unexpected.
func OutcomeFor(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var e *etlerr.Error
	if !errors.As(err, &e) {
		return OutcomeUnknown
	}
	switch e.Kind {
	case etlerr.KindConfig:
		return OutcomeConfigError
	case etlerr.KindExtraction:
		return OutcomeExtractionErr
	case etlerr.KindTransformation:
		return OutcomeTransformError
	case etlerr.KindLoad:
		return OutcomeLoadError
	default:
		return OutcomeUnknown
	}
}
