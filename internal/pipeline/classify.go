package pipeline

import (
	"errors"

	"github.com/signalsfoundry/mosaicfit/core"
	"github.com/signalsfoundry/mosaicfit/internal/catalog"
	"github.com/signalsfoundry/mosaicfit/internal/fetch"
	"github.com/signalsfoundry/mosaicfit/internal/header"
	"github.com/signalsfoundry/mosaicfit/internal/observability"
	"github.com/signalsfoundry/mosaicfit/kb"
)

// Failure classifies why a run stopped.
type Failure int

const (
	FailureNone Failure = iota
	FailureRetrieval
	FailureCatalog
	FailureFit
	FailureWrite
	FailureOther
)

// Classify maps an error returned by the pipeline to its failure class.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, fetch.ErrRetrieval):
		return FailureRetrieval
	case errors.Is(err, catalog.ErrMalformedCatalog):
		return FailureCatalog
	case errors.Is(err, core.ErrDegenerateFit),
		errors.Is(err, core.ErrBehindTangentPlane),
		errors.Is(err, kb.ErrIncompleteTable),
		errors.Is(err, kb.ErrQuadrantNotFound):
		return FailureFit
	case errors.Is(err, header.ErrWrite):
		return FailureWrite
	default:
		return FailureOther
	}
}

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return observability.ResultOK
	case FailureRetrieval:
		return observability.ResultRetrieval
	case FailureCatalog:
		return observability.ResultCatalog
	case FailureFit:
		return observability.ResultFit
	case FailureWrite:
		return observability.ResultWrite
	default:
		return observability.ResultOther
	}
}

// ExitCode is the process exit status for a run ending with f.
func (f Failure) ExitCode() int {
	switch f {
	case FailureNone:
		return 0
	case FailureRetrieval:
		return 2
	case FailureCatalog:
		return 3
	case FailureFit:
		return 4
	case FailureWrite:
		return 5
	default:
		return 1
	}
}
