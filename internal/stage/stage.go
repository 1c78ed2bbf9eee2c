// Package stage implements the per-stage file transforms of the receipts
// pipeline and the batch accounting shared by the polling and
// event-driven workers.
package stage

import (
	"context"
	"errors"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
)

// Result is the outcome of processing one stage file.
type Result struct {
	Destination constants.Destination
	OutputPath  string
	Err         error
}

func (r Result) OK() bool { return r.Err == nil }

// Processor transforms one discovered input file. Implementations leave
// the input in place when they return an error.
type Processor interface {
	Name() string
	InputDir() string
	Filter() partition.Filter
	ProcessOne(ctx context.Context, f partition.StageFile) Result
}

var (
	ErrNoURL            = errors.New("no receipt url found")
	ErrMissingPrintTime = errors.New("print_time is missing")
	ErrInvalidPrintTime = errors.New("print_time is not in 2006-01-02 15:04:05 format")
	ErrInvalidDocument  = errors.New("document is not a JSON object")
)

func fail(dest constants.Destination, err error) Result {
	return Result{Destination: dest, Err: err}
}
