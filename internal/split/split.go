// Package split is the boundary to the transformation engine that does
// the actual IFC filtering. The job engine treats it as opaque: a path
// in, a filter, a path out.
package split

import (
	"context"
	"errors"

	"ifcsplit/internal/domain"
)

// Splitter produces a filtered derivative of the input file at
// outputPath, keeping only elements selected by the filter and the
// containment hierarchy above them. Implementations must honor context
// cancellation promptly; the worker pool relies on it for timeouts.
type Splitter interface {
	Split(ctx context.Context, inputPath, outputPath string, filter domain.FilterSpec) error
}

// Classify maps a Split failure to the error kind recorded on the job.
func Classify(ctx context.Context, err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.KindTimeout
	}
	return domain.KindTransformation
}
