package meter

import "errors"

var (
	// ErrWriteBusy is returned by WriteDataToFile when the previous async
	// write has not yet returned the shadow buffer.
	ErrWriteBusy = errors.New("meter: previous write still in flight")

	// ErrNotOutputAssigned is returned by WriteDataToFile when
	// AssignOutputDir has not been called yet.
	ErrNotOutputAssigned = errors.New("meter: output file not assigned")

	// ErrPartialSample marks a sample that was taken but is missing one or
	// more fields; callers may still record it but should surface this.
	ErrPartialSample = errors.New("meter: partial sample")
)
