package store

import (
	"context"
	"errors"
)

type multiRecorder []Recorder

// Multi returns a Recorder that records into every r in order. All
// recorders are attempted; their errors are joined.
//
//nolint:ireturn // combinator returns the interface it combines
func Multi(recorders ...Recorder) Recorder {
	if len(recorders) == 1 {
		return recorders[0]
	}
	return multiRecorder(recorders)
}

func (m multiRecorder) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
