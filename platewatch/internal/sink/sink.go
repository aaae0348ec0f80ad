// Package sink delivers final plate records downstream.
package sink

import (
	"context"
	"fmt"

	"github.com/hazyhaar/plates/platewatch/detection"
)

// Sink is the output interface. Implementations deliver records to
// different backends (HTTP listener, stdout, in-process callback).
type Sink interface {
	Send(ctx context.Context, rec detection.FinalRecord) error
	Close() error
}

// DispatchError reports a record the downstream did not accept.
type DispatchError struct {
	Plate  string
	Status int // 0 when no response was received
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sink: dispatch %q: status %d: %v", e.Plate, e.Status, e.Err)
	}
	return fmt.Sprintf("sink: dispatch %q: %v", e.Plate, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
