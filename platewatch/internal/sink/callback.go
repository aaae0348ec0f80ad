package sink

import (
	"context"

	"github.com/hazyhaar/plates/platewatch/detection"
)

// Func delivers records via a Go function call, for embedding platewatch
// in another process.
type Func func(ctx context.Context, rec detection.FinalRecord) error

func (f Func) Send(ctx context.Context, rec detection.FinalRecord) error {
	if f == nil {
		return nil
	}
	return f(ctx, rec)
}

func (f Func) Close() error { return nil }
