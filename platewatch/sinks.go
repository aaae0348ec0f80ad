package platewatch

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/plates/platewatch/detection"
	"github.com/hazyhaar/plates/platewatch/internal/sink"
)

// Sink receives final records.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink.
func NewWebhookSink(url string, timeout time.Duration, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookTimeout(timeout), sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn func(ctx context.Context, rec detection.FinalRecord) error) Sink {
	return sink.Func(fn)
}
