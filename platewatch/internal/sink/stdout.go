package sink

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/plates/platewatch/detection"
)

// Stdout writes records as JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Send(_ context.Context, rec detection.FinalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

func (s *Stdout) Close() error { return nil }
