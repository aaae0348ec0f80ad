package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/plates/idgen"
	"github.com/hazyhaar/plates/platewatch/detection"
	"github.com/hazyhaar/plates/platewatch/internal/recognizer"
	"github.com/hazyhaar/plates/platewatch/internal/sink"
)

type fakeRecognizer struct {
	calls int
	res   *recognizer.Result
	err   error
}

func (f *fakeRecognizer) Recognize(ctx context.Context, path string) (*recognizer.Result, error) {
	f.calls++
	return f.res, f.err
}

type images map[string]string

func (m images) Lookup(plate string) (string, bool) {
	p, ok := m[plate]
	return p, ok
}

type memHistory struct{ got []detection.Dispatch }

func (h *memHistory) RecordDispatch(ctx context.Context, d detection.Dispatch) error {
	h.got = append(h.got, d)
	return nil
}

type harness struct {
	rec     *fakeRecognizer
	sent    []detection.FinalRecord
	sinkErr error
	history *memHistory
	d       *Dispatcher
}

func newHarness(rec *fakeRecognizer, imgs images) *harness {
	h := &harness{rec: rec, history: &memHistory{}}
	out := sink.Func(func(ctx context.Context, r detection.FinalRecord) error {
		h.sent = append(h.sent, r)
		return h.sinkErr
	})
	h.d = New(Config{FallbackMake: "BMW", FallbackModel: "X5", NewID: idgen.Sequence("d")},
		imgs, out, WithRecognizer(rec), WithHistory(h.history))
	return h
}

func TestProcess_CompleteDetectionSkipsRecognition(t *testing.T) {
	h := newHarness(&fakeRecognizer{}, images{"HND001": "/img/HND001.jpg"})
	civic := detection.Detection{Plate: "HND001", Make: detection.Some("Honda"), Model: detection.Some("Civic")}

	got := h.d.Process(context.Background(), civic, false)
	if h.rec.calls != 0 {
		t.Errorf("recognizer called %d times, want 0", h.rec.calls)
	}
	if got != civic.Record() || len(h.sent) != 1 || h.sent[0] != civic.Record() {
		t.Errorf("sent %+v, want verbatim record", h.sent)
	}
	if h.history.got[0].Enrichment != detection.EnrichSkipped {
		t.Errorf("enrichment = %s", h.history.got[0].Enrichment)
	}
}

func TestProcess_ForceRecognizes(t *testing.T) {
	h := newHarness(&fakeRecognizer{res: &recognizer.Result{Make: detection.Some("Honda"), Model: detection.Some("Jazz")}},
		images{"HND001": "/img/HND001.jpg"})
	civic := detection.Detection{Plate: "HND001", Make: detection.Some("Honda"), Model: detection.Some("Civic")}

	got := h.d.Process(context.Background(), civic, true)
	if h.rec.calls != 1 {
		t.Fatalf("recognizer called %d times, want 1", h.rec.calls)
	}
	if got.Model != detection.Some("Jazz") {
		t.Errorf("recognized value should win, got %+v", got)
	}
}

func TestProcess_EmptyRecognitionFallsBack(t *testing.T) {
	h := newHarness(&fakeRecognizer{res: &recognizer.Result{}}, images{"XYZ999": "/img/XYZ999.jpg"})

	got := h.d.Process(context.Background(), detection.Detection{Plate: "XYZ999"}, false)
	want := detection.FinalRecord{Plate: "XYZ999", Make: detection.Some("BMW"), Model: detection.Some("X5")}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestProcess_PartialRecognitionKeepsOwnValue(t *testing.T) {
	h := newHarness(&fakeRecognizer{res: &recognizer.Result{Model: detection.Some("Corolla")}}, images{"ABC123": "/img/ABC123.jpg"})

	got := h.d.Process(context.Background(), detection.Detection{Plate: "ABC123", Make: detection.Some("Toyota")}, false)
	if got.Make != detection.Some("Toyota") || got.Model != detection.Some("Corolla") {
		t.Errorf("got %+v", got)
	}
}

func TestProcess_RecognitionErrorFallsBack(t *testing.T) {
	h := newHarness(&fakeRecognizer{err: errors.New("503")}, images{"ABC123": "/img/ABC123.jpg"})

	got := h.d.Process(context.Background(), detection.Detection{Plate: "ABC123", Make: detection.Some("Toyota")}, false)
	if got.Make != detection.Some("Toyota") || got.Model != detection.Some("X5") {
		t.Errorf("got %+v", got)
	}
	if h.history.got[0].Enrichment != detection.EnrichFailed {
		t.Errorf("enrichment = %s", h.history.got[0].Enrichment)
	}
}

func TestProcess_MissingImageForwardsAsDetected(t *testing.T) {
	h := newHarness(&fakeRecognizer{}, images{})
	det := detection.Detection{Plate: "XYZ999"}

	got := h.d.Process(context.Background(), det, false)
	if h.rec.calls != 0 {
		t.Error("no recognition call without an image")
	}
	if got != det.Record() || len(h.sent) != 1 {
		t.Errorf("got %+v, sent %d", got, len(h.sent))
	}
	if h.history.got[0].Enrichment != detection.EnrichNoImage {
		t.Errorf("enrichment = %s", h.history.got[0].Enrichment)
	}
}

func TestProcess_SinkFailureIsRecordedNotRaised(t *testing.T) {
	h := newHarness(&fakeRecognizer{}, images{})
	h.sinkErr = &sink.DispatchError{Plate: "ABC123", Status: 500, Err: sink.ErrRejected}

	got := h.d.ProcessFor(context.Background(), "snap-1", detection.Detection{Plate: "ABC123"}, false)
	if got.Plate != "ABC123" {
		t.Errorf("got %+v", got)
	}
	d := h.history.got[0]
	if d.Delivered || d.Error == "" || d.SnapshotID != "snap-1" || d.ID != "d1" {
		t.Errorf("history = %+v", d)
	}
}

func TestProcess_NoRecognizer(t *testing.T) {
	var sent []detection.FinalRecord
	d := New(Config{FallbackMake: "BMW"}, images{"XYZ999": "/x.jpg"},
		sink.Func(func(ctx context.Context, r detection.FinalRecord) error {
			sent = append(sent, r)
			return nil
		}))
	got := d.Process(context.Background(), detection.Detection{Plate: "XYZ999"}, false)
	if got.Make.Set || len(sent) != 1 {
		t.Errorf("got %+v, sent %d", got, len(sent))
	}
}
