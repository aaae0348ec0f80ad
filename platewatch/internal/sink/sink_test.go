package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/plates/platewatch/detection"
)

var rec = detection.FinalRecord{Plate: "XYZ999", Make: detection.Some("BMW")}

func TestWebhook_PostsJSON(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL).Send(context.Background(), rec); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotBody != `{"plate":"XYZ999","make":"BMW","model":null}` {
		t.Errorf("body = %s", gotBody)
	}
	if gotType != "application/json" {
		t.Errorf("content type = %q", gotType)
	}
}

func TestWebhook_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Send(context.Background(), rec)
	var de *DispatchError
	if !errors.As(err, &de) || de.Status != http.StatusAccepted || !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want DispatchError with status 202", err)
	}
}

func TestWebhook_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewWebhook(srv.URL, WithWebhookTimeout(50*time.Millisecond)).Send(context.Background(), rec)
	var de *DispatchError
	if !errors.As(err, &de) || de.Status != 0 {
		t.Fatalf("err = %v, want DispatchError without status", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not honoured")
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	s.Send(context.Background(), rec)
	s.Send(context.Background(), detection.FinalRecord{Plate: "ABC123"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], `"plate":"ABC123"`) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRouter_FansOutAndReturnsFirstError(t *testing.T) {
	var seen []string
	boom := errors.New("boom")
	r := NewRouter(nil,
		Func(func(ctx context.Context, rec detection.FinalRecord) error {
			seen = append(seen, "a:"+rec.Plate)
			return boom
		}),
		Func(func(ctx context.Context, rec detection.FinalRecord) error {
			seen = append(seen, "b:"+rec.Plate)
			return nil
		}),
	)
	if err := r.Send(context.Background(), rec); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(seen) != 2 {
		t.Errorf("seen = %v, want both sinks called", seen)
	}
}
