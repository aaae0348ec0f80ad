package recognizer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/plates/platewatch/detection"
)

func writeImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "XYZ999.jpg")
	if err := os.WriteFile(p, []byte("\xff\xd8jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRecognize_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.MultipartForm.Value["regions"]; len(got) != 2 || got[0] != "sg" || got[1] != "my" {
			t.Errorf("regions = %v", got)
		}
		if got := r.FormValue("mmc"); got != "true" {
			t.Errorf("mmc = %q", got)
		}
		if got := r.FormValue("config"); got != `{"region":"strict"}` {
			t.Errorf("config = %q", got)
		}
		f, hdr, err := r.FormFile("upload")
		if err != nil {
			t.Errorf("upload: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "XYZ999.jpg" || string(data) != "\xff\xd8jpeg" {
			t.Errorf("upload = %s %q", hdr.Filename, data)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"results":[{"plate":"xyz999","score":0.9,"model_make":[{"make":"Mazda","model":"3"}]}]}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Token: "secret", Regions: []string{"sg", "my"}, StrictRegion: true, MMC: true})
	res, err := c.Recognize(context.Background(), writeImage(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Make != detection.Some("Mazda") || res.Model != detection.Some("3") || res.Plate != "xyz999" {
		t.Errorf("result = %+v", res)
	}
}

func TestRecognize_TopLevelWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"make":"Toyota","model":"","results":[{"model_make":[{"make":"Mazda","model":"3"}]}]}`)
	}))
	defer srv.Close()

	res, err := New(Config{URL: srv.URL}).Recognize(context.Background(), writeImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Make != detection.Some("Toyota") {
		t.Errorf("Make = %+v, want Toyota", res.Make)
	}
	if res.Model.Set {
		t.Errorf("blank top-level model should be absent, got %+v", res.Model)
	}
}

func TestRecognize_EmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	res, err := New(Config{URL: srv.URL}).Recognize(context.Background(), writeImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Make.Set || res.Model.Set {
		t.Errorf("result = %+v, want nothing recognized", res)
	}
}

func TestRecognize_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Invalid token."}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Recognize(context.Background(), writeImage(t))
	var re *Error
	if !errors.As(err, &re) || re.Status != http.StatusForbidden || !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want *Error with 403", err)
	}
}

func TestRecognize_MissingImage(t *testing.T) {
	_, err := New(Config{URL: "http://127.0.0.1:1"}).Recognize(context.Background(), "/nonexistent/ABC.jpg")
	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *Error", err)
	}
}

// shortWriter accepts n bytes and fails afterwards.
type shortWriter struct{ n int }

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.n {
		k := w.n
		w.n = 0
		return k, errors.New("disk full")
	}
	w.n -= len(p)
	return len(p), nil
}

func TestWriteForm_FieldErrorsSurface(t *testing.T) {
	img := []byte("\xff\xd8jpeg")

	// Size of the upload part alone.
	var ref bytes.Buffer
	mw := multipart.NewWriter(&ref)
	mw.SetBoundary("platewatch")
	fw, _ := mw.CreateFormFile("upload", "XYZ999.jpg")
	fw.Write(img)

	c := New(Config{URL: "http://127.0.0.1:1", Token: "secret", Regions: []string{"sg"}, MMC: true})
	mw = multipart.NewWriter(&shortWriter{n: ref.Len()})
	mw.SetBoundary("platewatch")
	err := c.writeForm(mw, "XYZ999.jpg", img)
	if err == nil || !strings.Contains(err.Error(), "form regions") {
		t.Fatalf("err = %v, want a regions field error", err)
	}
}
