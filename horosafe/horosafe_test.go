package horosafe

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		wantErr     bool
	}{
		{"/data/images", "ABC123.jpg", false},
		{"/data/images", "../etc/passwd", true},
		{"/data/images", "abc/../def", true},
		{"/data/images", "", true},
		{"/data/images", "SG-1234.jpg", false},
	}
	for _, tt := range tests {
		_, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
		}
	}
}

func TestCheckHTTPURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://169.254.206.95/local/Vaxreader/index.html#/", false},
		{"https://api.platerecognizer.com/v1/plate-reader/", false},
		{"ftp://evil.com/data", true},
		{"javascript:alert(1)", true},
		{"http:///nohost", true},
	}
	for _, tt := range tests {
		err := CheckHTTPURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckHTTPURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	if _, err := LimitedReadAll(bytes.NewReader(make([]byte, 11)), 10); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ABC123.jpg")

	if err := WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "second" {
		t.Fatalf("read back %q, %v", got, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
