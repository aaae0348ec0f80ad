package platewatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/plates/platewatch/detection"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := ParseConfig([]byte(`
source:
  url: http://camera.local/local/Vaxreader/index.html#/
poll:
  interval: 1ms
  retry_delay: 1ms
  max_attempts: 2
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	dir := t.TempDir()
	cfg.Storage.DataDir = dir
	cfg.Storage.ImagesDir = filepath.Join(dir, "images")
	cfg.Storage.DBPath = filepath.Join(dir, "platewatch.db")
	cfg.Sink.Stdout = false
	return cfg
}

type collector struct {
	mu   sync.Mutex
	recs []detection.FinalRecord
}

func (c *collector) send(ctx context.Context, rec detection.FinalRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

// runService drives a Service over two renders and returns it stopped.
func runService(t *testing.T) (*Service, *collector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &fakeSession{
		script: []step{
			{html: page("ABC123|Toyota|Corolla")},
			{html: page("XYZ999", "ABC123|Toyota|Corolla")},
		},
		onEmpty: cancel,
	}
	got := &collector{}
	svc, err := NewService(testConfig(t), nil,
		WithSessionFactory(func() Session { return sess }),
		WithSinks(NewCallbackSink(got.send)),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	return svc, got
}

func TestService_EndToEnd(t *testing.T) {
	svc, got := runService(t)

	if len(got.recs) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(got.recs), got.recs)
	}
	if got.recs[0].Plate != "ABC123" || got.recs[0].Make != detection.Some("Toyota") {
		t.Errorf("first record = %+v", got.recs[0])
	}
	// No recognizer token: the incomplete row is forwarded as detected.
	if got.recs[1].Plate != "XYZ999" || got.recs[1].Make.Set {
		t.Errorf("second record = %+v", got.recs[1])
	}

	st, err := svc.History().Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Snapshots != 2 || st.Dispatches != 2 || st.Delivered != 2 {
		t.Errorf("history stats = %+v", st)
	}

	matches, _ := filepath.Glob(filepath.Join(svc.cfg.Storage.DataDir, "detections_*.csv"))
	if len(matches) == 0 {
		t.Error("no CSV export written")
	}
	if _, ok := svc.images.Lookup("XYZ999"); !ok {
		t.Error("image for XYZ999 not stored")
	}
}

func TestService_LocksDataDir(t *testing.T) {
	cfg := testConfig(t)
	first, err := NewService(cfg, nil, WithSessionFactory(func() Session { return &fakeSession{} }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := NewService(cfg, nil); !errors.Is(err, ErrLocked) {
		t.Errorf("second instance err = %v, want ErrLocked", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, err := NewService(cfg, nil, WithSessionFactory(func() Session { return &fakeSession{} }))
	if err != nil {
		t.Fatalf("NewService after Close: %v", err)
	}
	again.Close()
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHandler(t *testing.T) {
	svc, _ := runService(t)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	code, body := get(t, srv, "/status")
	if code != http.StatusOK {
		t.Fatalf("/status = %d %s", code, body)
	}
	var report StatusReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if report.Poller.Dispatches != 2 || report.History.Snapshots != 2 || report.Last == nil {
		t.Errorf("status = %+v", report)
	}

	code, body = get(t, srv, "/dispatches?plate=XYZ999")
	var dispatches []detection.Dispatch
	if err := json.Unmarshal([]byte(body), &dispatches); err != nil || code != http.StatusOK {
		t.Fatalf("/dispatches = %d %s (%v)", code, body, err)
	}
	if len(dispatches) != 1 || dispatches[0].Enrichment != detection.EnrichDisabled {
		t.Errorf("dispatches = %+v", dispatches)
	}

	code, body = get(t, srv, "/snapshots?limit=1")
	if code != http.StatusOK || strings.Count(body, `"id"`) != 1 {
		t.Errorf("/snapshots = %d %s", code, body)
	}

	tests := []struct {
		path string
		code int
	}{
		{"/healthz", http.StatusServiceUnavailable},
		{"/snapshots/nope", http.StatusNotFound},
		{"/dispatches?limit=many", http.StatusBadRequest},
		{"/snapshots/" + report.Last.ID, http.StatusOK},
	}
	for _, tt := range tests {
		if code, body := get(t, srv, tt.path); code != tt.code {
			t.Errorf("GET %s = %d %s, want %d", tt.path, code, body, tt.code)
		}
	}
}

func TestMCP_Tools(t *testing.T) {
	svc, _ := runService(t)

	impl := &mcp.Implementation{Name: "platewatch-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	call := func(name string, args map[string]any) *mcp.CallToolResult {
		t.Helper()
		res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			t.Fatalf("CallTool(%s): %v", name, err)
		}
		return res
	}
	text := func(res *mcp.CallToolResult) string {
		t.Helper()
		if len(res.Content) == 0 {
			t.Fatal("empty content")
		}
		return res.Content[0].(*mcp.TextContent).Text
	}

	var dispatches []detection.Dispatch
	if err := json.Unmarshal([]byte(text(call("platewatch_dispatches", map[string]any{"limit": 1}))), &dispatches); err != nil {
		t.Fatal(err)
	}
	if len(dispatches) != 1 || dispatches[0].Record.Plate != "XYZ999" {
		t.Errorf("dispatches = %+v", dispatches)
	}

	var report StatusReport
	if err := json.Unmarshal([]byte(text(call("platewatch_status", map[string]any{}))), &report); err != nil {
		t.Fatal(err)
	}
	if report.Poller.Phase != PhaseStopped {
		t.Errorf("phase = %q", report.Poller.Phase)
	}

	if res := call("platewatch_snapshot", map[string]any{"id": "nope"}); !res.IsError {
		t.Error("unknown snapshot should be a tool error")
	}
}
