// Package platewatch polls a Vaxreader detection page, turns each render
// into a Snapshot, and forwards the newest changed plate downstream.
//
// The Poller owns all mutable state: the current render session, the last
// accepted snapshot and the failure counters. One goroutine drives it;
// status readers get copies.
package platewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/plates/idgen"
	"github.com/hazyhaar/plates/platewatch/detection"
	"github.com/hazyhaar/plates/platewatch/internal/browser"
	"github.com/hazyhaar/plates/platewatch/internal/diff"
	"github.com/hazyhaar/plates/platewatch/internal/extract"
	"github.com/hazyhaar/plates/platewatch/internal/images"
)

// Session is the render session the Poller drives.
type Session interface {
	Connect(ctx context.Context) error
	IsLive(ctx context.Context) bool
	Refresh(ctx context.Context) (extract.Document, error)
	Recreate(ctx context.Context) error
	CaptureImage(ctx context.Context, url string) ([]byte, error)
	State() browser.State
	Close()
}

// SessionFactory builds a fresh, unconnected Session.
type SessionFactory func() Session

// Dispatcher enriches and forwards one changed detection.
type Dispatcher interface {
	ProcessFor(ctx context.Context, snapshotID string, det detection.Detection, force bool) detection.FinalRecord
}

// ImageFetcher stores plate images.
type ImageFetcher interface {
	Fetch(ctx context.Context, c images.Capturer, req extract.ImageRequest) (bool, error)
}

// Archiver persists accepted snapshots.
type Archiver interface {
	Archive(ctx context.Context, snap detection.Snapshot) error
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// BaseURL resolves relative image sources.
	BaseURL string
	// Interval separates cycles. Default: 5s.
	Interval time.Duration
	// MaxAttempts bounds the attempts of one cycle. Default: 3.
	MaxAttempts int
	// RetryDelay separates attempts. Default: 5s.
	RetryDelay time.Duration
	// EscalateAfter is the number of consecutive failed cycles after which
	// the session is rebuilt from scratch. Default: 3.
	EscalateAfter int
	// ForceRecognition enriches every dispatched row.
	ForceRecognition bool

	NewID  idgen.Generator
	Now    func() time.Time
	Logger *slog.Logger
}

func (c *PollerConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.EscalateAfter <= 0 {
		c.EscalateAfter = 3
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("snap_", idgen.UUIDv7())
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Phase is the lifecycle phase of a Poller.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhasePolling    Phase = "polling"
	PhaseRecovering Phase = "recovering"
	PhaseStopped    Phase = "stopped"
)

// Status is a point-in-time copy of the Poller's counters.
type Status struct {
	Phase               Phase     `json:"phase"`
	SessionState        string    `json:"session_state"`
	StartedAt           time.Time `json:"started_at"`
	Cycles              int       `json:"cycles"`
	FailedCycles        int       `json:"failed_cycles"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Sessions            int       `json:"sessions"`
	Dispatches          int       `json:"dispatches"`
	ImagesStored        int       `json:"images_stored"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastChange          time.Time `json:"last_change,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastSnapshotID      string    `json:"last_snapshot_id,omitempty"`
	LastSnapshotRows    int       `json:"last_snapshot_rows"`
}

// Poller is the poll loop.
type Poller struct {
	cfg        PollerConfig
	newSession SessionFactory
	dispatcher Dispatcher
	images     ImageFetcher
	archive    Archiver

	// Owned by the Run goroutine.
	session  Session
	prev     *detection.Snapshot
	failures int

	mu     sync.Mutex
	status Status
	last   *detection.Snapshot
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithImageFetcher stores the images referenced by each snapshot.
func WithImageFetcher(f ImageFetcher) PollerOption {
	return func(p *Poller) { p.images = f }
}

// WithArchiver persists accepted snapshots.
func WithArchiver(a Archiver) PollerOption {
	return func(p *Poller) { p.archive = a }
}

// NewPoller creates a Poller. Sessions come from factory; changed rows go
// to d.
func NewPoller(cfg PollerConfig, factory SessionFactory, d Dispatcher, opts ...PollerOption) *Poller {
	cfg.defaults()
	p := &Poller{
		cfg:        cfg,
		newSession: factory,
		dispatcher: d,
		status:     Status{Phase: PhaseStarting},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls until ctx is cancelled, returning nil, or until the session
// cannot be rebuilt, returning the error. The current session is closed
// exactly once on the way out.
func (p *Poller) Run(ctx context.Context) error {
	log := p.cfg.Logger
	p.update(func(s *Status) {
		s.Phase = PhaseStarting
		s.StartedAt = p.cfg.Now()
	})
	defer p.shutdown()

	if err := p.openSession(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("platewatch: connect: %w", err)
	}
	p.update(func(s *Status) { s.Phase = PhasePolling })
	log.Info("platewatch: polling", "interval", p.cfg.Interval,
		"max_attempts", p.cfg.MaxAttempts, "force_recognition", p.cfg.ForceRecognition)

	for n := 1; ; n++ {
		ok := p.cycle(ctx, n)
		if ctx.Err() != nil {
			return nil
		}

		if ok {
			p.failures = 0
		} else {
			p.failures++
			log.Warn("platewatch: cycle failed", "cycle", n,
				"attempts", p.cfg.MaxAttempts, "consecutive", p.failures)
			if p.failures >= p.cfg.EscalateAfter {
				if err := p.escalate(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("platewatch: rebuild session: %w", err)
				}
				p.failures = 0
			}
		}
		p.update(func(s *Status) {
			s.Cycles = n
			s.ConsecutiveFailures = p.failures
			if !ok {
				s.FailedCycles++
			}
			s.Phase = PhasePolling
			s.SessionState = p.sessionState()
		})

		if err := sleepCtx(ctx, p.cfg.Interval); err != nil {
			return nil
		}
	}
}

// cycle runs up to MaxAttempts attempts and reports whether one succeeded.
func (p *Poller) cycle(ctx context.Context, n int) bool {
	log := p.cfg.Logger.With("cycle", n)
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := p.attempt(ctx, log)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Warn("platewatch: attempt failed", "attempt", attempt,
			"max", p.cfg.MaxAttempts, "error", err)
		p.update(func(s *Status) {
			s.Phase = PhaseRecovering
			s.LastError = err.Error()
			s.SessionState = p.sessionState()
		})

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, p.cfg.RetryDelay); err != nil {
			return false
		}
		if err := p.session.Recreate(ctx); err != nil && ctx.Err() == nil {
			log.Warn("platewatch: recreate before retry failed", "error", err)
		}
	}
	return false
}

// attempt is one refresh → extract → fetch → diff → dispatch → accept pass.
func (p *Poller) attempt(ctx context.Context, log *slog.Logger) error {
	doc, err := p.session.Refresh(ctx)
	if err != nil {
		return err
	}

	res := extract.Extract(doc, extract.Options{
		BaseURL: p.cfg.BaseURL,
		NewID:   p.cfg.NewID,
		Now:     p.cfg.Now,
		Logger:  p.cfg.Logger,
	})
	if res.Outcome == extract.OutcomeEmpty {
		return fmt.Errorf("%w: %s", extract.ErrExtractionMiss, res.Reason)
	}
	snap := res.Snapshot
	log.Info("platewatch: snapshot read", "snapshot", snap.ID, "rows", res.Stats.Rows,
		"kept", res.Stats.Kept, "hidden", res.Stats.Hidden, "row_errors", res.Stats.RowErrors,
		"duplicates", res.Stats.Duplicates, "image_requests", res.Stats.ImageRequests)

	stored := p.fetchImages(ctx, log, res.Images)

	change, ok := acceptable(p.prev, snap)
	if !ok {
		log.Info("platewatch: no changes")
		p.update(func(s *Status) {
			s.LastSuccess = p.cfg.Now()
			s.ImagesStored += stored
			s.SessionState = p.sessionState()
		})
		return nil
	}

	log.Info("platewatch: changes detected", "changed", len(change.Changed),
		"schema_drift", change.SchemaDrift)
	dispatched := 0
	if det, ok := change.MostRecent(); ok {
		p.dispatcher.ProcessFor(ctx, snap.ID, det, p.cfg.ForceRecognition)
		dispatched = 1
	}

	if p.archive != nil {
		if err := p.archive.Archive(ctx, snap); err != nil {
			log.Warn("platewatch: archive snapshot", "snapshot", snap.ID, "error", err)
		}
	}
	p.prev = &snap

	now := p.cfg.Now()
	p.mu.Lock()
	p.last = &snap
	p.status.LastSuccess = now
	p.status.LastChange = now
	p.status.Dispatches += dispatched
	p.status.ImagesStored += stored
	p.status.LastSnapshotID = snap.ID
	p.status.LastSnapshotRows = snap.Len()
	p.status.SessionState = p.sessionState()
	p.mu.Unlock()
	return nil
}

func (p *Poller) fetchImages(ctx context.Context, log *slog.Logger, reqs []extract.ImageRequest) int {
	if p.images == nil || len(reqs) == 0 {
		return 0
	}
	stored, failed := 0, 0
	for _, req := range reqs {
		wrote, err := p.images.Fetch(ctx, p.session, req)
		if err != nil {
			failed++
			log.Warn("platewatch: image fetch failed", "plate", req.Plate, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if wrote {
			stored++
		}
	}
	log.Debug("platewatch: images", "requested", len(reqs), "stored", stored, "failed", failed)
	return stored
}

func (p *Poller) openSession(ctx context.Context) error {
	s := p.newSession()
	p.session = s
	p.update(func(st *Status) { st.Sessions++ })
	err := s.Connect(ctx)
	p.update(func(st *Status) { st.SessionState = s.State().String() })
	return err
}

// escalate discards the current session and connects a new one.
func (p *Poller) escalate(ctx context.Context) error {
	p.cfg.Logger.Warn("platewatch: consecutive failures, rebuilding session",
		"failures", p.failures)
	p.update(func(s *Status) { s.Phase = PhaseRecovering })
	p.closeSession()
	return p.openSession(ctx)
}

func (p *Poller) closeSession() {
	if p.session != nil {
		p.session.Close()
		p.session = nil
	}
}

func (p *Poller) shutdown() {
	p.closeSession()
	p.update(func(s *Status) {
		s.Phase = PhaseStopped
		s.SessionState = browser.StateDead.String()
	})
	if p.prev != nil {
		p.cfg.Logger.Info("platewatch: last accepted snapshot",
			"snapshot", p.prev.ID, "captured_at", p.prev.CapturedAt, "rows", p.prev.Len(),
			"plates", plates(p.prev.Detections))
	} else {
		p.cfg.Logger.Info("platewatch: stopped before any snapshot was accepted")
	}
}

func (p *Poller) sessionState() string {
	if p.session == nil {
		return browser.StateUninitialized.String()
	}
	return p.session.State().String()
}

func (p *Poller) update(fn func(*Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.mu.Unlock()
}

// Status returns a copy of the current status. Safe for concurrent use.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// LastSnapshot returns the last accepted snapshot, or nil. Safe for
// concurrent use.
func (p *Poller) LastSnapshot() *detection.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	cp := *p.last
	cp.Detections = append([]detection.Detection(nil), p.last.Detections...)
	return &cp
}

// acceptable diffs snap against prev and reports whether snap may replace
// it: only non-empty snapshots that differ are accepted.
func acceptable(prev *detection.Snapshot, snap detection.Snapshot) (diff.Change, bool) {
	change := diff.Diff(prev, snap)
	return change, change.Different && !snap.Empty()
}

func plates(dets []detection.Detection) []string {
	out := make([]string, len(dets))
	for i, d := range dets {
		out[i] = d.Plate
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsFatal reports whether err returned by Run means the session could not
// be rebuilt.
func IsFatal(err error) bool {
	var authErr *browser.AuthError
	return errors.As(err, &authErr) || errors.Is(err, browser.ErrSessionDead)
}
