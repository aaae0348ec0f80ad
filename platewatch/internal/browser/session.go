// Package browser keeps one authenticated render session on the Vaxreader
// page alive: launch or attach Chrome via Rod, log in, refresh and wait
// for the detection table, and rebuild the session when it goes bad.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hazyhaar/plates/platewatch/internal/extract"
)

// Config configures a Session.
type Config struct {
	// URL is the page rendering the detection table.
	URL      string
	Username string
	Password string

	// SectionXPath locates the heading of the detection section.
	// Default: //h3[contains(text(), 'Plates')].
	SectionXPath string
	// RowSelector matches a rendered data row. Default: "tbody tr".
	RowSelector string
	// TableClass identifies the detection table. Default: extract.DefaultTableClass.
	TableClass string

	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string
	// Bin overrides the Chrome binary used by the launcher.
	Bin string
	// Headful shows the browser window.
	Headful bool
	// NoStealth opens plain pages instead of stealth pages.
	NoStealth bool

	// LoginAttempts bounds the login sequence. Default: 3.
	LoginAttempts int
	// RetryDelay separates login attempts. Default: 5s.
	RetryDelay time.Duration
	// LoadTimeout bounds the wait for document.readyState. Default: 30s.
	LoadTimeout time.Duration
	// SectionTimeout bounds the wait for the section heading. Default: 60s.
	SectionTimeout time.Duration
	// RowsTimeout bounds the wait for a data row. Default: 30s.
	RowsTimeout time.Duration
	// SettleDelay lets the table finish updating before capture. Default: 5s.
	SettleDelay time.Duration
	// LoginSettle follows a successful login. Default: 3s.
	LoginSettle time.Duration
	// RecreatePause separates teardown from reconnect. Default: 2s.
	RecreatePause time.Duration
	// ProbeTimeout bounds the IsLive probe. Default: 5s.
	ProbeTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.SectionXPath == "" {
		c.SectionXPath = "//h3[contains(text(), 'Plates')]"
	}
	if c.RowSelector == "" {
		c.RowSelector = "tbody tr"
	}
	if c.TableClass == "" {
		c.TableClass = extract.DefaultTableClass
	}
	if c.LoginAttempts <= 0 {
		c.LoginAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.SectionTimeout <= 0 {
		c.SectionTimeout = 60 * time.Second
	}
	if c.RowsTimeout <= 0 {
		c.RowsTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 5 * time.Second
	}
	if c.LoginSettle <= 0 {
		c.LoginSettle = 3 * time.Second
	}
	if c.RecreatePause <= 0 {
		c.RecreatePause = 2 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// authURL folds the credentials into the page URL.
func (c *Config) authURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("browser: parse url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("browser: url %q is not absolute", c.URL)
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String(), nil
}

// driver is the subset of a Chrome page a Session needs.
type driver interface {
	Navigate(ctx context.Context, target string) error
	Reload(ctx context.Context) error
	ReadyState(ctx context.Context) (string, error)
	WaitXPath(ctx context.Context, xpath string) error
	WaitSelector(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	// Capture screenshots the first <img> of target in a separate tab.
	Capture(ctx context.Context, target string) ([]byte, error)
	Close() error
}

type dialFunc func(ctx context.Context, cfg Config) (driver, error)

// Session is one authenticated render session. A Session is driven by a
// single goroutine; State may be read concurrently.
type Session struct {
	cfg  Config
	dial dialFunc

	mu     sync.Mutex
	drv    driver
	closed bool
	state  atomic.Int32
}

// NewSession creates a Session. Call Connect to log in.
func NewSession(cfg Config) *Session {
	return newSession(cfg, dialRod)
}

func newSession(cfg Config, dial dialFunc) *Session {
	cfg.defaults()
	return &Session{cfg: cfg, dial: dial}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.cfg.Logger.Debug("browser: state", "from", old, "to", st)
	}
}

// Connect launches the browser and logs in, retrying with a constant delay.
// After the last failed attempt the Session is dead and Connect returns an
// *AuthError.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.State() == StateDead {
		return ErrSessionDead
	}
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	log := s.cfg.Logger
	s.setState(StateAuthenticating)

	target, err := s.cfg.authURL()
	if err != nil {
		s.setState(StateDead)
		return &AuthError{Err: err}
	}

	bo := backoff.NewConstantBackOff(s.cfg.RetryDelay)
	var (
		lastErr  error
		attempts int
	)
	for attempts < s.cfg.LoginAttempts {
		attempts++
		lastErr = s.login(ctx, target)
		if lastErr == nil {
			s.setState(StateLive)
			log.Info("browser: session live", "attempt", attempts)
			return nil
		}
		log.Warn("browser: login attempt failed",
			"attempt", attempts, "max", s.cfg.LoginAttempts, "error", lastErr)
		if ctx.Err() != nil || attempts == s.cfg.LoginAttempts {
			break
		}
		if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
			lastErr = err
			break
		}
	}

	s.teardownLocked()
	s.setState(StateDead)
	return &AuthError{Attempts: attempts, Err: lastErr}
}

func (s *Session) login(ctx context.Context, target string) error {
	if s.drv == nil {
		d, err := s.dial(ctx, s.cfg)
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		s.drv = d
	}
	if err := s.drv.Navigate(ctx, target); err != nil {
		return fmt.Errorf("browser: navigate: %w", err)
	}
	if err := s.waitReady(ctx); err != nil {
		return err
	}
	return sleepCtx(ctx, s.cfg.LoginSettle)
}

// IsLive probes the page. A failed probe moves a live Session to Degraded.
func (s *Session) IsLive(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLiveLocked(ctx)
}

func (s *Session) isLiveLocked(ctx context.Context) bool {
	if s.closed || s.drv == nil || s.State() != StateLive {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	if _, err := s.drv.ReadyState(pctx); err != nil {
		s.cfg.Logger.Warn("browser: liveness probe failed", "error", err)
		s.setState(StateDegraded)
		return false
	}
	return true
}

// Refresh reloads the page, waits for the detection table and returns the
// rendered document. A live session is probed first and recreated when the
// probe fails. A wait timeout triggers one Recreate and one more try.
func (s *Session) Refresh(ctx context.Context) (extract.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.cfg.Logger

	if s.closed {
		return nil, &RefreshError{Err: ErrSessionClosed}
	}
	switch s.State() {
	case StateDead:
		return nil, &RefreshError{Err: ErrSessionDead}
	case StateLive:
		if !s.isLiveLocked(ctx) {
			if err := ctx.Err(); err != nil {
				return nil, &RefreshError{Err: err}
			}
			log.Warn("browser: session not responding, recreating before refresh")
			if err := s.recreateLocked(ctx); err != nil {
				return nil, &RefreshError{Err: err}
			}
		}
	default:
		log.Info("browser: session not live, recreating before refresh", "state", s.State())
		if err := s.recreateLocked(ctx); err != nil {
			return nil, &RefreshError{Err: err}
		}
	}

	doc, err := s.refreshOnce(ctx)
	if err == nil {
		return doc, nil
	}
	if errors.Is(err, ErrWaitTimeout) && ctx.Err() == nil {
		log.Warn("browser: refresh wait timed out, recreating", "error", err)
		if rerr := s.recreateLocked(ctx); rerr != nil {
			return nil, &RefreshError{Err: rerr}
		}
		doc, err = s.refreshOnce(ctx)
		if err == nil {
			return doc, nil
		}
	}
	if s.State() == StateLive {
		s.setState(StateDegraded)
	}
	return nil, &RefreshError{Err: err}
}

func (s *Session) refreshOnce(ctx context.Context) (extract.Document, error) {
	start := time.Now()
	if err := s.drv.Reload(ctx); err != nil {
		return nil, fmt.Errorf("browser: reload: %w", err)
	}
	if err := s.waitReady(ctx); err != nil {
		return nil, err
	}
	if err := s.wait(ctx, "section", s.cfg.SectionTimeout, func(ctx context.Context) error {
		return s.drv.WaitXPath(ctx, s.cfg.SectionXPath)
	}); err != nil {
		return nil, err
	}
	if err := s.wait(ctx, "rows", s.cfg.RowsTimeout, func(ctx context.Context) error {
		return s.drv.WaitSelector(ctx, s.cfg.RowSelector)
	}); err != nil {
		return nil, err
	}
	if err := sleepCtx(ctx, s.cfg.SettleDelay); err != nil {
		return nil, err
	}

	raw, err := s.drv.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("browser: read html: %w", err)
	}
	doc, err := extract.ParseHTML([]byte(raw), s.cfg.TableClass)
	if err != nil {
		return nil, err
	}
	s.cfg.Logger.Debug("browser: page refreshed", "bytes", len(raw), "took", time.Since(start))
	return doc, nil
}

// Recreate tears the driver down and logs in again. Failure leaves the
// Session dead.
func (s *Session) Recreate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.State() == StateDead {
		return ErrSessionDead
	}
	return s.recreateLocked(ctx)
}

func (s *Session) recreateLocked(ctx context.Context) error {
	s.cfg.Logger.Info("browser: recreating session")
	s.teardownLocked()
	s.setState(StateUninitialized)
	if err := sleepCtx(ctx, s.cfg.RecreatePause); err != nil {
		return err
	}
	return s.connectLocked(ctx)
}

// CaptureImage screenshots the image at target as JPEG without touching
// the main page.
func (s *Session) CaptureImage(ctx context.Context, target string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.drv == nil {
		return nil, ErrNotConnected
	}
	data, err := s.drv.Capture(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("browser: capture %s: %w", target, err)
	}
	return data, nil
}

// Close releases the browser. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.teardownLocked()
	s.cfg.Logger.Info("browser: session closed")
}

func (s *Session) teardownLocked() {
	if s.drv == nil {
		return
	}
	if err := s.drv.Close(); err != nil {
		s.cfg.Logger.Warn("browser: close driver", "error", err)
	}
	s.drv = nil
}

func (s *Session) waitReady(ctx context.Context) error {
	return s.wait(ctx, "ready", s.cfg.LoadTimeout, func(ctx context.Context) error {
		for {
			st, err := s.drv.ReadyState(ctx)
			if err == nil && st == "complete" {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readyPollInterval):
			}
		}
	})
}

const readyPollInterval = 100 * time.Millisecond

// wait runs fn under timeout. Running out of time yields ErrWaitTimeout;
// cancellation of ctx itself is returned as is.
func (s *Session) wait(ctx context.Context, what string, timeout time.Duration, fn func(context.Context) error) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(wctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wctx.Err() != nil {
		return fmt.Errorf("browser: wait %s after %s: %w", what, timeout, ErrWaitTimeout)
	}
	return fmt.Errorf("browser: wait %s: %w", what, err)
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
