package platewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/hazyhaar/plates/platewatch/detection"
	"github.com/hazyhaar/plates/platewatch/internal/browser"
	"github.com/hazyhaar/plates/platewatch/internal/enrich"
	"github.com/hazyhaar/plates/platewatch/internal/export"
	"github.com/hazyhaar/plates/platewatch/internal/images"
	"github.com/hazyhaar/plates/platewatch/internal/recognizer"
	"github.com/hazyhaar/plates/platewatch/internal/sink"
	"github.com/hazyhaar/plates/platewatch/internal/store"
)

// ErrLocked is returned when another instance holds the data directory.
var ErrLocked = errors.New("platewatch: data directory is locked by another instance")

// Service wires a Poller to its image store, recognizer, sinks, history
// database and status server.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	lock    *flock.Flock
	history *store.Store
	images  *images.Store
	out     *sink.Router
	poller  *Poller
}

type serviceOptions struct {
	factory SessionFactory
	sinks   []Sink
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

// WithSessionFactory replaces the Rod-backed render session.
func WithSessionFactory(f SessionFactory) ServiceOption {
	return func(o *serviceOptions) { o.factory = f }
}

// WithSinks adds sinks next to the configured ones.
func WithSinks(sinks ...Sink) ServiceOption {
	return func(o *serviceOptions) { o.sinks = append(o.sinks, sinks...) }
}

// NewService builds a Service from cfg. It takes an exclusive lock on the
// data directory; Close releases it.
func NewService(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("platewatch: data dir: %w", err)
	}
	lock := flock.New(filepath.Join(dataDir, "platewatch.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("platewatch: lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	s := &Service{cfg: cfg, logger: logger, lock: lock}
	if err := s.build(o); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(o serviceOptions) error {
	cfg := s.cfg

	imgs, err := images.NewStore(cfg.Storage.ImagesDir, images.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("platewatch: %w", err)
	}
	s.images = imgs

	history, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("platewatch: %w", err)
	}
	s.history = history

	var sinks []Sink
	if cfg.Sink.URL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.Sink.URL, cfg.Sink.Timeout, s.logger))
	}
	if cfg.Sink.Stdout {
		sinks = append(sinks, NewStdoutSink(nil))
	}
	sinks = append(sinks, o.sinks...)
	s.out = sink.NewRouter(s.logger, sinks...)

	dopts := []enrich.Option{enrich.WithHistory(history)}
	if cfg.Recognizer.Token != "" {
		rc := cfg.Recognizer
		dopts = append(dopts, enrich.WithRecognizer(recognizer.New(recognizer.Config{
			URL:          rc.URL,
			Token:        rc.Token,
			Regions:      rc.Regions,
			StrictRegion: deref(rc.StrictRegion),
			MMC:          deref(rc.MMC),
			Timeout:      rc.Timeout,
			Rate:         rc.Rate,
			Logger:       s.logger,
		})))
	} else {
		s.logger.Info("platewatch: no recognizer token, enrichment disabled")
	}
	dispatcher := enrich.New(enrich.Config{
		FallbackMake:  cfg.Recognizer.FallbackMake,
		FallbackModel: cfg.Recognizer.FallbackModel,
		Logger:        s.logger,
	}, imgs, s.out, dopts...)

	factory := o.factory
	if factory == nil {
		bcfg := browserConfig(cfg, s.logger)
		factory = func() Session { return browser.NewSession(bcfg) }
	}

	s.poller = NewPoller(PollerConfig{
		BaseURL:          cfg.Source.URL,
		Interval:         cfg.Poll.Interval,
		MaxAttempts:      cfg.Poll.MaxAttempts,
		RetryDelay:       cfg.Poll.RetryDelay,
		EscalateAfter:    cfg.Poll.EscalateAfter,
		ForceRecognition: cfg.Poll.ForceRecognition,
		Logger:           s.logger,
	}, factory, dispatcher,
		WithImageFetcher(imgs),
		WithArchiver(&archiver{dir: cfg.Storage.DataDir, history: history}),
	)
	return nil
}

func browserConfig(cfg *Config, logger *slog.Logger) browser.Config {
	return browser.Config{
		URL:            cfg.Source.URL,
		Username:       cfg.Source.Username,
		Password:       cfg.Source.Password,
		SectionXPath:   cfg.Source.SectionXPath,
		RowSelector:    cfg.Source.RowSelector,
		TableClass:     cfg.Source.TableClass,
		RemoteURL:      cfg.Browser.Remote,
		Bin:            cfg.Browser.Bin,
		Headful:        !deref(cfg.Browser.Headless),
		NoStealth:      !deref(cfg.Browser.Stealth),
		LoginAttempts:  cfg.Browser.LoginAttempts,
		RetryDelay:     cfg.Poll.RetryDelay,
		LoadTimeout:    cfg.Browser.LoadTimeout,
		SectionTimeout: cfg.Browser.SectionTimeout,
		RowsTimeout:    cfg.Browser.RowsTimeout,
		SettleDelay:    cfg.Browser.SettleDelay,
		LoginSettle:    cfg.Browser.LoginSettle,
		RecreatePause:  cfg.Browser.RecreatePause,
		Logger:         logger,
	}
}

func deref(b *bool) bool { return b != nil && *b }

// Run polls until ctx is cancelled. When a status address is configured
// the HTTP status server runs alongside the poller.
func (s *Service) Run(ctx context.Context) error {
	if addr := s.cfg.Status.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.logger.Info("platewatch: status server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("platewatch: status server", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}
	return s.poller.Run(ctx)
}

// Poller returns the underlying poll loop.
func (s *Service) Poller() *Poller { return s.poller }

// History returns the dispatch and snapshot history.
func (s *Service) History() *store.Store { return s.history }

// Close releases the sinks, the history database and the data directory
// lock.
func (s *Service) Close() error {
	var errs []error
	if s.out != nil {
		errs = append(errs, s.out.Close())
	}
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	return errors.Join(errs...)
}

// archiver exports accepted snapshots to CSV and JSON and records them in
// the history database.
type archiver struct {
	dir     string
	history *store.Store
}

func (a *archiver) Archive(ctx context.Context, snap detection.Snapshot) error {
	var errs []error
	if _, err := export.Write(a.dir, snap); err != nil {
		errs = append(errs, err)
	}
	if err := a.history.SaveSnapshot(ctx, snap); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
