// Package enrich turns a changed Detection into the FinalRecord sent
// downstream, calling the recognition API when make or model is missing.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/plates/idgen"
	"github.com/hazyhaar/plates/platewatch/detection"
	"github.com/hazyhaar/plates/platewatch/internal/recognizer"
	"github.com/hazyhaar/plates/platewatch/internal/sink"
)

// Recognizer identifies the vehicle in a stored image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (*recognizer.Result, error)
}

// ImageLookup finds the stored image of a plate.
type ImageLookup interface {
	Lookup(plate string) (string, bool)
}

// Recorder keeps dispatch history.
type Recorder interface {
	RecordDispatch(ctx context.Context, d detection.Dispatch) error
}

// Config configures a Dispatcher.
type Config struct {
	// FallbackMake and FallbackModel fill fields that neither recognition
	// nor the detection could provide. Empty leaves the field absent.
	FallbackMake  string
	FallbackModel string

	NewID  idgen.Generator
	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("dsp_", idgen.UUIDv7())
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dispatcher enriches and forwards records. It never fails: recognition and
// delivery errors are logged and recorded in history.
type Dispatcher struct {
	cfg     Config
	images  ImageLookup
	rec     Recognizer
	out     sink.Sink
	history Recorder
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecognizer enables enrichment. Without it records are forwarded as
// detected.
func WithRecognizer(r Recognizer) Option {
	return func(d *Dispatcher) { d.rec = r }
}

// WithHistory records every dispatch.
func WithHistory(r Recorder) Option {
	return func(d *Dispatcher) { d.history = r }
}

// New creates a Dispatcher delivering to out.
func New(cfg Config, images ImageLookup, out sink.Sink, opts ...Option) *Dispatcher {
	cfg.defaults()
	d := &Dispatcher{cfg: cfg, images: images, out: out}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Process enriches det if forced or if make or model is missing, sends the
// resulting record downstream and returns it.
func (d *Dispatcher) Process(ctx context.Context, det detection.Detection, force bool) detection.FinalRecord {
	return d.process(ctx, "", det, force)
}

// ProcessFor is Process with the originating snapshot recorded in history.
func (d *Dispatcher) ProcessFor(ctx context.Context, snapshotID string, det detection.Detection, force bool) detection.FinalRecord {
	return d.process(ctx, snapshotID, det, force)
}

func (d *Dispatcher) process(ctx context.Context, snapshotID string, det detection.Detection, force bool) detection.FinalRecord {
	log := d.cfg.Logger.With("plate", det.Plate)
	disp := detection.Dispatch{
		ID:         d.cfg.NewID(),
		SnapshotID: snapshotID,
		At:         d.cfg.Now(),
		Source:     det,
		Record:     det.Record(),
		Enrichment: detection.EnrichSkipped,
	}

	if force || det.NeedsEnrichment() {
		start := time.Now()
		disp.Record, disp.Enrichment = d.enrich(ctx, log, det)
		disp.Recognize = time.Since(start)
		log.Info("enrich: enrichment done", "outcome", disp.Enrichment,
			"make", disp.Record.Make.String(), "model", disp.Record.Model.String(),
			"took", disp.Recognize)
	} else {
		log.Info("enrich: make and model present, skipping recognition",
			"make", det.Make.String(), "model", det.Model.String())
	}

	start := time.Now()
	err := d.out.Send(ctx, disp.Record)
	disp.Deliver = time.Since(start)
	if err != nil {
		disp.Error = err.Error()
		var de *sink.DispatchError
		if errors.As(err, &de) && de.Status != 0 {
			log.Warn("enrich: downstream rejected record", "status", de.Status, "error", err)
		} else {
			log.Warn("enrich: downstream delivery failed", "error", err)
		}
	} else {
		disp.Delivered = true
	}
	log.Info("enrich: dispatched", "delivered", disp.Delivered,
		"recognize_took", disp.Recognize, "deliver_took", disp.Deliver,
		"total", disp.Recognize+disp.Deliver)

	if d.history != nil {
		if err := d.history.RecordDispatch(ctx, disp); err != nil {
			log.Warn("enrich: record dispatch history", "error", err)
		}
	}
	return disp.Record
}

func (d *Dispatcher) enrich(ctx context.Context, log *slog.Logger, det detection.Detection) (detection.FinalRecord, detection.Enrichment) {
	if d.rec == nil {
		return det.Record(), detection.EnrichDisabled
	}
	path, ok := d.images.Lookup(det.Plate)
	if !ok {
		log.Warn("enrich: no stored image, forwarding as detected")
		return det.Record(), detection.EnrichNoImage
	}

	fallbackMake := attr(d.cfg.FallbackMake)
	fallbackModel := attr(d.cfg.FallbackModel)

	res, err := d.rec.Recognize(ctx, path)
	if err != nil {
		log.Warn("enrich: recognition failed, applying fallbacks", "error", err)
		return detection.FinalRecord{
			Plate: det.Plate,
			Make:  det.Make.Or(fallbackMake),
			Model: det.Model.Or(fallbackModel),
		}, detection.EnrichFailed
	}
	return detection.FinalRecord{
		Plate: det.Plate,
		Make:  res.Make.Or(det.Make.Or(fallbackMake)),
		Model: res.Model.Or(det.Model.Or(fallbackModel)),
	}, detection.EnrichRecognized
}

func attr(s string) detection.Attr {
	if s == "" {
		return detection.None()
	}
	return detection.Some(s)
}
