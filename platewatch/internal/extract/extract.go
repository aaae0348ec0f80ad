// Package extract turns one rendered detection-table document into a
// Snapshot of typed Detections plus the image fetches its rows call for.
//
// Extraction fails soft: a missing table, a missing body or a table with no
// visible rows yields OutcomeEmpty rather than an error, and a broken row is
// logged, counted and skipped without aborting the snapshot.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/plates/platewatch/detection"
)

// ErrExtractionMiss is returned by callers that need an error for an empty
// outcome. Extract itself reports emptiness through Result.Outcome.
var ErrExtractionMiss = errors.New("extract: no usable table rows")

// Outcome tags an extraction result.
type Outcome int

const (
	OutcomeEmpty Outcome = iota // no usable data; not a failure of the parser
	OutcomeOK
)

func (o Outcome) String() string {
	if o == OutcomeOK {
		return "ok"
	}
	return "empty"
}

// ImageRequest asks the image store to materialise the artifact of a plate.
type ImageRequest struct {
	Plate string
	URL   string
}

// Stats counts what happened to the rows of one document.
type Stats struct {
	Rows          int // body rows seen
	Hidden        int
	NoCells       int
	NoPlate       int
	RowErrors     int
	Duplicates    int
	Kept          int
	ImageRequests int
}

// Result is the output of one extraction.
type Result struct {
	Outcome  Outcome
	Reason   string // why the outcome is empty
	Snapshot detection.Snapshot
	Images   []ImageRequest
	Stats    Stats
}

// Options controls extraction.
type Options struct {
	// BaseURL resolves relative image sources.
	BaseURL string
	// NewID generates snapshot IDs. Nil leaves the ID empty.
	NewID func() string
	// Now stamps the snapshot. Default: time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Extract reads the detection table out of doc.
func Extract(doc Document, opts Options) *Result {
	opts.defaults()
	log := opts.Logger

	table, ok := doc.FindTable()
	if !ok {
		return empty("table not found")
	}
	rows, ok := table.Body()
	if !ok {
		return empty("table has no body")
	}
	visible := 0
	for _, r := range rows {
		if !r.Hidden() {
			visible++
		}
	}
	if visible == 0 {
		return empty("no visible rows")
	}

	cols, imageCol := discoverColumns(table.Headers())
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		log.Warn("extract: invalid base URL, image requests disabled", "error", err)
		base = nil
	}

	res := &Result{}
	byPlate := make(map[string]int)
	imageOf := make(map[string]int)
	var dets []detection.Detection

	for i, row := range rows {
		res.Stats.Rows++
		if row.Hidden() {
			res.Stats.Hidden++
			continue
		}
		cells := row.Cells()
		if len(cells) == 0 {
			res.Stats.NoCells++
			continue
		}

		det, img, err := readRow(cells, cols, imageCol, base, log)
		if err != nil {
			res.Stats.RowErrors++
			log.Warn("extract: row skipped", "row", i, "error", err)
			continue
		}
		if det.Plate == "" {
			res.Stats.NoPlate++
			continue
		}

		if idx, dup := byPlate[det.Plate]; dup {
			// Last values win; the row keeps its first position.
			res.Stats.Duplicates++
			dets[idx] = det
		} else {
			byPlate[det.Plate] = len(dets)
			dets = append(dets, det)
		}
		if img != nil {
			if idx, ok := imageOf[img.Plate]; ok {
				res.Images[idx] = *img
			} else {
				imageOf[img.Plate] = len(res.Images)
				res.Images = append(res.Images, *img)
			}
		}
	}

	res.Stats.Kept = len(dets)
	res.Stats.ImageRequests = len(res.Images)
	if len(dets) == 0 {
		r := empty("no valid data rows")
		r.Stats = res.Stats
		return r
	}

	schema := make(detection.Schema, 0, len(cols))
	for _, c := range cols {
		schema = append(schema, c.name)
	}

	res.Outcome = OutcomeOK
	res.Snapshot = detection.Snapshot{
		CapturedAt: opts.Now(),
		Schema:     schema,
		Detections: dets,
	}
	if opts.NewID != nil {
		res.Snapshot.ID = opts.NewID()
	}

	log.Debug("extract: snapshot extracted",
		"rows", res.Stats.Rows, "kept", res.Stats.Kept,
		"hidden", res.Stats.Hidden, "row_errors", res.Stats.RowErrors,
		"images", res.Stats.ImageRequests)
	return res
}

func empty(reason string) *Result {
	return &Result{Outcome: OutcomeEmpty, Reason: reason}
}

type column struct {
	name  string
	index int
}

// discoverColumns keeps the visible target headers in document order and
// locates the image column. A target header missing from the page is
// simply absent from the schema.
func discoverColumns(headers []Cell) ([]column, int) {
	var cols []column
	imageCol := -1
	seen := make(map[string]bool)
	for i, h := range headers {
		text := h.Text()
		if text == detection.ColumnImage && imageCol < 0 {
			imageCol = i
			continue
		}
		if h.Hidden() || seen[text] {
			continue
		}
		for _, target := range detection.TargetColumns {
			if text == target {
				cols = append(cols, column{name: text, index: i})
				seen[text] = true
				break
			}
		}
	}
	return cols, imageCol
}

// readRow converts one visible row. Panics from a misbehaving Document are
// turned into row errors.
func readRow(cells []Cell, cols []column, imageCol int, base *url.URL, log *slog.Logger) (det detection.Detection, img *ImageRequest, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract: row panic: %v", r)
		}
	}()

	for _, c := range cols {
		if c.index >= len(cells) {
			continue
		}
		text := cells[c.index].Text()
		switch c.name {
		case detection.ColumnPlate:
			det.Plate = text
		case detection.ColumnMake:
			if text != "" {
				det.Make = detection.Some(text)
			}
		case detection.ColumnModel:
			if text != "" {
				det.Model = detection.Some(text)
			}
		}
	}
	if det.Plate == "" {
		return det, nil, nil
	}

	if imageCol >= 0 && imageCol < len(cells) && base != nil {
		if src, ok := cells[imageCol].ImageSource(); ok {
			ref, perr := url.Parse(strings.TrimSpace(src))
			if perr != nil {
				log.Warn("extract: bad image src", "plate", det.Plate, "src", src, "error", perr)
				return det, nil, nil
			}
			img = &ImageRequest{Plate: det.Plate, URL: base.ResolveReference(ref).String()}
		}
	}
	return det, img, nil
}
