// Package detection defines the value types that flow through the
// platewatch pipeline: a Detection is one plate row, a Snapshot is one
// rendered table read, a FinalRecord is what leaves the process.
package detection

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Target column names. The upstream table may carry more columns; only
// these are extracted.
const (
	ColumnPlate = "Plate"
	ColumnMake  = "Make"
	ColumnModel = "Model"
	ColumnImage = "Image"
)

// TargetColumns lists the extracted columns in canonical order.
var TargetColumns = []string{ColumnPlate, ColumnMake, ColumnModel}

// Attr is an optional string attribute. The zero value is "absent".
// Attr is comparable, so Detections can be map keys.
type Attr struct {
	Value string
	Set   bool
}

// Some returns a present attribute.
func Some(v string) Attr { return Attr{Value: v, Set: true} }

// None returns an absent attribute.
func None() Attr { return Attr{} }

// Missing reports whether the attribute is absent or blank.
func (a Attr) Missing() bool {
	return !a.Set || strings.TrimSpace(a.Value) == ""
}

// Or returns a if present and non-blank, otherwise fallback.
func (a Attr) Or(fallback Attr) Attr {
	if a.Missing() {
		return fallback
	}
	return a
}

// String renders the attribute for logs and exports; absent is "".
func (a Attr) String() string {
	if !a.Set {
		return ""
	}
	return a.Value
}

// MarshalJSON encodes an absent attribute as null.
func (a Attr) MarshalJSON() ([]byte, error) {
	if !a.Set {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value)
}

// UnmarshalJSON decodes null as absent.
func (a *Attr) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Attr{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = Some(s)
	return nil
}

// Detection is one plate observation. Two Detections are identical iff all
// three fields match.
type Detection struct {
	Plate string `json:"plate"`
	Make  Attr   `json:"make"`
	Model Attr   `json:"model"`
}

// NeedsEnrichment reports whether make or model is missing.
func (d Detection) NeedsEnrichment() bool {
	return d.Make.Missing() || d.Model.Missing()
}

// Schema is the ordered list of target columns observed in one render.
type Schema []string

// Has reports whether column was observed.
func (s Schema) Has(column string) bool {
	for _, c := range s {
		if c == column {
			return true
		}
	}
	return false
}

// Equal compares two schemas as sets.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for _, c := range s {
		if !other.Has(c) {
			return false
		}
	}
	return true
}

// Snapshot is the ordered set of Detections read from one render.
// Snapshots are replaced wholesale, never mutated.
type Snapshot struct {
	ID         string      `json:"id"`
	CapturedAt time.Time   `json:"captured_at"`
	Schema     Schema      `json:"schema"`
	Detections []Detection `json:"detections"`
}

// Len returns the number of rows.
func (s Snapshot) Len() int { return len(s.Detections) }

// Empty reports whether the snapshot has no rows.
func (s Snapshot) Empty() bool { return len(s.Detections) == 0 }

// FinalRecord is the canonical record forwarded downstream.
type FinalRecord struct {
	Plate string `json:"plate"`
	Make  Attr   `json:"make"`
	Model Attr   `json:"model"`
}

// Record converts a Detection verbatim.
func (d Detection) Record() FinalRecord {
	return FinalRecord{Plate: d.Plate, Make: d.Make, Model: d.Model}
}

// Enrichment tells how a dispatched record got its make and model.
type Enrichment string

const (
	EnrichSkipped    Enrichment = "skipped"    // make and model already present
	EnrichNoImage    Enrichment = "no_image"   // no stored image for the plate
	EnrichDisabled   Enrichment = "disabled"   // no recognizer configured
	EnrichRecognized Enrichment = "recognized" // recognition call succeeded
	EnrichFailed     Enrichment = "failed"     // recognition call failed; fallbacks applied
)

// Dispatch is the history entry of one record sent downstream.
type Dispatch struct {
	ID         string        `json:"id"`
	SnapshotID string        `json:"snapshot_id,omitempty"`
	At         time.Time     `json:"at"`
	Source     Detection     `json:"source"`
	Record     FinalRecord   `json:"record"`
	Enrichment Enrichment    `json:"enrichment"`
	Delivered  bool          `json:"delivered"`
	Error      string        `json:"error,omitempty"`
	Recognize  time.Duration `json:"recognize_ns"`
	Deliver    time.Duration `json:"deliver_ns"`
}
