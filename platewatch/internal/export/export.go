// Package export writes accepted snapshots as timestamped CSV and JSON
// files in the data directory.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/plates/horosafe"
	"github.com/hazyhaar/plates/platewatch/detection"
)

// TimestampLayout names export files.
const TimestampLayout = "20060102_150405"

// Files are the paths written for one snapshot.
type Files struct {
	CSV  string
	JSON string
}

// Write exports snap into dir. Empty snapshots are not written.
func Write(dir string, snap detection.Snapshot) (Files, error) {
	if snap.Empty() {
		return Files{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("export: mkdir %s: %w", dir, err)
	}
	base := "detections_" + snap.CapturedAt.Format(TimestampLayout)
	files := Files{
		CSV:  filepath.Join(dir, base+".csv"),
		JSON: filepath.Join(dir, base+".json"),
	}

	csvData, err := encodeCSV(snap)
	if err != nil {
		return Files{}, err
	}
	if err := horosafe.WriteFileAtomic(files.CSV, csvData, 0o644); err != nil {
		return Files{}, fmt.Errorf("export: csv: %w", err)
	}

	jsonData, err := json.MarshalIndent(snap.Detections, "", "  ")
	if err != nil {
		return Files{}, fmt.Errorf("export: marshal json: %w", err)
	}
	if err := horosafe.WriteFileAtomic(files.JSON, jsonData, 0o644); err != nil {
		return Files{}, fmt.Errorf("export: json: %w", err)
	}
	return files, nil
}

// encodeCSV writes one column per observed target column, in header order.
func encodeCSV(snap detection.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(snap.Schema); err != nil {
		return nil, fmt.Errorf("export: csv header: %w", err)
	}
	row := make([]string, len(snap.Schema))
	for _, d := range snap.Detections {
		for i, col := range snap.Schema {
			switch col {
			case detection.ColumnPlate:
				row[i] = d.Plate
			case detection.ColumnMake:
				row[i] = d.Make.String()
			case detection.ColumnModel:
				row[i] = d.Model.String()
			}
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("export: csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export: csv flush: %w", err)
	}
	return buf.Bytes(), nil
}
