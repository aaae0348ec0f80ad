// Package diff computes the rows that are new or changed between two
// snapshots of the detection table.
package diff

import (
	"github.com/hazyhaar/plates/platewatch/detection"
)

// Change is the outcome of comparing two snapshots.
type Change struct {
	// Changed holds the symmetric difference: rows only in the current
	// snapshot (current render order) followed by rows only in the
	// previous snapshot (previous render order).
	Changed []detection.Detection
	// Different is false iff both snapshots hold the same row set.
	Different bool
	// SchemaDrift is set when the column set moved between snapshots and
	// the whole current snapshot was treated as changed.
	SchemaDrift bool
	// Baseline is false when there was no previous snapshot.
	Baseline bool

	current map[detection.Detection]struct{}
}

// MostRecent returns the first changed row in current render order.
// Rows that only exist in the previous snapshot are never returned: a
// removal carries no new observation.
func (c Change) MostRecent() (detection.Detection, bool) {
	for _, d := range c.Changed {
		if _, ok := c.current[d]; ok {
			return d, true
		}
	}
	return detection.Detection{}, false
}

// Diff compares prev (nil when nothing was accepted yet) against cur.
func Diff(prev *detection.Snapshot, cur detection.Snapshot) Change {
	curSet := setOf(cur.Detections)

	if prev == nil {
		return Change{
			Changed:   clone(cur.Detections),
			Different: !cur.Empty(),
			current:   curSet,
		}
	}

	if !prev.Schema.Equal(cur.Schema) {
		return Change{
			Changed:     clone(cur.Detections),
			Different:   true,
			SchemaDrift: true,
			Baseline:    true,
			current:     curSet,
		}
	}

	prevSet := setOf(prev.Detections)
	var changed []detection.Detection
	for _, d := range cur.Detections {
		if _, ok := prevSet[d]; !ok {
			changed = append(changed, d)
		}
	}
	for _, d := range prev.Detections {
		if _, ok := curSet[d]; !ok {
			changed = append(changed, d)
		}
	}

	return Change{
		Changed:   dedup(changed),
		Different: len(changed) > 0,
		Baseline:  true,
		current:   curSet,
	}
}

func setOf(rows []detection.Detection) map[detection.Detection]struct{} {
	set := make(map[detection.Detection]struct{}, len(rows))
	for _, d := range rows {
		set[d] = struct{}{}
	}
	return set
}

func clone(rows []detection.Detection) []detection.Detection {
	if len(rows) == 0 {
		return nil
	}
	return dedup(append([]detection.Detection(nil), rows...))
}

// dedup drops repeated rows, keeping first occurrence order.
func dedup(rows []detection.Detection) []detection.Detection {
	seen := make(map[detection.Detection]struct{}, len(rows))
	out := rows[:0]
	for _, d := range rows {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
