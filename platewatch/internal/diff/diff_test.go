package diff

import (
	"testing"

	"github.com/hazyhaar/plates/platewatch/detection"
)

var fullSchema = detection.Schema{detection.ColumnPlate, detection.ColumnMake, detection.ColumnModel}

func snap(rows ...detection.Detection) detection.Snapshot {
	return detection.Snapshot{Schema: fullSchema, Detections: rows}
}

var (
	corolla = detection.Detection{Plate: "ABC123", Make: detection.Some("Toyota"), Model: detection.Some("Corolla")}
	unknown = detection.Detection{Plate: "XYZ999"}
	civic   = detection.Detection{Plate: "HND001", Make: detection.Some("Honda"), Model: detection.Some("Civic")}
)

func TestDiff_NoPrevious(t *testing.T) {
	cur := snap(corolla, unknown)
	c := Diff(nil, cur)
	if !c.Different {
		t.Fatal("first snapshot should be different")
	}
	if len(c.Changed) != 2 || c.Changed[0] != corolla || c.Changed[1] != unknown {
		t.Errorf("Changed = %+v, want all current rows in order", c.Changed)
	}
	if c.Baseline {
		t.Error("Baseline should be false without a previous snapshot")
	}
}

func TestDiff_Identical(t *testing.T) {
	a := snap(corolla, unknown)
	c := Diff(&a, a)
	if c.Different || len(c.Changed) != 0 {
		t.Errorf("diff(A, A) = %+v, want no change", c)
	}
}

func TestDiff_OrderIndependent(t *testing.T) {
	a := snap(corolla, unknown, civic)
	b := snap(civic, corolla, unknown)
	if c := Diff(&a, b); c.Different {
		t.Errorf("reordered rows should not be different: %+v", c.Changed)
	}
}

func TestDiff_SymmetricDifference(t *testing.T) {
	prev := snap(corolla)
	cur := snap(corolla, unknown)

	c := Diff(&prev, cur)
	if !c.Different {
		t.Fatal("expected a difference")
	}
	if len(c.Changed) != 1 || c.Changed[0] != unknown {
		t.Errorf("Changed = %+v, want [XYZ999]", c.Changed)
	}
}

func TestDiff_ChangedAttributeIsNewRow(t *testing.T) {
	prev := snap(unknown)
	enriched := detection.Detection{Plate: "XYZ999", Make: detection.Some("Mazda"), Model: detection.None()}
	cur := snap(enriched)

	c := Diff(&prev, cur)
	if len(c.Changed) != 2 {
		t.Fatalf("Changed = %+v, want both versions of the row", c.Changed)
	}
	if c.Changed[0] != enriched || c.Changed[1] != unknown {
		t.Errorf("current rows must come first: %+v", c.Changed)
	}
	got, ok := c.MostRecent()
	if !ok || got != enriched {
		t.Errorf("MostRecent = %+v, %v; want the current version", got, ok)
	}
}

func TestDiff_SchemaDrift(t *testing.T) {
	prev := snap(corolla)
	cur := detection.Snapshot{
		Schema:     detection.Schema{detection.ColumnPlate},
		Detections: []detection.Detection{{Plate: "ABC123"}},
	}
	c := Diff(&prev, cur)
	if !c.SchemaDrift || !c.Different {
		t.Fatalf("expected schema drift, got %+v", c)
	}
	if len(c.Changed) != 1 || c.Changed[0].Plate != "ABC123" {
		t.Errorf("schema drift should mark the whole current snapshot: %+v", c.Changed)
	}
}

func TestMostRecent_FirstInCurrentOrder(t *testing.T) {
	prev := snap(corolla)
	cur := snap(civic, unknown, corolla)

	got, ok := Diff(&prev, cur).MostRecent()
	if !ok || got != civic {
		t.Errorf("MostRecent = %+v, want %+v (first row in render order)", got, civic)
	}
}

func TestMostRecent_RemovalOnly(t *testing.T) {
	prev := snap(corolla, unknown)
	cur := snap(corolla)

	c := Diff(&prev, cur)
	if !c.Different {
		t.Fatal("removal should count as a difference")
	}
	if _, ok := c.MostRecent(); ok {
		t.Error("a pure removal has no most recent row to dispatch")
	}
}
