package detection

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestAttr_Missing(t *testing.T) {
	tests := []struct {
		attr Attr
		want bool
	}{
		{None(), true},
		{Some(""), true},
		{Some("   "), true},
		{Some("Honda"), false},
	}
	for _, tt := range tests {
		if got := tt.attr.Missing(); got != tt.want {
			t.Errorf("%+v.Missing() = %v, want %v", tt.attr, got, tt.want)
		}
	}
}

func TestDetection_Comparable(t *testing.T) {
	a := Detection{Plate: "ABC123", Make: Some("Toyota"), Model: None()}
	b := Detection{Plate: "ABC123", Make: Some("Toyota"), Model: None()}
	c := Detection{Plate: "ABC123", Make: Some("Toyota"), Model: Some("")}

	if a != b {
		t.Error("identical detections should be equal")
	}
	// Present-but-empty is distinct from absent.
	if a == c {
		t.Error("absent model should differ from empty model")
	}

	set := map[Detection]struct{}{a: {}}
	if _, ok := set[b]; !ok {
		t.Error("equal detections should hash to the same key")
	}
}

func TestFinalRecord_JSON(t *testing.T) {
	rec := FinalRecord{Plate: "XYZ999", Make: Some("BMW"), Model: None()}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"plate":"XYZ999","make":"BMW","model":null}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var back FinalRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != rec {
		t.Errorf("round trip: got %+v, want %+v", back, rec)
	}
}

func TestSchema_Equal(t *testing.T) {
	a := Schema{ColumnPlate, ColumnMake, ColumnModel}
	b := Schema{ColumnModel, ColumnPlate, ColumnMake}
	if !a.Equal(b) {
		t.Error("schemas with the same columns should be equal regardless of order")
	}
	if a.Equal(Schema{ColumnPlate, ColumnMake}) {
		t.Error("schemas with different columns should differ")
	}
}
