package nutrition

import (
	"math"
	"strings"
	"testing"
)

func TestFieldsCoverEveryColumn(t *testing.T) {
	if len(Fields) != 27 {
		t.Fatalf("fields: want=%d got=%d", 27, len(Fields))
	}
	seen := map[string]bool{}
	for _, f := range Fields {
		if seen[f.Column] {
			t.Fatalf("duplicate column %q", f.Column)
		}
		seen[f.Column] = true
	}
	// Every accessor must point at a distinct struct field.
	var n Nutrients
	for i, f := range Fields {
		*f.Ref(&n) = float64(i + 1)
	}
	for i, f := range Fields {
		if got := *f.Ref(&n); got != float64(i+1) {
			t.Fatalf("%s: want=%v got=%v", f.Column, float64(i+1), got)
		}
	}
}

func TestScaleAndAdd(t *testing.T) {
	oats := Nutrients{Calories: 150, ProteinG: 5, IronMg: 1.7}
	banana := Nutrients{Calories: 100, ProteinG: 1, PotassiumMg: 422}

	total := oats.Scale(2).Add(banana.Scale(1))
	if total.Calories != 400 {
		t.Fatalf("calories: want=%v got=%v", 400.0, total.Calories)
	}
	if total.ProteinG != 11 {
		t.Fatalf("protein: want=%v got=%v", 11.0, total.ProteinG)
	}
	if total.IronMg != 3.4 {
		t.Fatalf("iron: want=%v got=%v", 3.4, total.IronMg)
	}
	if total.PotassiumMg != 422 {
		t.Fatalf("potassium: want=%v got=%v", 422.0, total.PotassiumMg)
	}
	if oats.Calories != 150 {
		t.Fatalf("Scale must not mutate receiver, got %v", oats.Calories)
	}
}

func TestRound(t *testing.T) {
	n := Nutrients{Calories: 123.456, FatG: 0.006, VitaminB12Mcg: 2.344}.Round(2)
	if n.Calories != 123.46 || n.VitaminB12Mcg != 2.34 {
		t.Fatalf("unexpected rounding: %+v", n)
	}
	if math.Abs(n.FatG-0.01) > 1e-9 {
		t.Fatalf("fat: want=%v got=%v", 0.01, n.FatG)
	}
}

func TestSumOfNothingIsZero(t *testing.T) {
	if !Sum().IsZero() {
		t.Fatalf("expected zero totals")
	}
}

func TestNegative(t *testing.T) {
	got := Nutrients{Calories: 10, SodiumMg: -1}.Negative()
	if len(got) != 1 || got[0] != "sodium_mg" {
		t.Fatalf("negative: got=%v", got)
	}
}

func TestSumSelectRendersEveryField(t *testing.T) {
	sql := SumSelect(func(c string) string { return "f." + c + " * mf.quantity" })
	for _, f := range Fields {
		if !strings.Contains(sql, "f."+f.Column+" * mf.quantity") || !strings.Contains(sql, "AS "+f.Column) {
			t.Fatalf("missing %s in %s", f.Column, sql)
		}
	}
	cols := Columns("f")
	if cols[0] != "f.calories" {
		t.Fatalf("columns: got=%v", cols[0])
	}
}

func TestPatchMergeKeepsAbsentFields(t *testing.T) {
	base := Nutrients{Calories: 120, ProteinG: 4, SodiumMg: 300}
	got, err := Patch{"calories": 130, "iron_mg": 2.5}.Merge(base)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := Nutrients{Calories: 130, ProteinG: 4, SodiumMg: 300, IronMg: 2.5}
	if got != want {
		t.Fatalf("want=%+v got=%+v", want, got)
	}

	if _, err := (Patch{"calories": 1, "unobtanium_mg": 3}).Merge(base); err == nil || !strings.Contains(err.Error(), "unobtanium_mg") {
		t.Fatalf("unknown column: want error naming it got=%v", err)
	}
}
