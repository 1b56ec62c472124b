package activities

import (
	"errors"
	"testing"
)

func TestParseUnitAliases(t *testing.T) {
	cases := []struct {
		in   string
		want Unit
	}{
		{"g", Gram},
		{"grams", Gram},
		{"KG", Kilogram},
		{"kilogram", Kilogram},
		{"ml", Milliliter},
		{"milliliters", Milliliter},
		{"L", Liter},
		{"liters", Liter},
		{" l ", Liter},
	}
	for _, c := range cases {
		got, err := ParseUnit(c.in)
		if err != nil {
			t.Errorf("ParseUnit(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseUnit(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseUnitRejectsCountUnits(t *testing.T) {
	for _, in := range []string{"pieces", "units", "cups", ""} {
		if _, err := ParseUnit(in); !errors.Is(err, ErrUnsupportedUnit) {
			t.Errorf("ParseUnit(%q) err = %v, want ErrUnsupportedUnit", in, err)
		}
	}
}

func TestToBaseConversion(t *testing.T) {
	cases := []struct {
		value    float64
		unit     Unit
		want     float64
		wantUnit Unit
	}{
		{500, Gram, 0.5, Kilogram},
		{2, Kilogram, 2, Kilogram},
		{250, Milliliter, 0.25, Liter},
		{1.5, Liter, 1.5, Liter},
	}
	for _, c := range cases {
		got, unit := ToBase(c.value, c.unit)
		if got != c.want || unit != c.wantUnit {
			t.Errorf("ToBase(%g, %q) = %g %q, want %g %q", c.value, c.unit, got, unit, c.want, c.wantUnit)
		}
	}
}

func TestFromBaseRoundTrip(t *testing.T) {
	base, _ := ToBase(500, Gram)
	if got := FromBase(base, Gram); got != 500 {
		t.Errorf("round trip 500g = %g, want 500", got)
	}
	base, _ = ToBase(750, Milliliter)
	if got := FromBase(base, Milliliter); got != 750 {
		t.Errorf("round trip 750ml = %g, want 750", got)
	}
}

func TestCompatibleRejectsCrossDimension(t *testing.T) {
	if Compatible(Milliliter, Kilogram) {
		t.Error("ml and kg reported compatible")
	}
	if Compatible(Gram, Liter) {
		t.Error("g and l reported compatible")
	}
	if !Compatible(Gram, Kilogram) {
		t.Error("g and kg reported incompatible")
	}
	if !Compatible(Liter, Milliliter) {
		t.Error("l and ml reported incompatible")
	}
}
