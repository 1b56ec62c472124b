// Package activities implements the worker-side activity handlers for
// the pancake workflow: order analysis, inventory checks against a
// Postgres stock table, kitchen execution that consumes stock, and
// customer notification.
package activities

import (
	"errors"
	"fmt"
	"strings"
)

// Unit is a standard measurement unit. Only mass and volume units are
// supported; count units ("pieces") are rejected at parse time.
type Unit string

const (
	Gram       Unit = "g"
	Kilogram   Unit = "kg"
	Milliliter Unit = "ml"
	Liter      Unit = "l"
)

// ErrUnsupportedUnit marks a unit outside the standard set.
var ErrUnsupportedUnit = errors.New("unsupported unit")

// unitAliases maps long-form spellings to standard units.
var unitAliases = map[string]Unit{
	"g": Gram, "gram": Gram, "grams": Gram,
	"kg": Kilogram, "kilogram": Kilogram, "kilograms": Kilogram,
	"ml": Milliliter, "milliliter": Milliliter, "milliliters": Milliliter,
	"l": Liter, "liter": Liter, "liters": Liter,
}

// ParseUnit normalizes a unit string, accepting long-form spellings.
func ParseUnit(s string) (Unit, error) {
	u, ok := unitAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: '%s' (use g, kg, ml or l)", ErrUnsupportedUnit, s)
	}
	return u, nil
}

// IsMass reports whether the unit measures mass.
func (u Unit) IsMass() bool {
	return u == Gram || u == Kilogram
}

// IsVolume reports whether the unit measures volume.
func (u Unit) IsVolume() bool {
	return u == Milliliter || u == Liter
}

// Compatible reports whether two units measure the same dimension.
// Mass never compares against volume.
func Compatible(a, b Unit) bool {
	return (a.IsMass() && b.IsMass()) || (a.IsVolume() && b.IsVolume())
}

// ToBase converts a value to its base unit: kg for mass, l for volume.
func ToBase(value float64, unit Unit) (float64, Unit) {
	switch unit {
	case Gram:
		return value / 1000, Kilogram
	case Milliliter:
		return value / 1000, Liter
	default:
		return value, unit
	}
}

// FromBase converts a base-unit value back to the target unit. The
// target must share the base's dimension.
func FromBase(value float64, target Unit) float64 {
	switch target {
	case Gram, Milliliter:
		return value * 1000
	default:
		return value
	}
}
