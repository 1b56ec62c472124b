package activities

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andrius0/pancake"
)

// DefaultInventoryTable is the stock table queried by the inventory and
// kitchen activities. One row per ingredient: (ingredient, available_amount, unit).
const DefaultInventoryTable = "kitchen_inventory"

// InventoryChecker checks required ingredients against the stock table.
type InventoryChecker struct {
	db    *sql.DB
	table string
}

// NewInventoryChecker creates a checker. table defaults to DefaultInventoryTable.
func NewInventoryChecker(db *sql.DB, table string) *InventoryChecker {
	if table == "" {
		table = DefaultInventoryTable
	}
	return &InventoryChecker{db: db, table: table}
}

// singular strips a trailing plural suffix. Stock rows are stored under
// singular names while analyzed orders often use plurals ("eggs").
func singular(name string) string {
	if strings.HasSuffix(name, "ies") {
		return strings.TrimSuffix(name, "ies") + "y"
	}
	if strings.HasSuffix(name, "es") && !strings.HasSuffix(name, "kes") {
		return strings.TrimSuffix(name, "es")
	}
	if strings.HasSuffix(name, "s") {
		return strings.TrimSuffix(name, "s")
	}
	return name
}

// lookup finds a stock row by name, falling back to the singular form.
func (c *InventoryChecker) lookup(ctx context.Context, name string) (float64, Unit, bool, error) {
	query := fmt.Sprintf(
		`SELECT available_amount, unit FROM %s WHERE ingredient = $1`, c.table)

	for _, candidate := range []string{name, singular(name)} {
		var (
			amount  float64
			unitStr string
		)
		err := c.db.QueryRowContext(ctx, query, candidate).Scan(&amount, &unitStr)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, "", false, pancake.NewActivityError(
				pancake.ActivityInventoryCheck, pancake.KindConnection,
				"inventory query: "+err.Error())
		}
		unit, err := ParseUnit(unitStr)
		if err != nil {
			return 0, "", false, pancake.NewActivityError(
				pancake.ActivityInventoryCheck, pancake.KindValidation,
				fmt.Sprintf("stock row '%s' has %v", candidate, err))
		}
		return amount, unit, true, nil
	}
	return 0, "", false, nil
}

// Check compares each required ingredient against stock and decides
// whether the order can be made. Unknown ingredients and incompatible
// units count as missing, not as errors.
func (c *InventoryChecker) Check(ctx context.Context, orderID string, required pancake.Ingredients) (pancake.InventoryDecision, error) {
	decision := pancake.InventoryDecision{
		Decision:  pancake.DecisionMake,
		Available: []string{},
		Missing:   []string{},
	}

	for _, item := range required.Items {
		name := strings.ToLower(item.Name)

		unit, err := ParseUnit(item.Unit)
		if err != nil {
			return pancake.InventoryDecision{}, pancake.NewActivityError(
				pancake.ActivityInventoryCheck, pancake.KindValidation,
				fmt.Sprintf("ingredient '%s': %v", name, err))
		}

		stockAmount, stockUnit, found, err := c.lookup(ctx, name)
		if err != nil {
			return pancake.InventoryDecision{}, err
		}

		enough := false
		if found && Compatible(unit, stockUnit) {
			stockBase, _ := ToBase(stockAmount, stockUnit)
			requiredBase, _ := ToBase(item.Amount, unit)
			enough = stockBase >= requiredBase
		}

		if enough {
			decision.Available = append(decision.Available, name)
		} else {
			decision.Missing = append(decision.Missing, name)
		}
	}

	if len(decision.Missing) > 0 {
		decision.Decision = pancake.DecisionNoMake
	}
	return decision, nil
}

// InventoryHandler adapts the checker to the dispatch wire format.
func InventoryHandler(c *InventoryChecker) pancake.ActivityFunc {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in pancake.InventoryCheckInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, pancake.NewActivityError(
				pancake.ActivityInventoryCheck, pancake.KindValidation,
				"malformed input: "+err.Error())
		}
		decision, err := c.Check(ctx, in.OrderID, in.Ingredients)
		if err != nil {
			return nil, err
		}
		return json.Marshal(decision)
	}
}
