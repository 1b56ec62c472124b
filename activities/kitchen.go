package activities

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/andrius0/pancake"
)

// Kitchen consumes ingredients from the stock table when an order is
// executed. All subtractions for one order happen in a single
// transaction, so a half-made order never leaves stock inconsistent.
type Kitchen struct {
	db    *sql.DB
	table string
}

// NewKitchen creates a kitchen. table defaults to DefaultInventoryTable.
func NewKitchen(db *sql.DB, table string) *Kitchen {
	if table == "" {
		table = DefaultInventoryTable
	}
	return &Kitchen{db: db, table: table}
}

// Execute subtracts each required ingredient from stock and returns the
// remaining stock levels. If anything fails the transaction rolls back
// and the original ingredient list is returned unchanged; the kitchen
// reports soft failure through the payload, not through an error.
func (k *Kitchen) Execute(ctx context.Context, orderID string, required pancake.Ingredients) (pancake.Ingredients, error) {
	updated, err := k.consume(ctx, required)
	if err != nil {
		log.Printf("kitchen: order %s not executed: %v", orderID, err)
		return required, nil
	}
	return updated, nil
}

func (k *Kitchen) consume(ctx context.Context, required pancake.Ingredients) (pancake.Ingredients, error) {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return pancake.Ingredients{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	selectQuery := fmt.Sprintf(
		`SELECT available_amount, unit FROM %s WHERE ingredient = $1 FOR UPDATE`, k.table)
	updateQuery := fmt.Sprintf(
		`UPDATE %s SET available_amount = $1 WHERE ingredient = $2`, k.table)

	out := pancake.Ingredients{Items: make([]pancake.IngredientItem, 0, len(required.Items))}
	for _, item := range required.Items {
		name := strings.ToLower(item.Name)

		unit, err := ParseUnit(item.Unit)
		if err != nil {
			return pancake.Ingredients{}, fmt.Errorf("ingredient '%s': %w", name, err)
		}

		var (
			stockAmount  float64
			stockUnitStr string
		)
		row := tx.QueryRowContext(ctx, selectQuery, name)
		if err := row.Scan(&stockAmount, &stockUnitStr); err != nil {
			if err == sql.ErrNoRows {
				row = tx.QueryRowContext(ctx, selectQuery, singular(name))
				err = row.Scan(&stockAmount, &stockUnitStr)
			}
			if err == sql.ErrNoRows {
				return pancake.Ingredients{}, fmt.Errorf("ingredient '%s' not in stock", name)
			}
			if err != nil {
				return pancake.Ingredients{}, fmt.Errorf("select '%s': %w", name, err)
			}
			name = singular(name)
		}

		stockUnit, err := ParseUnit(stockUnitStr)
		if err != nil {
			return pancake.Ingredients{}, fmt.Errorf("stock row '%s': %w", name, err)
		}
		if !Compatible(unit, stockUnit) {
			return pancake.Ingredients{}, fmt.Errorf(
				"incompatible units for '%s': requested %s, stocked %s", name, unit, stockUnit)
		}

		stockBase, _ := ToBase(stockAmount, stockUnit)
		requiredBase, _ := ToBase(item.Amount, unit)
		if requiredBase > stockBase {
			return pancake.Ingredients{}, fmt.Errorf(
				"not enough '%s': need %g %s, have %g %s", name, item.Amount, unit, stockAmount, stockUnit)
		}

		// Remaining stock is stored back in the row's own unit.
		remaining := FromBase(stockBase-requiredBase, stockUnit)
		if _, err := tx.ExecContext(ctx, updateQuery, remaining, name); err != nil {
			return pancake.Ingredients{}, fmt.Errorf("update '%s': %w", name, err)
		}

		out.Items = append(out.Items, pancake.IngredientItem{
			Name:   name,
			Amount: remaining,
			Unit:   string(stockUnit),
		})
	}

	if err := tx.Commit(); err != nil {
		return pancake.Ingredients{}, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// KitchenHandler adapts the kitchen to the dispatch wire format.
func KitchenHandler(k *Kitchen) pancake.ActivityFunc {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in pancake.ExecuteOrderInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, pancake.NewActivityError(
				pancake.ActivityExecuteOrder, pancake.KindValidation,
				"malformed input: "+err.Error())
		}
		result, err := k.Execute(ctx, in.OrderID, in.Ingredients)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}
}
