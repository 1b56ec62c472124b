package activities

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/andrius0/pancake"
)

// Analyzer turns a free-form customer order into a required ingredient
// list. Implementations must only emit standard units.
type Analyzer interface {
	Analyze(ctx context.Context, customerOrder string) (pancake.Ingredients, error)
}

// RecipeAnalyzer resolves orders against a fixed recipe book by keyword
// match, scaling amounts by the detected portion count.
type RecipeAnalyzer struct {
	recipes map[string]pancake.Ingredients
}

// classicPancakes is a single-portion batch.
var classicPancakes = pancake.Ingredients{
	Items: []pancake.IngredientItem{
		{Name: "flour", Amount: 150, Unit: "g"},
		{Name: "eggs", Amount: 100, Unit: "g"},
		{Name: "milk", Amount: 200, Unit: "ml"},
		{Name: "butter", Amount: 30, Unit: "g"},
		{Name: "sugar", Amount: 20, Unit: "g"},
		{Name: "baking powder", Amount: 5, Unit: "g"},
		{Name: "salt", Amount: 2, Unit: "g"},
	},
}

var blueberryPancakes = pancake.Ingredients{
	Items: append(append([]pancake.IngredientItem{}, classicPancakes.Items...),
		pancake.IngredientItem{Name: "blueberries", Amount: 80, Unit: "g"}),
}

var chocolatePancakes = pancake.Ingredients{
	Items: append(append([]pancake.IngredientItem{}, classicPancakes.Items...),
		pancake.IngredientItem{Name: "chocolate", Amount: 60, Unit: "g"}),
}

// NewRecipeAnalyzer creates an analyzer with the built-in recipe book.
func NewRecipeAnalyzer() *RecipeAnalyzer {
	return &RecipeAnalyzer{
		recipes: map[string]pancake.Ingredients{
			"blueberry": blueberryPancakes,
			"chocolate": chocolatePancakes,
			"pancake":   classicPancakes,
		},
	}
}

// portionWords maps spelled-out counts found in orders.
var portionWords = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"double": 2, "triple": 3,
}

// Analyze matches the order text against the recipe book. Orders that
// mention nothing from the book fail with a validation error, which the
// engine treats as terminal.
func (a *RecipeAnalyzer) Analyze(ctx context.Context, customerOrder string) (pancake.Ingredients, error) {
	order := strings.ToLower(customerOrder)

	var recipe pancake.Ingredients
	found := false
	// Specific recipes take priority over the plain "pancake" match.
	for _, key := range []string{"blueberry", "chocolate", "pancake"} {
		if strings.Contains(order, key) {
			recipe = a.recipes[key]
			found = true
			break
		}
	}
	if !found {
		return pancake.Ingredients{}, pancake.NewActivityError(
			pancake.ActivityAnalyzeOrder, pancake.KindValidation,
			"order does not mention any known dish: "+customerOrder)
	}

	portions := 1.0
	for _, word := range strings.Fields(order) {
		if n, ok := portionWords[strings.Trim(word, ".,!?")]; ok {
			portions = n
			break
		}
	}

	scaled := pancake.Ingredients{Items: make([]pancake.IngredientItem, len(recipe.Items))}
	for i, item := range recipe.Items {
		item.Amount *= portions
		scaled.Items[i] = item
	}
	return scaled, nil
}

// AnalyzeHandler adapts an Analyzer to the dispatch wire format.
func AnalyzeHandler(a Analyzer) pancake.ActivityFunc {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in pancake.AnalyzeOrderInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, pancake.NewActivityError(
				pancake.ActivityAnalyzeOrder, pancake.KindValidation,
				"malformed input: "+err.Error())
		}
		if in.CustomerOrder == "" {
			return nil, pancake.NewActivityError(
				pancake.ActivityAnalyzeOrder, pancake.KindValidation,
				"empty customer order")
		}
		ingredients, err := a.Analyze(ctx, in.CustomerOrder)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ingredients)
	}
}
