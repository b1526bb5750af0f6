package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"fsanano/canteen/internal/model"
)

// IngredientInventory holds raw-material quantities. It is independent of dish
// portions: selling a dish does not consume ingredients.
type IngredientInventory struct {
	store InventoryStore
}

func NewIngredientInventory(store InventoryStore) *IngredientInventory {
	return &IngredientInventory{store: store}
}

func (i *IngredientInventory) Replenish(ctx context.Context, ingredientID int64, quantity decimal.Decimal) (model.Ingredient, error) {
	if err := checkQuantity(quantity); err != nil {
		return model.Ingredient{}, err
	}

	var ing model.Ingredient
	err := i.store.RunAtomic(ctx, func(ctx context.Context) error {
		var err error
		ing, err = i.store.GetIngredientForUpdate(ctx, ingredientID)
		if err != nil {
			return err
		}
		if err := i.store.AddIngredientQuantity(ctx, ingredientID, quantity); err != nil {
			return err
		}
		ing.CurrentQuantity = ing.CurrentQuantity.Add(quantity)
		return nil
	})
	return ing, err
}

func checkQuantity(quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}
	if !model.FitsQuantity(quantity) {
		return fmt.Errorf("%w: quantity %s has more than %d decimal places or is too large",
			model.ErrValidation, quantity, model.QuantityPlaces)
	}
	return nil
}

// LowStock lists ingredients below their reorder threshold.
func (i *IngredientInventory) LowStock(ctx context.Context) ([]model.Ingredient, error) {
	return i.store.ListLowStockIngredients(ctx)
}
