package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fsanano/canteen/internal/model"
)

// SeedDemo fills an empty MemoryStore with a small canteen for local runs.
func SeedDemo(ctx context.Context, s *MemoryStore, today time.Time) error {
	subEnd := model.Date(today).AddDate(0, 0, 30)
	ivan := s.AddUser(model.User{Username: "ivan", Email: "student@school.test", Role: model.RoleConsumer,
		Balance: decimal.NewFromInt(500), SubscriptionEndDate: &subEnd})
	s.AddUser(model.User{Username: "maria", Email: "student2@school.test", Role: model.RoleConsumer,
		Balance: decimal.NewFromInt(200)})
	s.AddUser(model.User{Username: "cook", Email: "cook@school.test", Role: model.RoleAgent})
	s.AddUser(model.User{Username: "admin", Email: "admin@school.test", Role: model.RoleApprover})

	ingredients := map[string]int64{}
	for _, ing := range []model.Ingredient{
		{Name: "potato", Unit: "kg", CurrentQuantity: decimal.NewFromInt(50), MinQuantity: decimal.NewFromInt(10)},
		{Name: "carrot", Unit: "kg", CurrentQuantity: decimal.NewFromInt(4), MinQuantity: decimal.NewFromInt(5)},
		{Name: "milk", Unit: "l", CurrentQuantity: decimal.NewFromInt(60), MinQuantity: decimal.NewFromInt(20)},
		{Name: "eggs", Unit: "pcs", CurrentQuantity: decimal.NewFromInt(200), MinQuantity: decimal.NewFromInt(50)},
	} {
		ingredients[ing.Name] = s.AddIngredient(ing).ID
	}

	menu := []struct {
		dish   model.Dish
		meal   model.MealType
		recipe []string
	}{
		{model.Dish{Name: "omelet", Price: decimal.NewFromInt(70), CurrentStock: 40}, model.MealBreakfast, []string{"eggs", "milk"}},
		{model.Dish{Name: "rice porridge", Price: decimal.NewFromInt(65), CurrentStock: 55}, model.MealBreakfast, []string{"milk"}},
		{model.Dish{Name: "borscht", Price: decimal.NewFromInt(120), CurrentStock: 45}, model.MealLunch, []string{"potato", "carrot"}},
		{model.Dish{Name: "chicken cutlets", Price: decimal.NewFromInt(100), CurrentStock: 50}, model.MealLunch, nil},
	}
	for _, m := range menu {
		dish := s.AddDish(m.dish)
		for _, name := range m.recipe {
			s.AddDishIngredient(dish.ID, ingredients[name])
		}
		if _, err := s.CreateMenuEntry(ctx, model.MenuEntry{
			Date:        today,
			MealType:    m.meal,
			DishID:      dish.ID,
			MaxPortions: 100,
		}); err != nil {
			return err
		}
	}
	return s.UpsertAllergen(ctx, model.Allergen{UserID: ivan.ID, IngredientID: ingredients["milk"], Note: "lactose"})
}
