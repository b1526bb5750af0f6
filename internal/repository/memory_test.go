package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsanano/canteen/internal/model"
)

func TestMemoryStore_RunAtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := s.AddUser(model.User{Username: "ivan", Email: "ivan@school.test", Role: model.RoleConsumer, Balance: decimal.NewFromInt(100)})
	d := s.AddDish(model.Dish{Name: "soup", Price: decimal.NewFromInt(10), CurrentStock: 3})

	boom := errors.New("boom")
	err := s.RunAtomic(ctx, func(ctx context.Context) error {
		require.NoError(t, s.AddUserBalance(ctx, u.ID, decimal.NewFromInt(-40)))
		require.NoError(t, s.AddDishStock(ctx, d.ID, -1))
		_, err := s.InsertPayment(ctx, model.Payment{UserID: u.ID, Amount: decimal.NewFromInt(40), Kind: model.PaymentSingle, Status: model.PaymentCompleted})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetUserForUpdate(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Balance.String())
	dish, err := s.GetDishForUpdate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, dish.CurrentStock)
	assert.Empty(t, s.Payments())
}

func TestMemoryStore_NestedRunAtomicJoins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := s.AddDish(model.Dish{Name: "soup", CurrentStock: 3})

	err := s.RunAtomic(ctx, func(ctx context.Context) error {
		if err := s.RunAtomic(ctx, func(ctx context.Context) error {
			return s.AddDishStock(ctx, d.ID, -1)
		}); err != nil {
			return err
		}
		return model.ErrConflict
	})
	assert.ErrorIs(t, err, model.ErrConflict)

	dish, err := s.GetDishForUpdate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, dish.CurrentStock)
}

func TestMemoryStore_Invariants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := s.AddUser(model.User{Username: "ivan", Email: "ivan@school.test", Balance: decimal.NewFromInt(5)})
	d := s.AddDish(model.Dish{Name: "soup", CurrentStock: 0})

	assert.Error(t, s.AddUserBalance(ctx, u.ID, decimal.NewFromInt(-6)))
	assert.Error(t, s.AddDishStock(ctx, d.ID, -1))

	e, err := s.CreateMenuEntry(ctx, model.MenuEntry{Date: time.Now(), MealType: model.MealLunch, DishID: d.ID})
	require.NoError(t, err)
	_, err = s.InsertOrder(ctx, model.Order{UserID: u.ID, MenuEntryID: e.ID})
	require.NoError(t, err)
	_, err = s.InsertOrder(ctx, model.Order{UserID: u.ID, MenuEntryID: e.ID})
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = s.CreateMenuEntry(ctx, model.MenuEntry{Date: time.Now(), MealType: model.MealLunch, DishID: 999})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStore_FindUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	first := s.AddUser(model.User{Username: "ivan", Email: "ivan@school.test"})
	s.AddUser(model.User{Username: "ivan", Email: "ivan2@school.test"})

	for _, identifier := range []string{"ivan", "ivan@school.test", "1"} {
		u, err := s.FindUser(ctx, identifier)
		require.NoError(t, err, identifier)
		assert.Equal(t, first.ID, u.ID, identifier)
	}

	_, err := s.FindUser(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStore_DailyRevenueUsesLocation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := s.AddUser(model.User{Username: "ivan"})
	loc := time.FixedZone("UTC+3", 3*60*60)

	// 22:30 UTC on March 1 is already March 2 in UTC+3.
	at := time.Date(2026, time.March, 1, 22, 30, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return at })
	_, err := s.InsertPayment(ctx, model.Payment{UserID: u.ID, Amount: decimal.NewFromInt(70), Kind: model.PaymentSingle, Status: model.PaymentCompleted})
	require.NoError(t, err)
	_, err = s.InsertPayment(ctx, model.Payment{UserID: u.ID, Amount: decimal.NewFromInt(30), Kind: model.PaymentSingle, Status: model.PaymentPending})
	require.NoError(t, err)

	rows, err := s.DailyRevenue(ctx, at.Add(-24*time.Hour), at.Add(time.Hour), loc)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), rows[0].Date)
	assert.Equal(t, "70", rows[0].Revenue.String())
	assert.Equal(t, 1, rows[0].Transactions)
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	today := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, SeedDemo(ctx, s, today))

	items, err := s.ListMenu(ctx, model.Date(today))
	require.NoError(t, err)
	assert.Len(t, items, 4)

	low, err := s.ListLowStockIngredients(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "carrot", low[0].Name)

	u, err := s.FindUser(ctx, "student@school.test")
	require.NoError(t, err)
	require.NotNil(t, u.SubscriptionEndDate)

	// omelet and rice porridge are cooked with milk
	flagged, err := s.AllergenDishIDs(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, flagged, 2)
}

func TestMemoryStore_AllergensAndReviews(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := s.AddUser(model.User{Username: "ivan"})
	milk := s.AddIngredient(model.Ingredient{Name: "milk"})
	d := s.AddDish(model.Dish{Name: "porridge"})
	s.AddDishIngredient(d.ID, milk.ID)

	assert.ErrorIs(t, s.UpsertAllergen(ctx, model.Allergen{UserID: u.ID, IngredientID: 999}), model.ErrNotFound)
	require.NoError(t, s.UpsertAllergen(ctx, model.Allergen{UserID: u.ID, IngredientID: milk.ID, Note: "rash"}))
	require.NoError(t, s.UpsertAllergen(ctx, model.Allergen{UserID: u.ID, IngredientID: milk.ID, Note: "lactose"}))

	list, err := s.ListAllergens(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "milk", list[0].IngredientName)
	assert.Equal(t, "lactose", list[0].Note)

	flagged, err := s.AllergenDishIDs(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{d.ID}, flagged)

	removed, err := s.DeleteAllergen(ctx, u.ID, milk.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.DeleteAllergen(ctx, u.ID, milk.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.InsertReview(ctx, model.Review{UserID: u.ID, DishID: 999, Rating: 5})
	assert.ErrorIs(t, err, model.ErrNotFound)
	id, err := s.InsertReview(ctx, model.Review{UserID: u.ID, DishID: d.ID, Rating: 4})
	require.NoError(t, err)
	reviews, err := s.ListReviews(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, id, reviews[0].ID)
}
