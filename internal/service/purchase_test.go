package service_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsanano/canteen/internal/model"
)

func (f *fixture) ingredient(current, min int64) model.Ingredient {
	return f.store.AddIngredient(model.Ingredient{
		Name:            "potato",
		Unit:            "kg",
		CurrentQuantity: decimal.NewFromInt(current),
		MinQuantity:     decimal.NewFromInt(min),
	})
}

func (f *fixture) quantity(t *testing.T, ingredientID int64) string {
	t.Helper()
	ing, err := f.store.GetIngredientForUpdate(f.ctx, ingredientID)
	require.NoError(t, err)
	return ing.CurrentQuantity.String()
}

func TestPurchaseRequest_ApproveOnce(t *testing.T) {
	f := newFixture(t)
	agent := f.agent()
	approver := f.approver()
	ing := f.ingredient(10, 5)

	id, err := f.engine.CreatePurchaseRequest(f.ctx, agent, ing.ID, decimal.RequireFromString("2.5"))
	require.NoError(t, err)

	pending, err := f.engine.ListPurchaseRequests(f.ctx, approver, model.RequestPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, "potato", pending[0].IngredientName)
	assert.Equal(t, agent.UserID, pending[0].RequestedBy)

	pr, err := f.engine.DecidePurchaseRequest(f.ctx, approver, id, model.RequestApproved)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, pr.Status)
	require.NotNil(t, pr.ApprovedBy)
	assert.Equal(t, approver.UserID, *pr.ApprovedBy)
	require.NotNil(t, pr.ApprovedAt)
	assert.Equal(t, "12.5", f.quantity(t, ing.ID))

	_, err = f.engine.DecidePurchaseRequest(f.ctx, approver, id, model.RequestApproved)
	assert.ErrorIs(t, err, model.ErrConflict)
	_, err = f.engine.DecidePurchaseRequest(f.ctx, approver, id, model.RequestRejected)
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, "12.5", f.quantity(t, ing.ID))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsDecided.WithLabelValues("approved")))

	pending, err = f.engine.ListPurchaseRequests(f.ctx, agent, model.RequestPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPurchaseRequest_RejectLeavesInventory(t *testing.T) {
	f := newFixture(t)
	agent := f.agent()
	approver := f.approver()
	ing := f.ingredient(10, 5)

	id, err := f.engine.CreatePurchaseRequest(f.ctx, agent, ing.ID, decimal.NewFromInt(4))
	require.NoError(t, err)

	pr, err := f.engine.DecidePurchaseRequest(f.ctx, approver, id, model.RequestRejected)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, pr.Status)
	assert.Equal(t, "10", f.quantity(t, ing.ID))

	all, err := f.engine.ListPurchaseRequests(f.ctx, approver, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.RequestRejected, all[0].Status)
}

func TestPurchaseRequest_Validation(t *testing.T) {
	f := newFixture(t)
	agent := f.agent()
	approver := f.approver()
	ing := f.ingredient(10, 5)

	_, err := f.engine.CreatePurchaseRequest(f.ctx, agent, ing.ID, decimal.Zero)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.engine.CreatePurchaseRequest(f.ctx, agent, 999, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.engine.CreatePurchaseRequest(f.ctx, approver, ing.ID, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, model.ErrForbidden)

	id, err := f.engine.CreatePurchaseRequest(f.ctx, agent, ing.ID, decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = f.engine.DecidePurchaseRequest(f.ctx, approver, id, model.RequestPending)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.engine.DecidePurchaseRequest(f.ctx, agent, id, model.RequestApproved)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.engine.DecidePurchaseRequest(f.ctx, approver, 999, model.RequestApproved)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.engine.ListPurchaseRequests(f.ctx, approver, "archived")
	assert.ErrorIs(t, err, model.ErrValidation)

	assert.Equal(t, "10", f.quantity(t, ing.ID))
}

func TestLowStockIngredients(t *testing.T) {
	f := newFixture(t)
	agent := f.agent()
	low := f.store.AddIngredient(model.Ingredient{Name: "carrot", Unit: "kg", CurrentQuantity: decimal.NewFromInt(4), MinQuantity: decimal.NewFromInt(5)})
	f.store.AddIngredient(model.Ingredient{Name: "milk", Unit: "l", CurrentQuantity: decimal.NewFromInt(5), MinQuantity: decimal.NewFromInt(5)})

	list, err := f.engine.LowStockIngredients(f.ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, low.ID, list[0].ID)

	_, p := f.consumer(0)
	_, err = f.engine.LowStockIngredients(f.ctx, p)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestPurchaseRequest_ConcurrentApprovalsApplyOnce(t *testing.T) {
	f := newFixture(t)
	agent := f.agent()
	approver := f.approver()
	ing := f.ingredient(5, 10)

	id, err := f.engine.CreatePurchaseRequest(f.ctx, agent, ing.ID, decimal.NewFromInt(20))
	require.NoError(t, err)

	succeeded := race(t, 20, model.ErrConflict, func(int) error {
		_, err := f.engine.DecidePurchaseRequest(f.ctx, approver, id, model.RequestApproved)
		return err
	})
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, "25", f.quantity(t, ing.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsDecided.WithLabelValues("approved")))
}

func TestPurchaseRequest_QuantityPrecision(t *testing.T) {
	tests := []struct {
		quantity string
		wantErr  error
	}{
		{quantity: "0.001"},
		{quantity: "2.500"},
		{quantity: "0.0001", wantErr: model.ErrValidation},
		{quantity: "1.2345", wantErr: model.ErrValidation},
		{quantity: "1000000000", wantErr: model.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.quantity, func(t *testing.T) {
			f := newFixture(t)
			agent := f.agent()
			ing := f.ingredient(10, 5)

			_, err := f.engine.CreatePurchaseRequest(f.ctx, agent, ing.ID, decimal.RequireFromString(tt.quantity))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				list, err := f.engine.ListPurchaseRequests(f.ctx, agent, "")
				require.NoError(t, err)
				assert.Empty(t, list)
				return
			}
			assert.NoError(t, err)
		})
	}
}
