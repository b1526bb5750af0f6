package service_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fsanano/canteen/internal/events"
	"fsanano/canteen/internal/model"
)

func TestEngine_PublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.pub.ExpectedCalls = nil
	f.pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	user, p := f.consumer(500)
	dish := f.dish(t, 120, 1)
	entry := f.entry(t, dish, model.MealLunch, f.today)

	res, err := f.engine.CreateOrder(f.ctx, p, entry.ID)
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Equal(t, "380", f.user(t, user.ID).Balance.String())
	f.pub.AssertCalled(t, "Publish", mock.Anything, eventOfType(events.OrderCreated))
}

func TestEngine_NoEventOnFailure(t *testing.T) {
	f := newFixture(t)
	_, p := f.consumer(500)
	dish := f.dish(t, 120, 0)
	entry := f.entry(t, dish, model.MealLunch, f.today)

	_, err := f.engine.CreateOrder(f.ctx, p, entry.ID)
	require.ErrorIs(t, err, model.ErrOutOfStock)
	f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestEngine_EventCarriesAggregateKey(t *testing.T) {
	f := newFixture(t)
	agent := f.agent()
	ing := f.ingredient(1, 5)

	id, err := f.engine.CreatePurchaseRequest(f.ctx, agent, ing.ID, ing.MinQuantity)
	require.NoError(t, err)

	f.pub.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e events.Event) bool {
		return e.Type == events.PurchaseRequestCreated && e.Key == strconv.FormatInt(id, 10)
	}))
}
