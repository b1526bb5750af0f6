package service_test

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"fsanano/canteen/internal/auth"
	"fsanano/canteen/internal/config"
	"fsanano/canteen/internal/events"
	"fsanano/canteen/internal/model"
	"fsanano/canteen/internal/service"
)

func TestCreateOrder_PaysFromBalance(t *testing.T) {
	f := newFixture(t)
	user, p := f.consumer(500)
	dish := f.dish(t, 120, 1)
	entry := f.entry(t, dish, model.MealLunch, f.today)

	res, err := f.engine.CreateOrder(f.ctx, p, entry.ID)
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Equal(t, service.SettledByBalance, res.Settlement)
	assert.Equal(t, dish.ID, res.DishID)

	assert.Equal(t, "380", f.user(t, user.ID).Balance.String())
	assert.Equal(t, 0, f.stock(t, dish.ID))

	order, ok := f.store.Order(res.OrderID)
	require.True(t, ok)
	assert.True(t, order.Paid)
	assert.False(t, order.Collected)

	payments := f.store.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, model.PaymentSingle, payments[0].Kind)
	assert.Equal(t, model.PaymentCompleted, payments[0].Status)
	assert.Equal(t, "120", payments[0].Amount.String())
	require.NotNil(t, payments[0].OrderID)
	assert.Equal(t, res.OrderID, *payments[0].OrderID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrdersCreated.WithLabelValues("balance")))
	f.pub.AssertCalled(t, "Publish", mock.Anything, eventOfType(events.OrderCreated))

	// Same user, same entry
	_, err = f.engine.CreateOrder(f.ctx, p, entry.ID)
	assert.ErrorIs(t, err, model.ErrConflict)

	// Different user, stock exhausted
	_, other := f.namedConsumer("other", 500)
	_, err = f.engine.CreateOrder(f.ctx, other, entry.ID)
	assert.ErrorIs(t, err, model.ErrOutOfStock)

	assert.Equal(t, "380", f.user(t, user.ID).Balance.String())
	assert.Len(t, f.store.Payments(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrdersRejected.WithLabelValues(string(model.KindConflict))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrdersRejected.WithLabelValues(string(model.KindOutOfStock))))
}

func TestCreateOrder_ActiveSubscription(t *testing.T) {
	f := newFixture(t)
	user, p := f.consumer(0)
	require.NoError(t, f.store.SetSubscriptionEnd(f.ctx, user.ID, f.today))

	dish := f.dish(t, 120, 3)
	entry := f.entry(t, dish, model.MealLunch, f.today)

	res, err := f.engine.CreateOrder(f.ctx, p, entry.ID)
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Equal(t, service.SettledBySubscription, res.Settlement)
	assert.Equal(t, 2, f.stock(t, dish.ID))
	assert.Equal(t, "0", f.user(t, user.ID).Balance.String())
	assert.Empty(t, f.store.Payments())
}

func TestCreateOrder_ExpiredSubscriptionLeavesPaymentPending(t *testing.T) {
	f := newFixture(t)
	user, p := f.consumer(50)
	require.NoError(t, f.store.SetSubscriptionEnd(f.ctx, user.ID, f.today.AddDate(0, 0, -1)))

	dish := f.dish(t, 120, 3)
	entry := f.entry(t, dish, model.MealLunch, f.today)

	res, err := f.engine.CreateOrder(f.ctx, p, entry.ID)
	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.Equal(t, service.SettlementPending, res.Settlement)
	assert.Equal(t, 2, f.stock(t, dish.ID))
	assert.Equal(t, "50", f.user(t, user.ID).Balance.String())

	payments := f.store.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, model.PaymentPending, payments[0].Status)
	assert.Equal(t, "120", payments[0].Amount.String())

	order, ok := f.store.Order(res.OrderID)
	require.True(t, ok)
	assert.False(t, order.Paid)
}

func TestCreateOrder_RefusesUnpaidWhenPolicyDisallows(t *testing.T) {
	f := newFixture(t, func(p *config.Policy) { p.AllowUnpaidReservation = false })
	user, p := f.consumer(50)
	dish := f.dish(t, 120, 3)
	entry := f.entry(t, dish, model.MealLunch, f.today)

	_, err := f.engine.CreateOrder(f.ctx, p, entry.ID)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	assert.Equal(t, 3, f.stock(t, dish.ID))
	assert.Equal(t, "50", f.user(t, user.ID).Balance.String())
	assert.Empty(t, f.store.Payments())
	exists, err := f.store.OrderExists(f.ctx, user.ID, entry.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateOrder_NotFound(t *testing.T) {
	f := newFixture(t)
	_, p := f.consumer(500)

	_, err := f.engine.CreateOrder(f.ctx, p, 999)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCreateOrder_Forbidden(t *testing.T) {
	f := newFixture(t)
	agent := f.agent()
	dish := f.dish(t, 120, 3)
	entry := f.entry(t, dish, model.MealLunch, f.today)

	_, err := f.engine.CreateOrder(f.ctx, agent, entry.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Equal(t, 3, f.stock(t, dish.ID))
}

func TestCreateOrder_ConcurrentUsersNeverOversell(t *testing.T) {
	f := newFixture(t)
	const stock, buyers = 1, 20
	dish := f.dish(t, 10, stock)
	entry := f.entry(t, dish, model.MealLunch, f.today)

	principals := make([]auth.Principal, buyers)
	for i := range principals {
		_, principals[i] = f.namedConsumer(fmt.Sprintf("buyer%d", i), 100)
	}

	errs := make([]error, buyers)
	var g errgroup.Group
	for i, p := range principals {
		g.Go(func() error {
			_, errs[i] = f.engine.CreateOrder(f.ctx, p, entry.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, model.ErrOutOfStock)
	}
	assert.Equal(t, stock, succeeded)
	assert.Equal(t, 0, f.stock(t, dish.ID))
	assert.Len(t, f.store.Payments(), stock)
}

func TestCreateOrder_ConcurrentDuplicatesCreateOneOrder(t *testing.T) {
	f := newFixture(t)
	user, p := f.consumer(1000)
	dish := f.dish(t, 10, 10)
	entry := f.entry(t, dish, model.MealLunch, f.today)

	const attempts = 10
	errs := make([]error, attempts)
	var g errgroup.Group
	for i := range attempts {
		g.Go(func() error {
			_, errs[i] = f.engine.CreateOrder(f.ctx, p, entry.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, model.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 9, f.stock(t, dish.ID))
	assert.Equal(t, "990", f.user(t, user.ID).Balance.String())
}
