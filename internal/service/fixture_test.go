package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fsanano/canteen/internal/auth"
	"fsanano/canteen/internal/config"
	"fsanano/canteen/internal/events"
	"fsanano/canteen/internal/metrics"
	"fsanano/canteen/internal/model"
	"fsanano/canteen/internal/repository"
	"fsanano/canteen/internal/service"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, e events.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *mockPublisher) Close() error { return nil }

func eventOfType(t events.Type) any {
	return mock.MatchedBy(func(e events.Event) bool { return e.Type == t })
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	ctx     context.Context
	store   *repository.MemoryStore
	engine  *service.Engine
	metrics *metrics.Metrics
	pub     *mockPublisher
	clock   *testClock
	today   time.Time
}

var fixtureNow = time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, tweak ...func(*config.Policy)) *fixture {
	t.Helper()

	policy := config.DefaultPolicy()
	for _, fn := range tweak {
		fn(&policy)
	}

	clock := &testClock{t: fixtureNow}
	store := repository.NewMemoryStore()
	store.SetClock(clock.Now)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	m := metrics.New(prometheus.NewRegistry())
	engine := service.NewEngine(service.Deps{
		Store:     store,
		Policy:    policy,
		Clock:     clock.Now,
		Logger:    zap.NewNop(),
		Metrics:   m,
		Publisher: pub,
	})

	return &fixture{
		ctx:     context.Background(),
		store:   store,
		engine:  engine,
		metrics: m,
		pub:     pub,
		clock:   clock,
		today:   model.Date(fixtureNow),
	}
}

func (f *fixture) consumer(balance int64) (model.User, auth.Principal) {
	return f.namedConsumer("student", balance)
}

func (f *fixture) namedConsumer(name string, balance int64) (model.User, auth.Principal) {
	u := f.store.AddUser(model.User{
		Username: name,
		Email:    name + "@school.test",
		Role:     model.RoleConsumer,
		Balance:  decimal.NewFromInt(balance),
	})
	return u, auth.Principal{UserID: u.ID, Role: model.RoleConsumer}
}

func (f *fixture) agent() auth.Principal {
	u := f.store.AddUser(model.User{Username: "cook", Email: "cook@school.test", Role: model.RoleAgent})
	return auth.Principal{UserID: u.ID, Role: model.RoleAgent}
}

func (f *fixture) approver() auth.Principal {
	u := f.store.AddUser(model.User{Username: "admin", Email: "admin@school.test", Role: model.RoleApprover})
	return auth.Principal{UserID: u.ID, Role: model.RoleApprover}
}

func (f *fixture) dish(t *testing.T, price int64, stock int) model.Dish {
	t.Helper()
	return f.store.AddDish(model.Dish{Name: "borscht", Price: decimal.NewFromInt(price), CurrentStock: stock})
}

func (f *fixture) entry(t *testing.T, dish model.Dish, meal model.MealType, date time.Time) model.MenuEntry {
	t.Helper()
	e, err := f.store.CreateMenuEntry(f.ctx, model.MenuEntry{Date: date, MealType: meal, DishID: dish.ID, MaxPortions: 100})
	require.NoError(t, err)
	return e
}

func (f *fixture) user(t *testing.T, id int64) model.User {
	t.Helper()
	u, err := f.store.GetUserForUpdate(f.ctx, id)
	require.NoError(t, err)
	return u
}

func (f *fixture) stock(t *testing.T, dishID int64) int {
	t.Helper()
	d, err := f.store.GetDishForUpdate(f.ctx, dishID)
	require.NoError(t, err)
	return d.CurrentStock
}

// race runs fn n times concurrently and returns how many calls succeeded.
// Every failed call must match want.
func race(t *testing.T, n int, want error, fn func(i int) error) int {
	t.Helper()
	errs := make([]error, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			errs[i] = fn(i)
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
		assert.ErrorIs(t, err, want)
	}
	return succeeded
}
