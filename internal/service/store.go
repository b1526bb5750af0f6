package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fsanano/canteen/internal/model"
)

// Atomic runs fn in one transaction. Calls made with the ctx passed to fn join
// that transaction; a nested RunAtomic joins the outer one.
type Atomic interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error
}

type AccountStore interface {
	Atomic
	GetUser(ctx context.Context, userID int64) (model.User, error)
	GetUserForUpdate(ctx context.Context, userID int64) (model.User, error)
	AddUserBalance(ctx context.Context, userID int64, delta decimal.Decimal) error
	SetSubscriptionEnd(ctx context.Context, userID int64, end time.Time) error
	InsertPayment(ctx context.Context, p model.Payment) (int64, error)
}

type StockStore interface {
	Atomic
	GetDishForUpdate(ctx context.Context, dishID int64) (model.Dish, error)
	AddDishStock(ctx context.Context, dishID int64, delta int) error
}

type InventoryStore interface {
	Atomic
	GetIngredientForUpdate(ctx context.Context, ingredientID int64) (model.Ingredient, error)
	AddIngredientQuantity(ctx context.Context, ingredientID int64, delta decimal.Decimal) error
	ListLowStockIngredients(ctx context.Context) ([]model.Ingredient, error)
}

type MenuStore interface {
	GetMenuEntry(ctx context.Context, menuEntryID int64) (model.MenuEntry, error)
	// FindMenuEntryForDish returns the first entry for dishID on date, any meal type.
	FindMenuEntryForDish(ctx context.Context, date time.Time, dishID int64) (model.MenuEntry, error)
	CreateMenuEntry(ctx context.Context, e model.MenuEntry) (model.MenuEntry, error)
	ListMenu(ctx context.Context, date time.Time) ([]model.MenuItem, error)
	// AllergenDishIDs returns dishes containing any ingredient userID is allergic to.
	AllergenDishIDs(ctx context.Context, userID int64) ([]int64, error)
}

type OrderStore interface {
	Atomic
	// FindUser resolves an identifier as a numeric id, then as email or username.
	FindUser(ctx context.Context, identifier string) (model.User, error)
	OrderExists(ctx context.Context, userID, menuEntryID int64) (bool, error)
	InsertOrder(ctx context.Context, o model.Order) (int64, error)
	ListPendingOrders(ctx context.Context, userID int64, date time.Time) ([]model.PendingOrder, error)
	GetOrderForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	// GetOrderPaymentForUpdate locks the single payment linked to orderID.
	GetOrderPaymentForUpdate(ctx context.Context, orderID int64) (model.Payment, error)
	// CompletePayment marks the payment completed and restamps it at the completion instant.
	CompletePayment(ctx context.Context, paymentID int64) error
	MarkOrderPaid(ctx context.Context, orderID int64) error
	// MarkOrderCollected reports whether the order moved to collected by this call.
	MarkOrderCollected(ctx context.Context, orderID int64) (bool, error)
}

type PurchaseStore interface {
	Atomic
	InsertPurchaseRequest(ctx context.Context, pr model.PurchaseRequest) (int64, error)
	GetPurchaseRequestForUpdate(ctx context.Context, requestID int64) (model.PurchaseRequest, error)
	UpdatePurchaseRequestDecision(ctx context.Context, pr model.PurchaseRequest) error
	ListPurchaseRequests(ctx context.Context, status model.RequestStatus) ([]model.PurchaseRequestView, error)
}

type FeedbackStore interface {
	// InsertReview fails with model.ErrNotFound when the dish does not exist.
	InsertReview(ctx context.Context, r model.Review) (int64, error)
	ListReviews(ctx context.Context, dishID int64) ([]model.Review, error)
	// UpsertAllergen fails with model.ErrNotFound when the ingredient does not exist.
	UpsertAllergen(ctx context.Context, a model.Allergen) error
	// DeleteAllergen reports whether a row was removed.
	DeleteAllergen(ctx context.Context, userID, ingredientID int64) (bool, error)
	ListAllergens(ctx context.Context, userID int64) ([]model.Allergen, error)
}

type ReportStore interface {
	// CountOrdersOn counts orders placed against menu entries dated date.
	CountOrdersOn(ctx context.Context, date time.Time) (int, error)
	// RevenueBetween sums completed single and subscription payments in [from, to).
	RevenueBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	CountCollectedOrders(ctx context.Context) (int, error)
	// DailyRevenue groups completed revenue in [from, to) by calendar day in loc.
	DailyRevenue(ctx context.Context, from, to time.Time, loc *time.Location) ([]model.DailyRevenue, error)
}

// Store is everything the engine needs from persistence.
type Store interface {
	AccountStore
	StockStore
	InventoryStore
	MenuStore
	OrderStore
	PurchaseStore
	FeedbackStore
	ReportStore
}

// Clock returns the current instant; tests pin it.
type Clock func() time.Time
