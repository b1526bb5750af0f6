package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleConsumer Role = "consumer"
	RoleAgent    Role = "fulfillment_agent"
	RoleApprover Role = "approver"
)

func (r Role) Valid() bool {
	switch r {
	case RoleConsumer, RoleAgent, RoleApprover:
		return true
	}
	return false
}

type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
)

func (m MealType) Valid() bool {
	return m == MealBreakfast || m == MealLunch
}

type PaymentKind string

const (
	PaymentSubscription PaymentKind = "subscription"
	PaymentSingle       PaymentKind = "single"
	PaymentTopUp        PaymentKind = "topup"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected:
		return true
	}
	return false
}

type User struct {
	ID                  int64           `json:"id"`
	Username            string          `json:"username"`
	Email               string          `json:"email"`
	Role                Role            `json:"role"`
	Balance             decimal.Decimal `json:"balance"`
	SubscriptionEndDate *time.Time      `json:"subscription_end_date,omitempty"`
}

type Dish struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	CurrentStock int             `json:"current_stock"`
}

// MenuEntry is a published schedule fact and is never updated.
type MenuEntry struct {
	ID          int64     `json:"id"`
	Date        time.Time `json:"date"`
	MealType    MealType  `json:"meal_type"`
	DishID      int64     `json:"dish_id"`
	MaxPortions int       `json:"max_portions"`
}

type Order struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	MenuEntryID int64     `json:"menu_entry_id"`
	CreatedAt   time.Time `json:"created_at"`
	Paid        bool      `json:"paid"`
	Collected   bool      `json:"collected"`
}

type Payment struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Kind      PaymentKind     `json:"kind"`
	OrderID   *int64          `json:"order_id,omitempty"`
	Status    PaymentStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type Ingredient struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Unit            string          `json:"unit"`
	CurrentQuantity decimal.Decimal `json:"current_quantity"`
	MinQuantity     decimal.Decimal `json:"min_quantity"`
}

type PurchaseRequest struct {
	ID           int64           `json:"id"`
	IngredientID int64           `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	RequestedBy  int64           `json:"requested_by"`
	Status       RequestStatus   `json:"status"`
	ApprovedBy   *int64          `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MenuItem is a menu entry joined with its dish and the dish's live stock.
type MenuItem struct {
	MenuEntryID    int64           `json:"menu_entry_id"`
	MealType       MealType        `json:"meal_type"`
	DishID         int64           `json:"dish_id"`
	DishName       string          `json:"dish_name"`
	Price          decimal.Decimal `json:"price"`
	RemainingStock int             `json:"remaining_stock"`
	MaxPortions    int             `json:"max_portions"`
	// Dangerous is set when the dish contains an ingredient the viewer is allergic to.
	Dangerous      bool            `json:"dangerous"`
}

type Review struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	DishID    int64     `json:"dish_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// Allergen marks an ingredient a user must not be served.
type Allergen struct {
	UserID         int64  `json:"user_id"`
	IngredientID   int64  `json:"ingredient_id"`
	IngredientName string `json:"ingredient_name"`
	Note           string `json:"note"`
}

type PendingOrder struct {
	OrderID  int64  `json:"order_id"`
	DishName string `json:"dish_name"`
	Paid     bool   `json:"paid"`
}

type PurchaseRequestView struct {
	PurchaseRequest
	IngredientName string `json:"ingredient_name"`
	Unit           string `json:"unit"`
}

type DailyRevenue struct {
	Date         time.Time       `json:"date"`
	Revenue      decimal.Decimal `json:"revenue"`
	Transactions int             `json:"transactions"`
}

// Date truncates t to a calendar day in t's location and returns it as UTC midnight,
// the representation used for DATE columns.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const (
	MoneyPlaces    = 2
	QuantityPlaces = 3
)

// FitsMoney reports whether amount is stored exactly in a NUMERIC(12,2) column.
func FitsMoney(amount decimal.Decimal) bool {
	return fits(amount, MoneyPlaces)
}

// FitsQuantity reports whether amount is stored exactly in a NUMERIC(12,3) column.
func FitsQuantity(amount decimal.Decimal) bool {
	return fits(amount, QuantityPlaces)
}

func fits(amount decimal.Decimal, places int32) bool {
	limit := decimal.New(1, 12-places)
	return amount.Equal(amount.Truncate(places)) && amount.Abs().LessThan(limit)
}
