package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"fsanano/canteen/internal/auth"
	"fsanano/canteen/internal/config"
	"fsanano/canteen/internal/events"
	"fsanano/canteen/internal/metrics"
	"fsanano/canteen/internal/model"
)

type Deps struct {
	Store     Store
	Policy    config.Policy
	Clock     Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Publisher events.Publisher
}

// Engine is the entry point for every core operation. It checks the caller
// against the capability table once, then dispatches to the component.
type Engine struct {
	Accounts    *AccountLedger
	Stock       *StockLedger
	Inventory   *IngredientInventory
	Menu        *MenuCatalog
	Orders      *OrderManager
	Fulfillment *FulfillmentTracker
	Purchases   *PurchaseRequestWorkflow
	Feedback    *Feedback
	Reports     *Reports

	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	publisher events.Publisher
}

func NewEngine(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Policy.Location == nil {
		d.Policy.Location = time.UTC
	}

	accounts := NewAccountLedger(d.Store, d.Policy, d.Clock)
	stock := NewStockLedger(d.Store)
	inventory := NewIngredientInventory(d.Store)
	menu := NewMenuCatalog(d.Store, d.Policy, d.Clock)

	return &Engine{
		Accounts:    accounts,
		Stock:       stock,
		Inventory:   inventory,
		Menu:        menu,
		Orders:      NewOrderManager(d.Store, accounts, stock, d.Policy, d.Clock),
		Fulfillment: NewFulfillmentTracker(d.Store, stock, menu),
		Purchases:   NewPurchaseRequestWorkflow(d.Store, d.Store, inventory, d.Clock),
		Feedback:    NewFeedback(d.Store),
		Reports:     NewReports(d.Store, menu),

		logger:    d.Logger,
		tracer:    otel.Tracer(config.ServiceName),
		metrics:   d.Metrics,
		publisher: d.Publisher,
	}
}

func (e *Engine) run(ctx context.Context, p auth.Principal, op auth.Operation, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, string(op), trace.WithAttributes(
		attribute.Int64("user.id", p.UserID),
		attribute.String("user.role", string(p.Role)),
	))
	defer span.End()
	defer e.metrics.ObserveSince(string(op), time.Now())

	err := auth.Authorize(p, op)
	if err == nil {
		err = fn(ctx)
	}
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	kind := model.KindOf(err)
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int64("user_id", p.UserID),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if kind == model.KindInternal {
		e.logger.Error("operation failed", fields...)
	} else {
		e.logger.Info("operation rejected", fields...)
	}
	return err
}

// publish runs after commit; a broker failure cannot undo the operation.
func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("failed to publish event",
			zap.String("event_type", string(ev.Type)),
			zap.String("key", ev.Key),
			zap.Error(err),
		)
	}
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (e *Engine) GetTodayMenu(ctx context.Context, p auth.Principal) (Menu, error) {
	var menu Menu
	err := e.run(ctx, p, auth.OpViewMenu, func(ctx context.Context) error {
		var err error
		menu, err = e.Menu.GetTodayMenu(ctx, p.UserID)
		return err
	})
	return menu, err
}

// CreateOrder reserves menuEntryID for the calling consumer.
func (e *Engine) CreateOrder(ctx context.Context, p auth.Principal, menuEntryID int64) (OrderResult, error) {
	var res OrderResult
	err := e.run(ctx, p, auth.OpCreateOrder, func(ctx context.Context) error {
		var err error
		res, err = e.Orders.CreateOrder(ctx, p.UserID, menuEntryID)
		if err != nil {
			e.metrics.OrdersRejected.WithLabelValues(string(model.KindOf(err))).Inc()
			return err
		}
		e.metrics.OrdersCreated.WithLabelValues(string(res.Settlement)).Inc()
		e.publish(ctx, events.New(events.OrderCreated, key(res.OrderID), map[string]any{
			"order_id":      res.OrderID,
			"user_id":       p.UserID,
			"menu_entry_id": menuEntryID,
			"dish_id":       res.DishID,
			"paid":          res.Paid,
			"settlement":    res.Settlement,
		}))
		return nil
	})
	return res, err
}

// PayOrder settles the caller's pending order from their balance.
func (e *Engine) PayOrder(ctx context.Context, p auth.Principal, orderID int64) (PayResult, error) {
	var res PayResult
	err := e.run(ctx, p, auth.OpPayOrder, func(ctx context.Context) error {
		var err error
		res, err = e.Orders.PayOrder(ctx, p.UserID, orderID)
		if err != nil {
			return err
		}
		e.metrics.OrdersPaid.Inc()
		e.publish(ctx, events.New(events.OrderPaid, key(orderID), map[string]any{
			"order_id":    orderID,
			"user_id":     p.UserID,
			"payment_id":  res.PaymentID,
			"amount":      res.Amount,
			"new_balance": res.NewBalance,
		}))
		return nil
	})
	return res, err
}

func (e *Engine) TopUp(ctx context.Context, p auth.Principal, amount decimal.Decimal) (TopUpResult, error) {
	var res TopUpResult
	err := e.run(ctx, p, auth.OpTopUp, func(ctx context.Context) error {
		var err error
		res, err = e.Accounts.Credit(ctx, p.UserID, amount)
		if err != nil {
			return err
		}
		e.publish(ctx, events.New(events.BalanceToppedUp, key(p.UserID), map[string]any{
			"user_id":     p.UserID,
			"amount":      amount,
			"payment_id":  res.PaymentID,
			"new_balance": res.NewBalance,
		}))
		return nil
	})
	return res, err
}

// GrantSubscription buys a subscription for userID. Consumers may only buy for
// themselves; userID 0 means the caller.
func (e *Engine) GrantSubscription(ctx context.Context, p auth.Principal, userID int64, days int) (SubscriptionResult, error) {
	if userID == 0 {
		userID = p.UserID
	}

	var res SubscriptionResult
	err := e.run(ctx, p, auth.OpGrantSubscription, func(ctx context.Context) error {
		if p.Role == model.RoleConsumer && userID != p.UserID {
			return fmt.Errorf("%w: consumers may only subscribe themselves", model.ErrForbidden)
		}
		var err error
		res, err = e.Accounts.GrantSubscription(ctx, userID, days)
		if err != nil {
			return err
		}
		e.publish(ctx, events.New(events.SubscriptionGranted, key(userID), map[string]any{
			"user_id":      userID,
			"days":         days,
			"new_end_date": res.NewEndDate.Format(time.DateOnly),
			"new_balance":  res.NewBalance,
		}))
		return nil
	})
	return res, err
}

func (e *Engine) FindPendingOrders(ctx context.Context, p auth.Principal, identifier string) ([]model.PendingOrder, error) {
	var orders []model.PendingOrder
	err := e.run(ctx, p, auth.OpFindPendingOrders, func(ctx context.Context) error {
		var err error
		orders, err = e.Fulfillment.FindPendingOrders(ctx, identifier)
		return err
	})
	return orders, err
}

func (e *Engine) CollectOrder(ctx context.Context, p auth.Principal, orderID int64) error {
	return e.run(ctx, p, auth.OpCollectOrder, func(ctx context.Context) error {
		changed, err := e.Fulfillment.CollectOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		e.metrics.OrdersCollected.Inc()
		e.publish(ctx, events.New(events.OrderCollected, key(orderID), map[string]any{
			"order_id":     orderID,
			"collected_by": p.UserID,
		}))
		return nil
	})
}

func (e *Engine) WalkInIssue(ctx context.Context, p auth.Principal, dishID int64, identifier string) (WalkInResult, error) {
	var res WalkInResult
	err := e.run(ctx, p, auth.OpWalkInIssue, func(ctx context.Context) error {
		var err error
		res, err = e.Fulfillment.WalkInIssue(ctx, dishID, identifier)
		if err != nil {
			return err
		}
		e.metrics.WalkInIssued.Inc()
		e.publish(ctx, events.New(events.MealWalkInIssued, key(res.OrderID), map[string]any{
			"order_id":      res.OrderID,
			"user_id":       res.UserID,
			"dish_id":       dishID,
			"menu_entry_id": res.MenuEntryID,
			"new_stock":     res.NewStock,
			"issued_by":     p.UserID,
		}))
		return nil
	})
	return res, err
}

func (e *Engine) CreatePurchaseRequest(ctx context.Context, p auth.Principal, ingredientID int64, quantity decimal.Decimal) (int64, error) {
	var id int64
	err := e.run(ctx, p, auth.OpCreatePurchaseRequest, func(ctx context.Context) error {
		var err error
		id, err = e.Purchases.Create(ctx, ingredientID, quantity, p.UserID)
		if err != nil {
			return err
		}
		e.publish(ctx, events.New(events.PurchaseRequestCreated, key(id), map[string]any{
			"request_id":    id,
			"ingredient_id": ingredientID,
			"quantity":      quantity,
			"requested_by":  p.UserID,
		}))
		return nil
	})
	return id, err
}

func (e *Engine) ListPurchaseRequests(ctx context.Context, p auth.Principal, status model.RequestStatus) ([]model.PurchaseRequestView, error) {
	var list []model.PurchaseRequestView
	err := e.run(ctx, p, auth.OpListPurchaseRequests, func(ctx context.Context) error {
		var err error
		list, err = e.Purchases.List(ctx, status)
		return err
	})
	return list, err
}

func (e *Engine) DecidePurchaseRequest(ctx context.Context, p auth.Principal, requestID int64, decision model.RequestStatus) (model.PurchaseRequest, error) {
	var pr model.PurchaseRequest
	err := e.run(ctx, p, auth.OpDecidePurchaseRequest, func(ctx context.Context) error {
		var err error
		pr, err = e.Purchases.Decide(ctx, requestID, decision, p.UserID)
		if err != nil {
			return err
		}
		e.metrics.RequestsDecided.WithLabelValues(string(decision)).Inc()
		e.publish(ctx, events.New(events.PurchaseRequestDecided, key(requestID), map[string]any{
			"request_id":    requestID,
			"ingredient_id": pr.IngredientID,
			"quantity":      pr.Quantity,
			"status":        pr.Status,
			"decided_by":    p.UserID,
		}))
		return nil
	})
	return pr, err
}

func (e *Engine) SubmitReview(ctx context.Context, p auth.Principal, dishID int64, rating int, comment string) (model.Review, error) {
	var r model.Review
	err := e.run(ctx, p, auth.OpSubmitReview, func(ctx context.Context) error {
		var err error
		r, err = e.Feedback.SubmitReview(ctx, p.UserID, dishID, rating, comment)
		if err != nil {
			return err
		}
		e.publish(ctx, events.New(events.ReviewSubmitted, key(r.ID), map[string]any{
			"review_id": r.ID,
			"user_id":   p.UserID,
			"dish_id":   dishID,
			"rating":    rating,
		}))
		return nil
	})
	return r, err
}

func (e *Engine) ListReviews(ctx context.Context, p auth.Principal, dishID int64) ([]model.Review, error) {
	var list []model.Review
	err := e.run(ctx, p, auth.OpViewReviews, func(ctx context.Context) error {
		var err error
		list, err = e.Feedback.ListReviews(ctx, dishID)
		return err
	})
	return list, err
}

func (e *Engine) AddAllergen(ctx context.Context, p auth.Principal, ingredientID int64, note string) error {
	return e.run(ctx, p, auth.OpManageAllergens, func(ctx context.Context) error {
		return e.Feedback.AddAllergen(ctx, p.UserID, ingredientID, note)
	})
}

func (e *Engine) RemoveAllergen(ctx context.Context, p auth.Principal, ingredientID int64) error {
	return e.run(ctx, p, auth.OpManageAllergens, func(ctx context.Context) error {
		return e.Feedback.RemoveAllergen(ctx, p.UserID, ingredientID)
	})
}

func (e *Engine) ListAllergens(ctx context.Context, p auth.Principal) ([]model.Allergen, error) {
	var list []model.Allergen
	err := e.run(ctx, p, auth.OpManageAllergens, func(ctx context.Context) error {
		var err error
		list, err = e.Feedback.ListAllergens(ctx, p.UserID)
		return err
	})
	return list, err
}

func (e *Engine) LowStockIngredients(ctx context.Context, p auth.Principal) ([]model.Ingredient, error) {
	var list []model.Ingredient
	err := e.run(ctx, p, auth.OpViewLowStock, func(ctx context.Context) error {
		var err error
		list, err = e.Inventory.LowStock(ctx)
		return err
	})
	return list, err
}

func (e *Engine) Stats(ctx context.Context, p auth.Principal) (Stats, error) {
	var s Stats
	err := e.run(ctx, p, auth.OpViewStats, func(ctx context.Context) error {
		var err error
		s, err = e.Reports.Stats(ctx)
		return err
	})
	return s, err
}

func (e *Engine) DailyRevenue(ctx context.Context, p auth.Principal, days int) ([]model.DailyRevenue, error) {
	var list []model.DailyRevenue
	err := e.run(ctx, p, auth.OpViewStats, func(ctx context.Context) error {
		var err error
		list, err = e.Reports.DailyRevenue(ctx, days)
		return err
	})
	return list, err
}
