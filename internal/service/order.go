package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fsanano/canteen/internal/config"
	"fsanano/canteen/internal/model"
)

type Settlement string

const (
	SettledBySubscription Settlement = "subscription"
	SettledByBalance      Settlement = "balance"
	SettlementPending     Settlement = "pending"
)

type OrderResult struct {
	OrderID    int64      `json:"order_id"`
	Paid       bool       `json:"paid"`
	Settlement Settlement `json:"settlement"`
	DishID     int64      `json:"dish_id"`
}

// OrderManager reserves a portion and settles its payment in one transaction.
type OrderManager struct {
	store    Store
	accounts *AccountLedger
	stock    *StockLedger
	policy   config.Policy
	now      Clock
}

func NewOrderManager(store Store, accounts *AccountLedger, stock *StockLedger, policy config.Policy, now Clock) *OrderManager {
	return &OrderManager{
		store:    store,
		accounts: accounts,
		stock:    stock,
		policy:   policy,
		now:      now,
	}
}

func (m *OrderManager) CreateOrder(ctx context.Context, userID, menuEntryID int64) (OrderResult, error) {
	var res OrderResult

	err := m.store.RunAtomic(ctx, func(ctx context.Context) error {
		// 1. Resolve menu entry and lock its dish
		entry, err := m.store.GetMenuEntry(ctx, menuEntryID)
		if err != nil {
			return err
		}
		dish, err := m.store.GetDishForUpdate(ctx, entry.DishID)
		if err != nil {
			return err
		}

		// 2. Lock the user row; duplicates for the same user serialize here
		user, err := m.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		exists, err := m.store.OrderExists(ctx, userID, menuEntryID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: user %d already ordered menu entry %d", model.ErrConflict, userID, menuEntryID)
		}

		// 3. Check stock
		if dish.CurrentStock <= 0 {
			return fmt.Errorf("%w: dish %d", model.ErrOutOfStock, dish.ID)
		}

		// 4. Settle; the user row is already locked, so a plain read is enough
		subscribed, err := m.accounts.IsSubscriptionActive(ctx, userID, m.now().In(m.policy.Location))
		if err != nil {
			return err
		}
		var payment *model.Payment
		switch {
		case subscribed:
			res.Settlement = SettledBySubscription
		case user.Balance.GreaterThanOrEqual(dish.Price):
			if _, err := m.accounts.Debit(ctx, userID, dish.Price); err != nil {
				return err
			}
			res.Settlement = SettledByBalance
			payment = &model.Payment{UserID: userID, Amount: dish.Price, Kind: model.PaymentSingle, Status: model.PaymentCompleted}
		case m.policy.AllowUnpaidReservation:
			res.Settlement = SettlementPending
			payment = &model.Payment{UserID: userID, Amount: dish.Price, Kind: model.PaymentSingle, Status: model.PaymentPending}
		default:
			return fmt.Errorf("%w: balance %s, price %s", model.ErrInsufficientFunds, user.Balance, dish.Price)
		}
		res.Paid = res.Settlement != SettlementPending

		// 5. Reserve the portion
		if _, err := m.stock.Reserve(ctx, dish.ID); err != nil {
			return err
		}

		// 6. Record the order and link its payment
		orderID, err := m.store.InsertOrder(ctx, model.Order{
			UserID:      userID,
			MenuEntryID: menuEntryID,
			Paid:        res.Paid,
		})
		if err != nil {
			return err
		}
		if payment != nil {
			payment.OrderID = &orderID
			if _, err := m.store.InsertPayment(ctx, *payment); err != nil {
				return err
			}
		}

		res.OrderID = orderID
		res.DishID = dish.ID
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}
	return res, nil
}

type PayResult struct {
	OrderID    int64           `json:"order_id"`
	PaymentID  int64           `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// PayOrder settles the pending single payment of userID's order from the balance.
// An order that is already paid, by either balance or subscription, is a conflict.
func (m *OrderManager) PayOrder(ctx context.Context, userID, orderID int64) (PayResult, error) {
	var res PayResult

	err := m.store.RunAtomic(ctx, func(ctx context.Context) error {
		order, err := m.store.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			// Someone else's order is reported as absent
			return fmt.Errorf("%w: order %d", model.ErrNotFound, orderID)
		}
		if order.Paid {
			return fmt.Errorf("%w: order %d is already paid", model.ErrConflict, orderID)
		}

		payment, err := m.store.GetOrderPaymentForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if payment.Status == model.PaymentCompleted {
			return fmt.Errorf("%w: payment %d is already completed", model.ErrConflict, payment.ID)
		}

		balance, err := m.accounts.Debit(ctx, userID, payment.Amount)
		if err != nil {
			return err
		}
		if err := m.store.CompletePayment(ctx, payment.ID); err != nil {
			return err
		}
		if err := m.store.MarkOrderPaid(ctx, orderID); err != nil {
			return err
		}

		res = PayResult{
			OrderID:    orderID,
			PaymentID:  payment.ID,
			Amount:     payment.Amount,
			NewBalance: balance,
		}
		return nil
	})
	if err != nil {
		return PayResult{}, err
	}
	return res, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
