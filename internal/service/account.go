package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fsanano/canteen/internal/config"
	"fsanano/canteen/internal/model"
)

// AccountLedger owns user balances and subscription windows.
type AccountLedger struct {
	store  AccountStore
	policy config.Policy
	now    Clock
}

func NewAccountLedger(store AccountStore, policy config.Policy, now Clock) *AccountLedger {
	return &AccountLedger{store: store, policy: policy, now: now}
}

type TopUpResult struct {
	PaymentID  int64           `json:"payment_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

type SubscriptionResult struct {
	NewEndDate time.Time       `json:"new_end_date"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

func (l *AccountLedger) today() time.Time {
	return model.Date(l.now().In(l.policy.Location))
}

// Debit takes amount from the user's balance, joining the caller's transaction if any.
func (l *AccountLedger) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() || !model.FitsMoney(amount) {
		return decimal.Zero, fmt.Errorf("%w: invalid debit amount %s", model.ErrValidation, amount)
	}

	var balance decimal.Decimal
	err := l.store.RunAtomic(ctx, func(ctx context.Context) error {
		user, err := l.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.Balance.LessThan(amount) {
			return fmt.Errorf("%w: balance %s, need %s", model.ErrInsufficientFunds, user.Balance, amount)
		}
		if err := l.store.AddUserBalance(ctx, userID, amount.Neg()); err != nil {
			return err
		}
		balance = user.Balance.Sub(amount)
		return nil
	})
	return balance, err
}

// Credit adds amount to the balance and records a completed topup payment.
func (l *AccountLedger) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (TopUpResult, error) {
	if !amount.IsPositive() {
		return TopUpResult{}, fmt.Errorf("%w: top-up amount must be positive", model.ErrValidation)
	}
	if !model.FitsMoney(amount) {
		return TopUpResult{}, fmt.Errorf("%w: top-up amount %s has more than %d decimal places or is too large",
			model.ErrValidation, amount, model.MoneyPlaces)
	}

	var res TopUpResult
	err := l.store.RunAtomic(ctx, func(ctx context.Context) error {
		user, err := l.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := l.store.AddUserBalance(ctx, userID, amount); err != nil {
			return err
		}
		paymentID, err := l.store.InsertPayment(ctx, model.Payment{
			UserID: userID,
			Amount: amount,
			Kind:   model.PaymentTopUp,
			Status: model.PaymentCompleted,
		})
		if err != nil {
			return err
		}
		res = TopUpResult{PaymentID: paymentID, NewBalance: user.Balance.Add(amount)}
		return nil
	})
	return res, err
}

// SubscriptionPrice is the policy price for a window of days.
func (l *AccountLedger) SubscriptionPrice(days int) decimal.Decimal {
	return l.policy.SubscriptionPricePerDay.Mul(decimal.NewFromInt(int64(days)))
}

// GrantSubscription charges the policy price and sets the end date to today+days.
// An existing end date in the future is replaced, not extended.
func (l *AccountLedger) GrantSubscription(ctx context.Context, userID int64, days int) (SubscriptionResult, error) {
	if days <= 0 || days > l.policy.SubscriptionMaxDays {
		return SubscriptionResult{}, fmt.Errorf("%w: days must be within 1..%d", model.ErrValidation, l.policy.SubscriptionMaxDays)
	}
	price := l.SubscriptionPrice(days)

	var res SubscriptionResult
	err := l.store.RunAtomic(ctx, func(ctx context.Context) error {
		balance, err := l.Debit(ctx, userID, price)
		if err != nil {
			return err
		}

		end := l.today().AddDate(0, 0, days)
		if err := l.store.SetSubscriptionEnd(ctx, userID, end); err != nil {
			return err
		}
		if _, err := l.store.InsertPayment(ctx, model.Payment{
			UserID: userID,
			Amount: price,
			Kind:   model.PaymentSubscription,
			Status: model.PaymentCompleted,
		}); err != nil {
			return err
		}

		res = SubscriptionResult{NewEndDate: end, NewBalance: balance}
		return nil
	})
	return res, err
}

// IsSubscriptionActive reports whether the user's subscription covers asOf.
// It does not lock the user; callers that act on the answer lock the row first.
func (l *AccountLedger) IsSubscriptionActive(ctx context.Context, userID int64, asOf time.Time) (bool, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.SubscriptionEndDate != nil && !model.Date(*user.SubscriptionEndDate).Before(model.Date(asOf)), nil
}
