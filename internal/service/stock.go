package service

import (
	"context"
	"fmt"

	"fsanano/canteen/internal/model"
)

// StockLedger tracks servable portions per dish.
type StockLedger struct {
	store StockStore
}

func NewStockLedger(store StockStore) *StockLedger {
	return &StockLedger{store: store}
}

// Reserve takes one portion and returns the remaining stock. The dish row stays
// locked until the enclosing transaction ends.
func (s *StockLedger) Reserve(ctx context.Context, dishID int64) (int, error) {
	var remaining int
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		dish, err := s.store.GetDishForUpdate(ctx, dishID)
		if err != nil {
			return err
		}
		if dish.CurrentStock <= 0 {
			return fmt.Errorf("%w: dish %d", model.ErrOutOfStock, dishID)
		}
		if err := s.store.AddDishStock(ctx, dishID, -1); err != nil {
			return err
		}
		remaining = dish.CurrentStock - 1
		return nil
	})
	return remaining, err
}

// Release returns one portion. It compensates a failed issuance only;
// orders are history and are never refunded through it.
func (s *StockLedger) Release(ctx context.Context, dishID int64) (int, error) {
	var remaining int
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		dish, err := s.store.GetDishForUpdate(ctx, dishID)
		if err != nil {
			return err
		}
		if err := s.store.AddDishStock(ctx, dishID, 1); err != nil {
			return err
		}
		remaining = dish.CurrentStock + 1
		return nil
	})
	return remaining, err
}
