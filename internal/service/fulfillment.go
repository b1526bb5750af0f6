package service

import (
	"context"
	"fmt"
	"strings"

	"fsanano/canteen/internal/model"
)

type WalkInResult struct {
	OrderID     int64 `json:"order_id"`
	MenuEntryID int64 `json:"menu_entry_id"`
	UserID      int64 `json:"user_id"`
	NewStock    int   `json:"new_stock"`
}

// FulfillmentTracker drives orders from created to collected.
type FulfillmentTracker struct {
	store OrderStore
	stock *StockLedger
	menu  *MenuCatalog
}

func NewFulfillmentTracker(store OrderStore, stock *StockLedger, menu *MenuCatalog) *FulfillmentTracker {
	return &FulfillmentTracker{store: store, stock: stock, menu: menu}
}

// FindPendingOrders returns today's uncollected orders of the identified user.
func (f *FulfillmentTracker) FindPendingOrders(ctx context.Context, identifier string) ([]model.PendingOrder, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", model.ErrValidation)
	}

	user, err := f.store.FindUser(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return f.store.ListPendingOrders(ctx, user.ID, f.menu.Today())
}

// CollectOrder marks the order collected. Collecting twice is a no-op; the
// returned flag is true only for the call that changed state.
func (f *FulfillmentTracker) CollectOrder(ctx context.Context, orderID int64) (bool, error) {
	return f.store.MarkOrderCollected(ctx, orderID)
}

// WalkInIssue issues a meal without a prior reservation: it reserves a portion
// and records an order that is already paid and collected.
func (f *FulfillmentTracker) WalkInIssue(ctx context.Context, dishID int64, identifier string) (WalkInResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return WalkInResult{}, fmt.Errorf("%w: identifier is required", model.ErrValidation)
	}

	var res WalkInResult
	err := f.store.RunAtomic(ctx, func(ctx context.Context) error {
		remaining, err := f.stock.Reserve(ctx, dishID)
		if err != nil {
			return err
		}

		user, err := f.store.FindUser(ctx, identifier)
		if err != nil {
			return err
		}

		entry, err := f.menu.resolveForDish(ctx, dishID)
		if err != nil {
			return err
		}

		exists, err := f.store.OrderExists(ctx, user.ID, entry.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: user %d already has an order for menu entry %d", model.ErrConflict, user.ID, entry.ID)
		}

		orderID, err := f.store.InsertOrder(ctx, model.Order{
			UserID:      user.ID,
			MenuEntryID: entry.ID,
			Paid:        true,
			Collected:   true,
		})
		if err != nil {
			return err
		}

		res = WalkInResult{OrderID: orderID, MenuEntryID: entry.ID, UserID: user.ID, NewStock: remaining}
		return nil
	})
	if err != nil {
		return WalkInResult{}, err
	}
	return res, nil
}
