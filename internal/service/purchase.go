package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"fsanano/canteen/internal/model"
)

// PurchaseRequestWorkflow moves restock requests from pending to approved or
// rejected. Approval replenishes the ingredient in the same transaction.
type PurchaseRequestWorkflow struct {
	store     PurchaseStore
	inventory *IngredientInventory
	ingreds   InventoryStore
	now       Clock
}

func NewPurchaseRequestWorkflow(store PurchaseStore, ingreds InventoryStore, inventory *IngredientInventory, now Clock) *PurchaseRequestWorkflow {
	return &PurchaseRequestWorkflow{
		store:     store,
		inventory: inventory,
		ingreds:   ingreds,
		now:       now,
	}
}

func (w *PurchaseRequestWorkflow) Create(ctx context.Context, ingredientID int64, quantity decimal.Decimal, requestedBy int64) (int64, error) {
	if err := checkQuantity(quantity); err != nil {
		return 0, err
	}

	var id int64
	err := w.store.RunAtomic(ctx, func(ctx context.Context) error {
		if _, err := w.ingreds.GetIngredientForUpdate(ctx, ingredientID); err != nil {
			return err
		}
		var err error
		id, err = w.store.InsertPurchaseRequest(ctx, model.PurchaseRequest{
			IngredientID: ingredientID,
			Quantity:     quantity,
			RequestedBy:  requestedBy,
			Status:       model.RequestPending,
		})
		return err
	})
	return id, err
}

// Decide applies decision to a pending request. Any other current status is a conflict,
// so a request is applied to inventory at most once.
func (w *PurchaseRequestWorkflow) Decide(ctx context.Context, requestID int64, decision model.RequestStatus, approverID int64) (model.PurchaseRequest, error) {
	if decision != model.RequestApproved && decision != model.RequestRejected {
		return model.PurchaseRequest{}, fmt.Errorf("%w: decision must be approved or rejected", model.ErrValidation)
	}

	var pr model.PurchaseRequest
	err := w.store.RunAtomic(ctx, func(ctx context.Context) error {
		var err error
		pr, err = w.store.GetPurchaseRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if pr.Status != model.RequestPending {
			return fmt.Errorf("%w: purchase request %d is already %s", model.ErrConflict, requestID, pr.Status)
		}

		if decision == model.RequestApproved {
			if _, err := w.inventory.Replenish(ctx, pr.IngredientID, pr.Quantity); err != nil {
				return err
			}
		}

		decidedAt := w.now().UTC()
		pr.Status = decision
		pr.ApprovedBy = &approverID
		pr.ApprovedAt = &decidedAt
		return w.store.UpdatePurchaseRequestDecision(ctx, pr)
	})
	if err != nil {
		return model.PurchaseRequest{}, err
	}
	return pr, nil
}

// List returns requests with the given status, or all when status is empty.
func (w *PurchaseRequestWorkflow) List(ctx context.Context, status model.RequestStatus) ([]model.PurchaseRequestView, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrValidation, status)
	}
	return w.store.ListPurchaseRequests(ctx, status)
}
