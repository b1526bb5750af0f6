package auth

import (
	"context"
	"fmt"

	"fsanano/canteen/internal/model"
)

// Principal is the authenticated caller of a core operation.
type Principal struct {
	UserID int64
	Role   model.Role
}

type Operation string

const (
	OpViewMenu              Operation = "view_menu"
	OpCreateOrder           Operation = "create_order"
	OpTopUp                 Operation = "top_up"
	OpGrantSubscription     Operation = "grant_subscription"
	OpFindPendingOrders     Operation = "find_pending_orders"
	OpCollectOrder          Operation = "collect_order"
	OpWalkInIssue           Operation = "walk_in_issue"
	OpCreatePurchaseRequest Operation = "create_purchase_request"
	OpListPurchaseRequests  Operation = "list_purchase_requests"
	OpDecidePurchaseRequest Operation = "decide_purchase_request"
	OpViewLowStock          Operation = "view_low_stock"
	OpViewStats             Operation = "view_stats"
	OpPayOrder              Operation = "pay_order"
	OpSubmitReview          Operation = "submit_review"
	OpViewReviews           Operation = "view_reviews"
	OpManageAllergens       Operation = "manage_allergens"
)

var capabilities = map[Operation][]model.Role{
	OpViewMenu:              {model.RoleConsumer, model.RoleAgent, model.RoleApprover},
	OpCreateOrder:           {model.RoleConsumer},
	OpTopUp:                 {model.RoleConsumer},
	OpGrantSubscription:     {model.RoleConsumer, model.RoleApprover},
	OpFindPendingOrders:     {model.RoleAgent},
	OpCollectOrder:          {model.RoleAgent},
	OpWalkInIssue:           {model.RoleAgent},
	OpCreatePurchaseRequest: {model.RoleAgent},
	OpListPurchaseRequests:  {model.RoleAgent, model.RoleApprover},
	OpDecidePurchaseRequest: {model.RoleApprover},
	OpViewLowStock:          {model.RoleAgent, model.RoleApprover},
	OpViewStats:             {model.RoleApprover},
	OpPayOrder:              {model.RoleConsumer},
	OpSubmitReview:          {model.RoleConsumer},
	OpViewReviews:           {model.RoleConsumer, model.RoleAgent, model.RoleApprover},
	OpManageAllergens:       {model.RoleConsumer},
}

// Authorize reports model.ErrForbidden unless p's role may perform op.
func Authorize(p Principal, op Operation) error {
	for _, r := range capabilities[op] {
		if r == p.Role {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q may not %s", model.ErrForbidden, p.Role, op)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
