package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fsanano/canteen/internal/model"
)

type CreateOrderRequest struct {
	MenuEntryID int64 `json:"menu_entry_id"`
}

type WalkInRequest struct {
	DishID     int64  `json:"dish_id"`
	Identifier string `json:"identifier"`
}

type PurchaseRequestBody struct {
	IngredientID int64           `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type DecisionRequest struct {
	Status model.RequestStatus `json:"status"`
}

type SubscriptionRequest struct {
	UserID int64 `json:"user_id"`
	Days   int   `json:"days"`
}

type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type ReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type AllergenRequest struct {
	Note string `json:"note"`
}

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) GetTodayMenu(w http.ResponseWriter, r *http.Request) {
	menu, err := h.engine.GetTodayMenu(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, menu)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.engine.CreateOrder(r.Context(), principal(r), req.MenuEntryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	res, err := h.engine.PayOrder(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CollectOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.engine.CollectOrder(r.Context(), principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "collected": true})
}

func (h *Handler) FindPendingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.FindPendingOrders(r.Context(), principal(r), r.URL.Query().Get("identifier"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []model.PendingOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) WalkInIssue(w http.ResponseWriter, r *http.Request) {
	var req WalkInRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.engine.WalkInIssue(r.Context(), principal(r), req.DishID, req.Identifier)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) LowStockIngredients(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.LowStockIngredients(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Ingredient{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequestBody
	if !decode(w, r, &req) {
		return
	}

	id, err := h.engine.CreatePurchaseRequest(r.Context(), principal(r), req.IngredientID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request_id": id})
}

func (h *Handler) ListPurchaseRequests(w http.ResponseWriter, r *http.Request) {
	status := model.RequestStatus(r.URL.Query().Get("status"))
	list, err := h.engine.ListPurchaseRequests(r.Context(), principal(r), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.PurchaseRequestView{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) DecidePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !decode(w, r, &req) {
		return
	}

	pr, err := h.engine.DecidePurchaseRequest(r.Context(), principal(r), id, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (h *Handler) GrantSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.engine.GrantSubscription(r.Context(), principal(r), req.UserID, req.Days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.engine.TopUp(r.Context(), principal(r), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	dishID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ReviewRequest
	if !decode(w, r, &req) {
		return
	}

	review, err := h.engine.SubmitReview(r.Context(), principal(r), dishID, req.Rating, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	dishID, ok := pathID(w, r)
	if !ok {
		return
	}

	list, err := h.engine.ListReviews(r.Context(), principal(r), dishID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Review{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ListAllergens(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListAllergens(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Allergen{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) AddAllergen(w http.ResponseWriter, r *http.Request) {
	ingredientID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AllergenRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.engine.AddAllergen(r.Context(), principal(r), ingredientID, req.Note); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveAllergen(w http.ResponseWriter, r *http.Request) {
	ingredientID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.engine.RemoveAllergen(r.Context(), principal(r), ingredientID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Stats(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) DailyRevenue(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(w, "days must be an integer")
			return
		}
		days = n
	}

	list, err := h.engine.DailyRevenue(r.Context(), principal(r), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.DailyRevenue{}
	}
	writeJSON(w, http.StatusOK, list)
}
