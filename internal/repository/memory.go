package repository

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fsanano/canteen/internal/model"
)

// MemoryStore keeps all tables in process. A single mutex serializes
// transactions, and a failed transaction restores the snapshot taken when it began.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time
}

type memData struct {
	seq         int64
	users       map[int64]model.User
	dishes      map[int64]model.Dish
	menu        map[int64]model.MenuEntry
	orders      map[int64]model.Order
	payments    map[int64]model.Payment
	ingredients map[int64]model.Ingredient
	requests    map[int64]model.PurchaseRequest
	reviews     map[int64]model.Review
	allergens   map[allergenKey]model.Allergen
	// recipes maps a dish to its ingredient ids; only seeding writes it.
	recipes     map[int64][]int64
}

type allergenKey struct {
	userID, ingredientID int64
}

func (d *memData) clone() *memData {
	return &memData{
		seq:         d.seq,
		users:       maps.Clone(d.users),
		dishes:      maps.Clone(d.dishes),
		menu:        maps.Clone(d.menu),
		orders:      maps.Clone(d.orders),
		payments:    maps.Clone(d.payments),
		ingredients: maps.Clone(d.ingredients),
		requests:    maps.Clone(d.requests),
		reviews:     maps.Clone(d.reviews),
		allergens:   maps.Clone(d.allergens),
		recipes:     d.recipes,
	}
}

func (d *memData) nextID() int64 {
	d.seq++
	return d.seq
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			users:       map[int64]model.User{},
			dishes:      map[int64]model.Dish{},
			menu:        map[int64]model.MenuEntry{},
			orders:      map[int64]model.Order{},
			payments:    map[int64]model.Payment{},
			ingredients: map[int64]model.Ingredient{},
			requests:    map[int64]model.PurchaseRequest{},
			reviews:     map[int64]model.Review{},
			allergens:   map[allergenKey]model.Allergen{},
			recipes:     map[int64][]int64{},
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used for created_at timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

type memTxKey struct{}

func (s *MemoryStore) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// with runs fn on the tables, taking the lock unless ctx is inside RunAtomic.
func (s *MemoryStore) with(ctx context.Context, fn func(d *memData) error) error {
	if ctx.Value(memTxKey{}) != s {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.data)
}

// Seeding helpers; ids are assigned from the shared sequence.

func (s *MemoryStore) AddUser(u model.User) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.data.nextID()
	s.data.users[u.ID] = u
	return u
}

func (s *MemoryStore) AddDish(d model.Dish) model.Dish {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.data.nextID()
	s.data.dishes[d.ID] = d
	return d
}

func (s *MemoryStore) AddIngredient(i model.Ingredient) model.Ingredient {
	s.mu.Lock()
	defer s.mu.Unlock()
	i.ID = s.data.nextID()
	s.data.ingredients[i.ID] = i
	return i
}

// AddDishIngredient records that dishID is cooked with ingredientID.
func (s *MemoryStore) AddDishIngredient(dishID, ingredientID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.recipes[dishID] = append(s.data.recipes[dishID], ingredientID)
}

// Payments returns the payment ledger ordered by id.
func (s *MemoryStore) Payments() []model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.data.payments))
	slices.SortFunc(out, func(a, b model.Payment) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *MemoryStore) Order(id int64) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orders[id]
	return o, ok
}

func (s *MemoryStore) GetUser(ctx context.Context, userID int64) (model.User, error) {
	return s.GetUserForUpdate(ctx, userID)
}

func (s *MemoryStore) GetUserForUpdate(ctx context.Context, userID int64) (model.User, error) {
	var u model.User
	err := s.with(ctx, func(d *memData) error {
		var ok bool
		if u, ok = d.users[userID]; !ok {
			return fmt.Errorf("%w: user %d", model.ErrNotFound, userID)
		}
		return nil
	})
	return u, err
}

func (s *MemoryStore) FindUser(ctx context.Context, identifier string) (model.User, error) {
	var u model.User
	err := s.with(ctx, func(d *memData) error {
		if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
			if found, ok := d.users[id]; ok {
				u = found
				return nil
			}
		}
		var best *model.User
		for _, cand := range d.users {
			if cand.Email != identifier && cand.Username != identifier {
				continue
			}
			if best == nil || cand.ID < best.ID {
				c := cand
				best = &c
			}
		}
		if best == nil {
			return fmt.Errorf("%w: user %s", model.ErrNotFound, identifier)
		}
		u = *best
		return nil
	})
	return u, err
}

func (s *MemoryStore) AddUserBalance(ctx context.Context, userID int64, delta decimal.Decimal) error {
	return s.with(ctx, func(d *memData) error {
		u, ok := d.users[userID]
		if !ok {
			return fmt.Errorf("%w: user %d", model.ErrNotFound, userID)
		}
		next := u.Balance.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("balance of user %d would become negative", userID)
		}
		u.Balance = next
		d.users[userID] = u
		return nil
	})
}

func (s *MemoryStore) SetSubscriptionEnd(ctx context.Context, userID int64, end time.Time) error {
	return s.with(ctx, func(d *memData) error {
		u, ok := d.users[userID]
		if !ok {
			return fmt.Errorf("%w: user %d", model.ErrNotFound, userID)
		}
		day := model.Date(end)
		u.SubscriptionEndDate = &day
		d.users[userID] = u
		return nil
	})
}

func (s *MemoryStore) InsertPayment(ctx context.Context, p model.Payment) (int64, error) {
	err := s.with(ctx, func(d *memData) error {
		p.ID = d.nextID()
		p.CreatedAt = s.now()
		d.payments[p.ID] = p
		return nil
	})
	return p.ID, err
}

func (s *MemoryStore) GetDishForUpdate(ctx context.Context, dishID int64) (model.Dish, error) {
	var dish model.Dish
	err := s.with(ctx, func(d *memData) error {
		var ok bool
		if dish, ok = d.dishes[dishID]; !ok {
			return fmt.Errorf("%w: dish %d", model.ErrNotFound, dishID)
		}
		return nil
	})
	return dish, err
}

func (s *MemoryStore) AddDishStock(ctx context.Context, dishID int64, delta int) error {
	return s.with(ctx, func(d *memData) error {
		dish, ok := d.dishes[dishID]
		if !ok {
			return fmt.Errorf("%w: dish %d", model.ErrNotFound, dishID)
		}
		if dish.CurrentStock+delta < 0 {
			return fmt.Errorf("stock of dish %d would become negative", dishID)
		}
		dish.CurrentStock += delta
		d.dishes[dishID] = dish
		return nil
	})
}

func (s *MemoryStore) GetIngredientForUpdate(ctx context.Context, ingredientID int64) (model.Ingredient, error) {
	var ing model.Ingredient
	err := s.with(ctx, func(d *memData) error {
		var ok bool
		if ing, ok = d.ingredients[ingredientID]; !ok {
			return fmt.Errorf("%w: ingredient %d", model.ErrNotFound, ingredientID)
		}
		return nil
	})
	return ing, err
}

func (s *MemoryStore) AddIngredientQuantity(ctx context.Context, ingredientID int64, delta decimal.Decimal) error {
	return s.with(ctx, func(d *memData) error {
		ing, ok := d.ingredients[ingredientID]
		if !ok {
			return fmt.Errorf("%w: ingredient %d", model.ErrNotFound, ingredientID)
		}
		ing.CurrentQuantity = ing.CurrentQuantity.Add(delta)
		d.ingredients[ingredientID] = ing
		return nil
	})
}

func (s *MemoryStore) ListLowStockIngredients(ctx context.Context) ([]model.Ingredient, error) {
	var out []model.Ingredient
	err := s.with(ctx, func(d *memData) error {
		for _, ing := range d.ingredients {
			if ing.CurrentQuantity.LessThan(ing.MinQuantity) {
				out = append(out, ing)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.Ingredient) int { return cmp.Compare(a.Name, b.Name) })
	return out, err
}

func (s *MemoryStore) GetMenuEntry(ctx context.Context, menuEntryID int64) (model.MenuEntry, error) {
	var e model.MenuEntry
	err := s.with(ctx, func(d *memData) error {
		var ok bool
		if e, ok = d.menu[menuEntryID]; !ok {
			return fmt.Errorf("%w: menu entry %d", model.ErrNotFound, menuEntryID)
		}
		return nil
	})
	return e, err
}

func (s *MemoryStore) FindMenuEntryForDish(ctx context.Context, date time.Time, dishID int64) (model.MenuEntry, error) {
	var found *model.MenuEntry
	err := s.with(ctx, func(d *memData) error {
		for _, e := range d.menu {
			if e.DishID != dishID || !e.Date.Equal(model.Date(date)) {
				continue
			}
			if found == nil || e.ID < found.ID {
				c := e
				found = &c
			}
		}
		if found == nil {
			return fmt.Errorf("%w: menu entry for dish %d", model.ErrNotFound, dishID)
		}
		return nil
	})
	if err != nil {
		return model.MenuEntry{}, err
	}
	return *found, nil
}

func (s *MemoryStore) CreateMenuEntry(ctx context.Context, e model.MenuEntry) (model.MenuEntry, error) {
	err := s.with(ctx, func(d *memData) error {
		if _, ok := d.dishes[e.DishID]; !ok {
			return fmt.Errorf("%w: dish %d", model.ErrNotFound, e.DishID)
		}
		e.ID = d.nextID()
		e.Date = model.Date(e.Date)
		d.menu[e.ID] = e
		return nil
	})
	return e, err
}

func (s *MemoryStore) ListMenu(ctx context.Context, date time.Time) ([]model.MenuItem, error) {
	var out []model.MenuItem
	err := s.with(ctx, func(d *memData) error {
		for _, e := range d.menu {
			if !e.Date.Equal(model.Date(date)) {
				continue
			}
			dish := d.dishes[e.DishID]
			out = append(out, model.MenuItem{
				MenuEntryID:    e.ID,
				MealType:       e.MealType,
				DishID:         dish.ID,
				DishName:       dish.Name,
				Price:          dish.Price,
				RemainingStock: dish.CurrentStock,
				MaxPortions:    e.MaxPortions,
			})
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.MenuItem) int {
		if c := cmp.Compare(string(a.MealType), string(b.MealType)); c != 0 {
			return c
		}
		return cmp.Compare(a.MenuEntryID, b.MenuEntryID)
	})
	return out, err
}

func (s *MemoryStore) AllergenDishIDs(ctx context.Context, userID int64) ([]int64, error) {
	var out []int64
	err := s.with(ctx, func(d *memData) error {
		for dishID, ingredients := range d.recipes {
			if slices.ContainsFunc(ingredients, func(id int64) bool {
				_, ok := d.allergens[allergenKey{userID, id}]
				return ok
			}) {
				out = append(out, dishID)
			}
		}
		return nil
	})
	slices.Sort(out)
	return out, err
}

func (s *MemoryStore) OrderExists(ctx context.Context, userID, menuEntryID int64) (bool, error) {
	var exists bool
	err := s.with(ctx, func(d *memData) error {
		for _, o := range d.orders {
			if o.UserID == userID && o.MenuEntryID == menuEntryID {
				exists = true
				break
			}
		}
		return nil
	})
	return exists, err
}

func (s *MemoryStore) InsertOrder(ctx context.Context, o model.Order) (int64, error) {
	err := s.with(ctx, func(d *memData) error {
		for _, existing := range d.orders {
			if existing.UserID == o.UserID && existing.MenuEntryID == o.MenuEntryID {
				return fmt.Errorf("%w: user %d already ordered menu entry %d", model.ErrConflict, o.UserID, o.MenuEntryID)
			}
		}
		o.ID = d.nextID()
		o.CreatedAt = s.now()
		d.orders[o.ID] = o
		return nil
	})
	return o.ID, err
}

func (s *MemoryStore) ListPendingOrders(ctx context.Context, userID int64, date time.Time) ([]model.PendingOrder, error) {
	var out []model.PendingOrder
	err := s.with(ctx, func(d *memData) error {
		for _, o := range d.orders {
			if o.UserID != userID || o.Collected {
				continue
			}
			e := d.menu[o.MenuEntryID]
			if !e.Date.Equal(model.Date(date)) {
				continue
			}
			out = append(out, model.PendingOrder{OrderID: o.ID, DishName: d.dishes[e.DishID].Name, Paid: o.Paid})
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.PendingOrder) int { return cmp.Compare(a.OrderID, b.OrderID) })
	return out, err
}

func (s *MemoryStore) GetOrderForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := s.with(ctx, func(d *memData) error {
		var ok bool
		if o, ok = d.orders[orderID]; !ok {
			return fmt.Errorf("%w: order %d", model.ErrNotFound, orderID)
		}
		return nil
	})
	return o, err
}

func (s *MemoryStore) GetOrderPaymentForUpdate(ctx context.Context, orderID int64) (model.Payment, error) {
	var found *model.Payment
	err := s.with(ctx, func(d *memData) error {
		for _, p := range d.payments {
			if p.OrderID == nil || *p.OrderID != orderID || p.Kind != model.PaymentSingle {
				continue
			}
			if found == nil || p.ID < found.ID {
				c := p
				found = &c
			}
		}
		if found == nil {
			return fmt.Errorf("%w: payment for order %d", model.ErrNotFound, orderID)
		}
		return nil
	})
	if err != nil {
		return model.Payment{}, err
	}
	return *found, nil
}

func (s *MemoryStore) CompletePayment(ctx context.Context, paymentID int64) error {
	return s.with(ctx, func(d *memData) error {
		p, ok := d.payments[paymentID]
		if !ok {
			return fmt.Errorf("%w: payment %d", model.ErrNotFound, paymentID)
		}
		p.Status = model.PaymentCompleted
		p.CreatedAt = s.now()
		d.payments[paymentID] = p
		return nil
	})
}

func (s *MemoryStore) MarkOrderPaid(ctx context.Context, orderID int64) error {
	return s.with(ctx, func(d *memData) error {
		o, ok := d.orders[orderID]
		if !ok {
			return fmt.Errorf("%w: order %d", model.ErrNotFound, orderID)
		}
		o.Paid = true
		d.orders[orderID] = o
		return nil
	})
}

func (s *MemoryStore) MarkOrderCollected(ctx context.Context, orderID int64) (bool, error) {
	var changed bool
	err := s.with(ctx, func(d *memData) error {
		o, ok := d.orders[orderID]
		if !ok {
			return fmt.Errorf("%w: order %d", model.ErrNotFound, orderID)
		}
		if o.Collected {
			return nil
		}
		o.Collected = true
		d.orders[orderID] = o
		changed = true
		return nil
	})
	return changed, err
}

func (s *MemoryStore) InsertPurchaseRequest(ctx context.Context, pr model.PurchaseRequest) (int64, error) {
	err := s.with(ctx, func(d *memData) error {
		pr.ID = d.nextID()
		pr.CreatedAt = s.now()
		d.requests[pr.ID] = pr
		return nil
	})
	return pr.ID, err
}

func (s *MemoryStore) GetPurchaseRequestForUpdate(ctx context.Context, requestID int64) (model.PurchaseRequest, error) {
	var pr model.PurchaseRequest
	err := s.with(ctx, func(d *memData) error {
		var ok bool
		if pr, ok = d.requests[requestID]; !ok {
			return fmt.Errorf("%w: purchase request %d", model.ErrNotFound, requestID)
		}
		return nil
	})
	return pr, err
}

func (s *MemoryStore) UpdatePurchaseRequestDecision(ctx context.Context, pr model.PurchaseRequest) error {
	return s.with(ctx, func(d *memData) error {
		cur, ok := d.requests[pr.ID]
		if !ok {
			return fmt.Errorf("%w: purchase request %d", model.ErrNotFound, pr.ID)
		}
		cur.Status = pr.Status
		cur.ApprovedBy = pr.ApprovedBy
		cur.ApprovedAt = pr.ApprovedAt
		d.requests[pr.ID] = cur
		return nil
	})
}

func (s *MemoryStore) ListPurchaseRequests(ctx context.Context, status model.RequestStatus) ([]model.PurchaseRequestView, error) {
	var out []model.PurchaseRequestView
	err := s.with(ctx, func(d *memData) error {
		for _, pr := range d.requests {
			if status != "" && pr.Status != status {
				continue
			}
			ing := d.ingredients[pr.IngredientID]
			out = append(out, model.PurchaseRequestView{PurchaseRequest: pr, IngredientName: ing.Name, Unit: ing.Unit})
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.PurchaseRequestView) int { return cmp.Compare(b.ID, a.ID) })
	return out, err
}

func (s *MemoryStore) InsertReview(ctx context.Context, r model.Review) (int64, error) {
	err := s.with(ctx, func(d *memData) error {
		if _, ok := d.users[r.UserID]; !ok {
			return fmt.Errorf("%w: user %d", model.ErrNotFound, r.UserID)
		}
		if _, ok := d.dishes[r.DishID]; !ok {
			return fmt.Errorf("%w: dish %d", model.ErrNotFound, r.DishID)
		}
		r.ID = d.nextID()
		r.CreatedAt = s.now()
		d.reviews[r.ID] = r
		return nil
	})
	return r.ID, err
}

func (s *MemoryStore) ListReviews(ctx context.Context, dishID int64) ([]model.Review, error) {
	var out []model.Review
	err := s.with(ctx, func(d *memData) error {
		for _, r := range d.reviews {
			if r.DishID == dishID {
				out = append(out, r)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.Review) int { return cmp.Compare(b.ID, a.ID) })
	return out, err
}

func (s *MemoryStore) UpsertAllergen(ctx context.Context, a model.Allergen) error {
	return s.with(ctx, func(d *memData) error {
		if _, ok := d.users[a.UserID]; !ok {
			return fmt.Errorf("%w: user %d", model.ErrNotFound, a.UserID)
		}
		if _, ok := d.ingredients[a.IngredientID]; !ok {
			return fmt.Errorf("%w: ingredient %d", model.ErrNotFound, a.IngredientID)
		}
		d.allergens[allergenKey{a.UserID, a.IngredientID}] = a
		return nil
	})
}

func (s *MemoryStore) DeleteAllergen(ctx context.Context, userID, ingredientID int64) (bool, error) {
	var removed bool
	err := s.with(ctx, func(d *memData) error {
		k := allergenKey{userID, ingredientID}
		if _, removed = d.allergens[k]; removed {
			delete(d.allergens, k)
		}
		return nil
	})
	return removed, err
}

func (s *MemoryStore) ListAllergens(ctx context.Context, userID int64) ([]model.Allergen, error) {
	var out []model.Allergen
	err := s.with(ctx, func(d *memData) error {
		for k, a := range d.allergens {
			if k.userID != userID {
				continue
			}
			a.IngredientName = d.ingredients[k.ingredientID].Name
			out = append(out, a)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.Allergen) int { return cmp.Compare(a.IngredientName, b.IngredientName) })
	return out, err
}

func (s *MemoryStore) CountOrdersOn(ctx context.Context, date time.Time) (int, error) {
	var n int
	err := s.with(ctx, func(d *memData) error {
		for _, o := range d.orders {
			if d.menu[o.MenuEntryID].Date.Equal(model.Date(date)) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func isRevenue(p model.Payment, from, to time.Time) bool {
	return p.Status == model.PaymentCompleted &&
		(p.Kind == model.PaymentSingle || p.Kind == model.PaymentSubscription) &&
		!p.CreatedAt.Before(from) && p.CreatedAt.Before(to)
}

func (s *MemoryStore) RevenueBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := s.with(ctx, func(d *memData) error {
		for _, p := range d.payments {
			if isRevenue(p, from, to) {
				sum = sum.Add(p.Amount)
			}
		}
		return nil
	})
	return sum, err
}

func (s *MemoryStore) CountCollectedOrders(ctx context.Context) (int, error) {
	var n int
	err := s.with(ctx, func(d *memData) error {
		for _, o := range d.orders {
			if o.Collected {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *MemoryStore) DailyRevenue(ctx context.Context, from, to time.Time, loc *time.Location) ([]model.DailyRevenue, error) {
	byDay := map[time.Time]*model.DailyRevenue{}
	err := s.with(ctx, func(d *memData) error {
		for _, p := range d.payments {
			if !isRevenue(p, from, to) {
				continue
			}
			day := model.Date(p.CreatedAt.In(loc))
			row, ok := byDay[day]
			if !ok {
				row = &model.DailyRevenue{Date: day, Revenue: decimal.Zero}
				byDay[day] = row
			}
			row.Revenue = row.Revenue.Add(p.Amount)
			row.Transactions++
		}
		return nil
	})

	out := make([]model.DailyRevenue, 0, len(byDay))
	for _, row := range byDay {
		out = append(out, *row)
	}
	slices.SortFunc(out, func(a, b model.DailyRevenue) int { return a.Date.Compare(b.Date) })
	return out, err
}
