package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fsanano/canteen/internal/model"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (r *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// RunAtomic executes a function within a transaction. The tx travels in ctx;
// if ctx already carries one, fn joins it and the outer call commits.
func (r *PostgresStore) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op once Commit succeeded
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type txKey struct{}

func (r *PostgresStore) getExecutor(ctx context.Context) PgxExecutor {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.db
}

// PgxExecutor is an interface that matches both *pgx.Conn/Pool and pgx.Tx
type PgxExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (commandTag pgconn.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", model.ErrNotFound, what, id)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// execOne runs an update that must touch exactly one row.
func (r *PostgresStore) execOne(ctx context.Context, what string, id int64, sql string, args ...any) error {
	tag, err := r.getExecutor(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %d", model.ErrNotFound, what, id)
	}
	return nil
}

const userColumns = "id, username, email, role, balance, subscription_end_date"

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Balance, &u.SubscriptionEndDate)
	return u, err
}

func (r *PostgresStore) GetUser(ctx context.Context, userID int64) (model.User, error) {
	u, err := scanUser(r.getExecutor(ctx).QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", userID))
	if err != nil {
		return model.User{}, notFound(err, "user", userID)
	}
	return u, nil
}

// GetUserForUpdate locks the user row
func (r *PostgresStore) GetUserForUpdate(ctx context.Context, userID int64) (model.User, error) {
	u, err := scanUser(r.getExecutor(ctx).QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", userID))
	if err != nil {
		return model.User{}, notFound(err, "user", userID)
	}
	return u, nil
}

func (r *PostgresStore) FindUser(ctx context.Context, identifier string) (model.User, error) {
	q := r.getExecutor(ctx)
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		u, err := scanUser(q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("failed to get user: %w", err)
		}
	}

	u, err := scanUser(q.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1 OR username = $1 ORDER BY id LIMIT 1", identifier))
	if err != nil {
		return model.User{}, notFound(err, "user", identifier)
	}
	return u, nil
}

// AddUserBalance adds delta (negative to debit) to the user's balance
func (r *PostgresStore) AddUserBalance(ctx context.Context, userID int64, delta decimal.Decimal) error {
	return r.execOne(ctx, "user", userID,
		"UPDATE users SET balance = balance + $1 WHERE id = $2", delta, userID)
}

func (r *PostgresStore) SetSubscriptionEnd(ctx context.Context, userID int64, end time.Time) error {
	return r.execOne(ctx, "user", userID,
		"UPDATE users SET subscription_end_date = $1 WHERE id = $2", end, userID)
}

func (r *PostgresStore) InsertPayment(ctx context.Context, p model.Payment) (int64, error) {
	var id int64
	err := r.getExecutor(ctx).QueryRow(ctx,
		"INSERT INTO payments (user_id, amount, type, order_id, status) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		p.UserID, p.Amount, p.Kind, p.OrderID, p.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create payment: %w", err)
	}
	return id, nil
}

// GetDishForUpdate locks the dish row and returns dish data
func (r *PostgresStore) GetDishForUpdate(ctx context.Context, dishID int64) (model.Dish, error) {
	var d model.Dish
	err := r.getExecutor(ctx).QueryRow(ctx,
		"SELECT id, name, price, current_stock FROM dishes WHERE id = $1 FOR UPDATE", dishID).
		Scan(&d.ID, &d.Name, &d.Price, &d.CurrentStock)
	if err != nil {
		return model.Dish{}, notFound(err, "dish", dishID)
	}
	return d, nil
}

func (r *PostgresStore) AddDishStock(ctx context.Context, dishID int64, delta int) error {
	return r.execOne(ctx, "dish", dishID,
		"UPDATE dishes SET current_stock = current_stock + $1 WHERE id = $2", delta, dishID)
}

const ingredientColumns = "id, name, unit, current_quantity, min_quantity"

func scanIngredient(row pgx.Row) (model.Ingredient, error) {
	var i model.Ingredient
	err := row.Scan(&i.ID, &i.Name, &i.Unit, &i.CurrentQuantity, &i.MinQuantity)
	return i, err
}

func (r *PostgresStore) GetIngredientForUpdate(ctx context.Context, ingredientID int64) (model.Ingredient, error) {
	i, err := scanIngredient(r.getExecutor(ctx).QueryRow(ctx,
		"SELECT "+ingredientColumns+" FROM ingredients WHERE id = $1 FOR UPDATE", ingredientID))
	if err != nil {
		return model.Ingredient{}, notFound(err, "ingredient", ingredientID)
	}
	return i, nil
}

func (r *PostgresStore) AddIngredientQuantity(ctx context.Context, ingredientID int64, delta decimal.Decimal) error {
	return r.execOne(ctx, "ingredient", ingredientID,
		"UPDATE ingredients SET current_quantity = current_quantity + $1 WHERE id = $2", delta, ingredientID)
}

func (r *PostgresStore) ListLowStockIngredients(ctx context.Context) ([]model.Ingredient, error) {
	rows, err := r.getExecutor(ctx).Query(ctx,
		"SELECT "+ingredientColumns+" FROM ingredients WHERE current_quantity < min_quantity ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list ingredients: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Ingredient, error) {
		return scanIngredient(row)
	})
}

const menuColumns = "id, date, meal_type, dish_id, max_portions"

func scanMenuEntry(row pgx.Row) (model.MenuEntry, error) {
	var e model.MenuEntry
	err := row.Scan(&e.ID, &e.Date, &e.MealType, &e.DishID, &e.MaxPortions)
	return e, err
}

func (r *PostgresStore) GetMenuEntry(ctx context.Context, menuEntryID int64) (model.MenuEntry, error) {
	e, err := scanMenuEntry(r.getExecutor(ctx).QueryRow(ctx,
		"SELECT "+menuColumns+" FROM menu WHERE id = $1", menuEntryID))
	if err != nil {
		return model.MenuEntry{}, notFound(err, "menu entry", menuEntryID)
	}
	return e, nil
}

func (r *PostgresStore) FindMenuEntryForDish(ctx context.Context, date time.Time, dishID int64) (model.MenuEntry, error) {
	e, err := scanMenuEntry(r.getExecutor(ctx).QueryRow(ctx,
		"SELECT "+menuColumns+" FROM menu WHERE date = $1 AND dish_id = $2 ORDER BY id LIMIT 1", date, dishID))
	if err != nil {
		return model.MenuEntry{}, notFound(err, "menu entry for dish", dishID)
	}
	return e, nil
}

func (r *PostgresStore) CreateMenuEntry(ctx context.Context, e model.MenuEntry) (model.MenuEntry, error) {
	err := r.getExecutor(ctx).QueryRow(ctx,
		"INSERT INTO menu (date, meal_type, dish_id, max_portions) VALUES ($1, $2, $3, $4) RETURNING id",
		e.Date, e.MealType, e.DishID, e.MaxPortions).Scan(&e.ID)
	if err != nil {
		return model.MenuEntry{}, fmt.Errorf("failed to create menu entry: %w", err)
	}
	return e, nil
}

func (r *PostgresStore) ListMenu(ctx context.Context, date time.Time) ([]model.MenuItem, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, `
		SELECT m.id, m.meal_type, d.id, d.name, d.price, d.current_stock, m.max_portions
		FROM menu m
		JOIN dishes d ON d.id = m.dish_id
		WHERE m.date = $1
		ORDER BY m.meal_type, m.id`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MenuItem, error) {
		var it model.MenuItem
		err := row.Scan(&it.MenuEntryID, &it.MealType, &it.DishID, &it.DishName, &it.Price, &it.RemainingStock, &it.MaxPortions)
		return it, err
	})
}

func (r *PostgresStore) AllergenDishIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, `
		SELECT DISTINCT di.dish_id
		FROM dish_ingredients di
		JOIN allergens a ON a.ingredient_id = di.ingredient_id
		WHERE a.user_id = $1
		ORDER BY di.dish_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allergen dishes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *PostgresStore) OrderExists(ctx context.Context, userID, menuEntryID int64) (bool, error) {
	var exists bool
	err := r.getExecutor(ctx).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM orders WHERE user_id = $1 AND menu_id = $2)", userID, menuEntryID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check orders: %w", err)
	}
	return exists, nil
}

// InsertOrder inserts a new order. The (user_id, menu_id) constraint backs up
// the row-locked duplicate check.
func (r *PostgresStore) InsertOrder(ctx context.Context, o model.Order) (int64, error) {
	var id int64
	err := r.getExecutor(ctx).QueryRow(ctx,
		"INSERT INTO orders (user_id, menu_id, paid, collected) VALUES ($1, $2, $3, $4) RETURNING id",
		o.UserID, o.MenuEntryID, o.Paid, o.Collected).Scan(&id)
	if err != nil {
		if hasCode(err, uniqueViolation) {
			return 0, fmt.Errorf("%w: user %d already ordered menu entry %d", model.ErrConflict, o.UserID, o.MenuEntryID)
		}
		return 0, fmt.Errorf("failed to create order: %w", err)
	}
	return id, nil
}

func (r *PostgresStore) ListPendingOrders(ctx context.Context, userID int64, date time.Time) ([]model.PendingOrder, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, `
		SELECT o.id, d.name, o.paid
		FROM orders o
		JOIN menu m ON m.id = o.menu_id
		JOIN dishes d ON d.id = m.dish_id
		WHERE o.user_id = $1 AND m.date = $2 AND NOT o.collected
		ORDER BY o.id`, userID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PendingOrder, error) {
		var po model.PendingOrder
		err := row.Scan(&po.OrderID, &po.DishName, &po.Paid)
		return po, err
	})
}

// GetOrderForUpdate locks the order row
func (r *PostgresStore) GetOrderForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := r.getExecutor(ctx).QueryRow(ctx,
		"SELECT id, user_id, menu_id, created_at, paid, collected FROM orders WHERE id = $1 FOR UPDATE", orderID).
		Scan(&o.ID, &o.UserID, &o.MenuEntryID, &o.CreatedAt, &o.Paid, &o.Collected)
	if err != nil {
		return model.Order{}, notFound(err, "order", orderID)
	}
	return o, nil
}

func (r *PostgresStore) GetOrderPaymentForUpdate(ctx context.Context, orderID int64) (model.Payment, error) {
	var p model.Payment
	err := r.getExecutor(ctx).QueryRow(ctx, `
		SELECT id, user_id, amount, type, order_id, status, created_at
		FROM payments
		WHERE order_id = $1 AND type = 'single'
		ORDER BY id
		LIMIT 1
		FOR UPDATE`, orderID).
		Scan(&p.ID, &p.UserID, &p.Amount, &p.Kind, &p.OrderID, &p.Status, &p.CreatedAt)
	if err != nil {
		return model.Payment{}, notFound(err, "payment for order", orderID)
	}
	return p, nil
}

func (r *PostgresStore) CompletePayment(ctx context.Context, paymentID int64) error {
	return r.execOne(ctx, "payment", paymentID,
		"UPDATE payments SET status = 'completed', created_at = now() WHERE id = $1", paymentID)
}

func (r *PostgresStore) MarkOrderPaid(ctx context.Context, orderID int64) error {
	return r.execOne(ctx, "order", orderID, "UPDATE orders SET paid = true WHERE id = $1", orderID)
}

func (r *PostgresStore) MarkOrderCollected(ctx context.Context, orderID int64) (bool, error) {
	q := r.getExecutor(ctx)
	tag, err := q.Exec(ctx, "UPDATE orders SET collected = true WHERE id = $1 AND NOT collected", orderID)
	if err != nil {
		return false, fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)", orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: order %d", model.ErrNotFound, orderID)
	}
	return false, nil
}

const purchaseColumns = "id, ingredient_id, quantity, requested_by, status, approved_by, approved_at, created_at"

func (r *PostgresStore) InsertPurchaseRequest(ctx context.Context, pr model.PurchaseRequest) (int64, error) {
	var id int64
	err := r.getExecutor(ctx).QueryRow(ctx,
		"INSERT INTO purchase_requests (ingredient_id, quantity, requested_by, status) VALUES ($1, $2, $3, $4) RETURNING id",
		pr.IngredientID, pr.Quantity, pr.RequestedBy, pr.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create purchase request: %w", err)
	}
	return id, nil
}

// GetPurchaseRequestForUpdate locks the request row so its status check and
// update cannot interleave with another decision.
func (r *PostgresStore) GetPurchaseRequestForUpdate(ctx context.Context, requestID int64) (model.PurchaseRequest, error) {
	var pr model.PurchaseRequest
	err := r.getExecutor(ctx).QueryRow(ctx,
		"SELECT "+purchaseColumns+" FROM purchase_requests WHERE id = $1 FOR UPDATE", requestID).
		Scan(&pr.ID, &pr.IngredientID, &pr.Quantity, &pr.RequestedBy, &pr.Status, &pr.ApprovedBy, &pr.ApprovedAt, &pr.CreatedAt)
	if err != nil {
		return model.PurchaseRequest{}, notFound(err, "purchase request", requestID)
	}
	return pr, nil
}

func (r *PostgresStore) UpdatePurchaseRequestDecision(ctx context.Context, pr model.PurchaseRequest) error {
	return r.execOne(ctx, "purchase request", pr.ID,
		"UPDATE purchase_requests SET status = $1, approved_by = $2, approved_at = $3 WHERE id = $4",
		pr.Status, pr.ApprovedBy, pr.ApprovedAt, pr.ID)
}

func (r *PostgresStore) ListPurchaseRequests(ctx context.Context, status model.RequestStatus) ([]model.PurchaseRequestView, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, `
		SELECT pr.id, pr.ingredient_id, pr.quantity, pr.requested_by, pr.status, pr.approved_by,
		       pr.approved_at, pr.created_at, i.name, i.unit
		FROM purchase_requests pr
		JOIN ingredients i ON i.id = pr.ingredient_id
		WHERE $1::text = '' OR pr.status = $1::text
		ORDER BY pr.created_at DESC, pr.id DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase requests: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PurchaseRequestView, error) {
		var v model.PurchaseRequestView
		err := row.Scan(&v.ID, &v.IngredientID, &v.Quantity, &v.RequestedBy, &v.Status, &v.ApprovedBy,
			&v.ApprovedAt, &v.CreatedAt, &v.IngredientName, &v.Unit)
		return v, err
	})
}

func (r *PostgresStore) InsertReview(ctx context.Context, rv model.Review) (int64, error) {
	var id int64
	err := r.getExecutor(ctx).QueryRow(ctx,
		"INSERT INTO reviews (user_id, dish_id, rating, comment) VALUES ($1, $2, $3, $4) RETURNING id",
		rv.UserID, rv.DishID, rv.Rating, rv.Comment).Scan(&id)
	if err != nil {
		if hasCode(err, foreignKeyViolation) {
			return 0, fmt.Errorf("%w: dish %d", model.ErrNotFound, rv.DishID)
		}
		return 0, fmt.Errorf("failed to create review: %w", err)
	}
	return id, nil
}

func (r *PostgresStore) ListReviews(ctx context.Context, dishID int64) ([]model.Review, error) {
	rows, err := r.getExecutor(ctx).Query(ctx,
		"SELECT id, user_id, dish_id, rating, comment, created_at FROM reviews WHERE dish_id = $1 ORDER BY id DESC", dishID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Review, error) {
		var rv model.Review
		err := row.Scan(&rv.ID, &rv.UserID, &rv.DishID, &rv.Rating, &rv.Comment, &rv.CreatedAt)
		return rv, err
	})
}

func (r *PostgresStore) UpsertAllergen(ctx context.Context, a model.Allergen) error {
	_, err := r.getExecutor(ctx).Exec(ctx, `
		INSERT INTO allergens (user_id, ingredient_id, note) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, ingredient_id) DO UPDATE SET note = EXCLUDED.note`,
		a.UserID, a.IngredientID, a.Note)
	if err != nil {
		if hasCode(err, foreignKeyViolation) {
			return fmt.Errorf("%w: ingredient %d", model.ErrNotFound, a.IngredientID)
		}
		return fmt.Errorf("failed to save allergen: %w", err)
	}
	return nil
}

func (r *PostgresStore) DeleteAllergen(ctx context.Context, userID, ingredientID int64) (bool, error) {
	tag, err := r.getExecutor(ctx).Exec(ctx,
		"DELETE FROM allergens WHERE user_id = $1 AND ingredient_id = $2", userID, ingredientID)
	if err != nil {
		return false, fmt.Errorf("failed to delete allergen: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresStore) ListAllergens(ctx context.Context, userID int64) ([]model.Allergen, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, `
		SELECT a.user_id, a.ingredient_id, i.name, a.note
		FROM allergens a
		JOIN ingredients i ON i.id = a.ingredient_id
		WHERE a.user_id = $1
		ORDER BY i.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allergens: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Allergen, error) {
		var a model.Allergen
		err := row.Scan(&a.UserID, &a.IngredientID, &a.IngredientName, &a.Note)
		return a, err
	})
}

func (r *PostgresStore) CountOrdersOn(ctx context.Context, date time.Time) (int, error) {
	var n int
	err := r.getExecutor(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM orders o JOIN menu m ON m.id = o.menu_id WHERE m.date = $1", date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

const revenueFilter = "status = 'completed' AND type IN ('single', 'subscription') AND created_at >= $1 AND created_at < $2"

func (r *PostgresStore) RevenueBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.getExecutor(ctx).QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM payments WHERE "+revenueFilter, from, to).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum revenue: %w", err)
	}
	return sum, nil
}

func (r *PostgresStore) CountCollectedOrders(ctx context.Context) (int, error) {
	var n int
	if err := r.getExecutor(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM orders WHERE collected").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count collected orders: %w", err)
	}
	return n, nil
}

func (r *PostgresStore) DailyRevenue(ctx context.Context, from, to time.Time, loc *time.Location) ([]model.DailyRevenue, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, `
		SELECT (created_at AT TIME ZONE $3::text)::date AS day, COALESCE(SUM(amount), 0), COUNT(*)
		FROM payments
		WHERE `+revenueFilter+`
		GROUP BY day
		ORDER BY day`, from, to, loc.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list revenue: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DailyRevenue, error) {
		var d model.DailyRevenue
		err := row.Scan(&d.Date, &d.Revenue, &d.Transactions)
		return d, err
	})
}
