package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fsanano/canteen/internal/model"
)

type Stats struct {
	AttendanceToday int             `json:"attendance_today"`
	RevenueToday    decimal.Decimal `json:"revenue_today"`
	TotalIssued     int             `json:"total_issued"`
}

// Reports answers the approver dashboard queries.
type Reports struct {
	store ReportStore
	menu  *MenuCatalog
}

func NewReports(store ReportStore, menu *MenuCatalog) *Reports {
	return &Reports{store: store, menu: menu}
}

func (r *Reports) Stats(ctx context.Context) (Stats, error) {
	today := r.menu.Today()
	var s Stats

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s.AttendanceToday, err = r.store.CountOrdersOn(ctx, today)
		if err != nil {
			return fmt.Errorf("failed to count orders: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		from := r.menu.startOfDay(today)
		s.RevenueToday, err = r.store.RevenueBetween(ctx, from, from.AddDate(0, 0, 1))
		if err != nil {
			return fmt.Errorf("failed to sum revenue: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		s.TotalIssued, err = r.store.CountCollectedOrders(ctx)
		if err != nil {
			return fmt.Errorf("failed to count issued meals: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return s, nil
}

// DailyRevenue returns completed revenue for the last days days, today included.
func (r *Reports) DailyRevenue(ctx context.Context, days int) ([]model.DailyRevenue, error) {
	if days <= 0 || days > 366 {
		return nil, fmt.Errorf("%w: days must be within 1..366", model.ErrValidation)
	}
	end := r.menu.startOfDay(r.menu.Today()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)
	return r.store.DailyRevenue(ctx, start, end, r.menu.policy.Location)
}
