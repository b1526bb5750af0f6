package service

import (
	"context"
	"slices"
	"time"

	"fsanano/canteen/internal/config"
	"fsanano/canteen/internal/model"
)

// MenuCatalog resolves published menu entries with live dish stock.
type MenuCatalog struct {
	store  MenuStore
	policy config.Policy
	now    Clock
}

func NewMenuCatalog(store MenuStore, policy config.Policy, now Clock) *MenuCatalog {
	return &MenuCatalog{store: store, policy: policy, now: now}
}

type Menu struct {
	Date      time.Time        `json:"date"`
	Breakfast []model.MenuItem `json:"breakfast"`
	Lunch     []model.MenuItem `json:"lunch"`
}

func (m *MenuCatalog) Today() time.Time {
	return model.Date(m.now().In(m.policy.Location))
}

// startOfDay returns the instant date begins in the policy location.
func (m *MenuCatalog) startOfDay(date time.Time) time.Time {
	y, mo, d := date.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, m.policy.Location)
}

// GetTodayMenu returns today's menu as seen by viewerID.
func (m *MenuCatalog) GetTodayMenu(ctx context.Context, viewerID int64) (Menu, error) {
	return m.GetMenu(ctx, m.Today(), viewerID)
}

// GetMenu returns the menu for date split by meal type. Dishes containing one
// of viewerID's allergens are flagged dangerous.
func (m *MenuCatalog) GetMenu(ctx context.Context, date time.Time, viewerID int64) (Menu, error) {
	items, err := m.store.ListMenu(ctx, model.Date(date))
	if err != nil {
		return Menu{}, err
	}
	flagged, err := m.store.AllergenDishIDs(ctx, viewerID)
	if err != nil {
		return Menu{}, err
	}

	menu := Menu{
		Date:      model.Date(date),
		Breakfast: []model.MenuItem{},
		Lunch:     []model.MenuItem{},
	}
	for _, item := range items {
		item.Dangerous = slices.Contains(flagged, item.DishID)
		switch item.MealType {
		case model.MealBreakfast:
			menu.Breakfast = append(menu.Breakfast, item)
		case model.MealLunch:
			menu.Lunch = append(menu.Lunch, item)
		}
	}
	return menu, nil
}

// resolveForDish finds today's entry for dishID, publishing one with the
// walk-in meal type when none exists.
func (m *MenuCatalog) resolveForDish(ctx context.Context, dishID int64) (model.MenuEntry, error) {
	today := m.Today()
	entry, err := m.store.FindMenuEntryForDish(ctx, today, dishID)
	if err == nil {
		return entry, nil
	}
	if !isNotFound(err) {
		return model.MenuEntry{}, err
	}
	return m.store.CreateMenuEntry(ctx, model.MenuEntry{
		Date:        today,
		MealType:    m.policy.WalkInMealType,
		DishID:      dishID,
		MaxPortions: m.policy.DefaultMaxPortions,
	})
}
