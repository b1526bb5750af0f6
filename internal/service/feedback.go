package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"fsanano/canteen/internal/model"
)

const (
	minRating        = 1
	maxRating        = 5
	maxCommentLength = 1000
	maxNoteLength    = 200
)

// Feedback keeps consumer dish reviews and per-user allergen lists.
type Feedback struct {
	store FeedbackStore
}

func NewFeedback(store FeedbackStore) *Feedback {
	return &Feedback{store: store}
}

func (f *Feedback) SubmitReview(ctx context.Context, userID, dishID int64, rating int, comment string) (model.Review, error) {
	if rating < minRating || rating > maxRating {
		return model.Review{}, fmt.Errorf("%w: rating must be within %d..%d", model.ErrValidation, minRating, maxRating)
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return model.Review{}, fmt.Errorf("%w: comment is longer than %d characters", model.ErrValidation, maxCommentLength)
	}

	r := model.Review{UserID: userID, DishID: dishID, Rating: rating, Comment: comment}
	id, err := f.store.InsertReview(ctx, r)
	if err != nil {
		return model.Review{}, err
	}
	r.ID = id
	return r, nil
}

func (f *Feedback) ListReviews(ctx context.Context, dishID int64) ([]model.Review, error) {
	return f.store.ListReviews(ctx, dishID)
}

// AddAllergen records ingredientID as unsafe for userID; a repeated call replaces the note.
func (f *Feedback) AddAllergen(ctx context.Context, userID, ingredientID int64, note string) error {
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return fmt.Errorf("%w: note is longer than %d characters", model.ErrValidation, maxNoteLength)
	}
	return f.store.UpsertAllergen(ctx, model.Allergen{UserID: userID, IngredientID: ingredientID, Note: note})
}

func (f *Feedback) RemoveAllergen(ctx context.Context, userID, ingredientID int64) error {
	removed, err := f.store.DeleteAllergen(ctx, userID, ingredientID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: allergen %d for user %d", model.ErrNotFound, ingredientID, userID)
	}
	return nil
}

func (f *Feedback) ListAllergens(ctx context.Context, userID int64) ([]model.Allergen, error) {
	return f.store.ListAllergens(ctx, userID)
}
