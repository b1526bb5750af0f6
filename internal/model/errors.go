package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrOutOfStock        = errors.New("out of stock")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindOutOfStock        Kind = "out_of_stock"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindForbidden         Kind = "forbidden"
	KindValidation        Kind = "validation"
	KindInternal          Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrConflict, KindConflict},
	{ErrOutOfStock, KindOutOfStock},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrForbidden, KindForbidden},
	{ErrValidation, KindValidation},
}

// KindOf classifies err; anything outside the taxonomy is internal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
