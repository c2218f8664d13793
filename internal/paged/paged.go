// Package paged assembles cursor-paginated result pages.
package paged

import (
	"context"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/cursor"
)

// Request is the caller's pagination input.
type Request struct {
	// Limit is nil for an unbounded single page. Zero is a valid limit.
	Limit  *int
	Cursor *cursor.Cursor
	// Now pins the reference time when the cursor does not carry one.
	Now time.Time
}

// Params is what a fetch function receives.
type Params struct {
	// Limit already includes the sentinel row; nil means unbounded.
	Limit         *int
	Offset        int
	ReferenceTime time.Time
}

// FetchFunc loads rows for one page from the store, ordered by the resolver's sort key.
type FetchFunc[T any] func(ctx context.Context, p Params) ([]T, error)

// Page is one page of results.
type Page[T any] struct {
	Objects []T
	// NextCursor is nil once the matching set is exhausted.
	NextCursor *cursor.Cursor
}

// Paginate fetches limit+1 rows starting at the cursor offset and decides from the
// sentinel row whether a further page exists. A page may hold fewer than limit rows
// while NextCursor is still set; only a nil NextCursor signals the end.
func Paginate[T any](ctx context.Context, req Request, fetch FetchFunc[T]) (Page[T], error) {
	if req.Limit != nil && *req.Limit < 0 {
		return Page[T]{}, apperror.InvalidInput("limit must be a non-negative integer")
	}

	offset := 0
	reference := req.Now
	if req.Cursor != nil {
		offset = req.Cursor.Offset
		if req.Cursor.ReferenceTime != nil {
			reference = *req.Cursor.ReferenceTime
		}
	}

	params := Params{Offset: offset, ReferenceTime: reference}
	if req.Limit != nil {
		sentinel := *req.Limit + 1
		params.Limit = &sentinel
	}

	rows, err := fetch(ctx, params)
	if err != nil {
		return Page[T]{}, err
	}
	if rows == nil {
		rows = []T{}
	}

	if req.Limit == nil {
		return Page[T]{Objects: rows}, nil
	}

	limit := *req.Limit
	if len(rows) <= limit {
		return Page[T]{Objects: rows}, nil
	}

	ref := reference
	return Page[T]{
		Objects:    rows[:limit],
		NextCursor: &cursor.Cursor{Offset: offset + limit, ReferenceTime: &ref},
	}, nil
}

// Map converts the objects of a page while keeping its cursor.
func Map[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, 0, len(p.Objects))
	for _, o := range p.Objects {
		out = append(out, fn(o))
	}
	return Page[U]{Objects: out, NextCursor: p.NextCursor}
}

// Filter drops objects after the page boundary has been decided. The cursor is
// kept, so the filtered page may be short while further pages exist.
func Filter[T any](p Page[T], keep func(T) bool) Page[T] {
	out := make([]T, 0, len(p.Objects))
	for _, o := range p.Objects {
		if keep(o) {
			out = append(out, o)
		}
	}
	return Page[T]{Objects: out, NextCursor: p.NextCursor}
}
