// Package pagination walks paginated upstream collections.
package pagination

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrExhaustedCursor is returned by Next once the last page has been consumed
	ErrExhaustedCursor = errors.New("cursor is exhausted")
	// ErrInconsistentPage is returned when a page contradicts its own paging signals
	ErrInconsistentPage = errors.New("inconsistent page")
)

// Cursor walks one logical collection page by page
type Cursor[T any] interface {
	// Next fetches the next page
	Next(ctx context.Context) ([]T, error)
	// IsExhausted reports whether the last page has been consumed
	IsExhausted() bool
}

// DrainAll calls Next until the cursor is exhausted and returns every item in page order.
// The first failing page aborts the walk and nothing collected so far is returned.
func DrainAll[T any](ctx context.Context, cursor Cursor[T]) ([]T, error) {
	var all []T
	for !cursor.IsExhausted() {
		page, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
	return all, nil
}

// PageState tracks the paging signals of page-offset APIs (start index + isLastPage flag).
type PageState struct {
	start     int
	exhausted bool
}

// Start returns the start index to request for the next page
func (s *PageState) Start() int {
	return s.start
}

// IsExhausted reports whether the server has flagged the last page
func (s *PageState) IsExhausted() bool {
	return s.exhausted
}

// Check fails with ErrExhaustedCursor when no page is left to fetch
func (s *PageState) Check() error {
	if s.exhausted {
		return ErrExhaustedCursor
	}
	return nil
}

// Advance records one page response. The isLast flag alone terminates the walk;
// nextStart only tells where the following page begins.
func (s *PageState) Advance(size, count int, isLast bool, nextStart *int) error {
	if size != count {
		return fmt.Errorf("%w: declared size %d but got %d values", ErrInconsistentPage, size, count)
	}
	if isLast {
		if nextStart != nil {
			return fmt.Errorf("%w: last page still declares next start %d", ErrInconsistentPage, *nextStart)
		}
		s.exhausted = true
		return nil
	}
	if nextStart == nil {
		return fmt.Errorf("%w: page at start %d is not last but has no next start", ErrInconsistentPage, s.start)
	}
	if *nextStart <= s.start {
		return fmt.Errorf("%w: next start %d does not move past %d", ErrInconsistentPage, *nextStart, s.start)
	}
	s.start = *nextStart
	return nil
}
