package eventlog

import (
	"context"
	"errors"
	"io"
)

// Iterator is a lazy, single-pass iterator over items produced by a next
// function. It is not safe for concurrent use and should be consumed
// immediately after creation.
type Iterator[T any] struct {
	nextFunc func(ctx context.Context) (T, error)
	current  T
	err      error
	done     bool
}

// NewIterator creates an Iterator from a function producing the next item.
// The function signals the end of iteration by returning io.EOF.
func NewIterator[T any](nextFunc func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{nextFunc: nextFunc}
}

// NewSliceIterator creates an Iterator yielding the items of a slice.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	index := 0
	return NewIterator(func(ctx context.Context) (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if index >= len(items) {
			return zero, io.EOF
		}
		item := items[index]
		index++
		return item, nil
	})
}

// Next advances the iterator. Returns false when exhausted or on error.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}

	it.current, it.err = it.nextFunc(ctx)
	if errors.Is(it.err, io.EOF) {
		it.err = nil
		it.done = true
		return false
	}
	return it.err == nil
}

// Value returns the current item.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the first error encountered during iteration, if any.
func (it *Iterator[T]) Err() error {
	return it.err
}

// All consumes the iterator and returns the remaining items.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
