// Package pager turns a "fetch one page for a cursor" function into a lazy,
// pull-based sequence of items.
package pager

import (
	"context"
	"errors"
	"iter"
)

// Done is returned by Next once every page has been consumed.
var Done = errors.New("pager: no more items")

// Request describes the page to fetch. An empty Cursor asks for the first page.
type Request struct {
	Cursor string
	Size   int
}

// Page is one fetched page. An empty Next marks the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

type FetchFunc[T any] func(ctx context.Context, req Request) (Page[T], error)

type Option func(*config)

type config struct {
	size int
}

// WithPageSize sets the size hint passed to every fetch.
func WithPageSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.size = size
		}
	}
}

// Pager is not safe for concurrent use; each consumer should own one.
type Pager[T any] struct {
	fetch FetchFunc[T]
	size  int

	cursor  string
	started bool
	buf     []T
	done    bool
	err     error
	fetches int
}

func New[T any](fetch FetchFunc[T], opts ...Option) *Pager[T] {
	return Resume(fetch, "", opts...)
}

// Resume starts a pager at cursor, typically one reported by Cursor on a
// pager that failed part way through.
func Resume[T any](fetch FetchFunc[T], cursor string, opts ...Option) *Pager[T] {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pager[T]{
		fetch:   fetch,
		size:    cfg.size,
		cursor:  cursor,
		started: cursor != "",
	}
}

// Next returns the next item, fetching a page only when the buffered one is
// exhausted. It returns Done at the end of the sequence. A fetch error is
// returned from then on; nothing is skipped past it.
func (p *Pager[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if len(p.buf) > 0 {
			item := p.buf[0]
			p.buf = p.buf[1:]
			return item, nil
		}
		if p.err != nil {
			return zero, p.err
		}
		if p.done || (p.started && p.cursor == "") {
			p.done = true
			return zero, Done
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		page, err := p.fetch(ctx, Request{Cursor: p.cursor, Size: p.size})
		p.fetches++
		if err != nil {
			p.err = err
			return zero, err
		}
		p.started = true
		p.buf = page.Items
		p.cursor = page.Next
	}
}

// Cursor is the cursor of the next page that has not been fetched yet. After a
// failed fetch it is the cursor of the failed page.
func (p *Pager[T]) Cursor() string {
	return p.cursor
}

// Err returns the fetch error that stopped the pager, if any.
func (p *Pager[T]) Err() error {
	return p.err
}

// Fetches reports how many pages have been requested so far.
func (p *Pager[T]) Fetches() int {
	return p.fetches
}

// All ranges over the remaining items. Iteration ends at the end of the
// sequence or after yielding the first error; breaking out stops fetching.
func (p *Pager[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, err := p.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains the pager. On failure it returns the items read so far
// together with the error.
func (p *Pager[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	for item, err := range p.All(ctx) {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}
