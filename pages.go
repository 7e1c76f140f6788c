// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package couchbulk

import (
	"context"
	"net/http"
	"sync"
)

const (
	// stateReady is the initial state, before Next has been called.
	stateReady = iota
	// statePageReady means Page returns the most recent page.
	statePageReady
	// stateClosed means the final page has been delivered, or an error
	// occurred, or Close was called.
	stateClosed
)

// fetchFunc returns the next non-empty page, or done=true once the stream is
// exhausted.
type fetchFunc[T any] func(ctx context.Context) (page []T, done bool, err error)

// Pages is an iterator over the pages of a paginated read. Pages are fetched
// lazily, one request per call to Next, in server order. A Pages value must
// not be used from multiple goroutines at once.
//
//	pages := db.AllDocs(ctx)
//	for pages.Next() {
//		for _, doc := range pages.Page() {
//			...
//		}
//	}
//	if err := pages.Err(); err != nil {
//		...
//	}
type Pages[T any] struct {
	ctx   context.Context
	fetch fetchFunc[T]

	mu      sync.Mutex
	state   int
	cur     []T
	lasterr error
	count   int
}

func newPages[T any](ctx context.Context, fetch fetchFunc[T]) *Pages[T] {
	return &Pages[T]{
		ctx:   ctx,
		fetch: fetch,
	}
}

// errPages returns a Pages which yields nothing, and reports err.
func errPages[T any](err error) *Pages[T] {
	return &Pages[T]{
		state:   stateClosed,
		lasterr: err,
	}
}

// Next fetches the next page. It returns false when there are no more pages,
// or an error occurred, in which case Err returns the error.
func (p *Pages[T]) Next() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateClosed {
		return false
	}
	if err := p.ctx.Err(); err != nil {
		p.closeLocked(err)
		return false
	}
	page, done, err := p.fetch(p.ctx)
	if err != nil || done {
		p.closeLocked(err)
		return false
	}
	p.cur = page
	p.count++
	p.state = statePageReady
	return true
}

// Page returns the current page. It is only valid after Next returns true.
func (p *Pages[T]) Page() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != statePageReady {
		return nil
	}
	return p.cur
}

// Count returns the number of pages delivered so far.
func (p *Pages[T]) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Err returns the error, if any, that was encountered during iteration.
func (p *Pages[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lasterr
}

// Close stops the iteration. It is not necessary to call Close after Next
// returns false.
func (p *Pages[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked(nil)
	return nil
}

func (p *Pages[T]) closeLocked(err error) {
	if p.state == stateClosed {
		return
	}
	p.state = stateClosed
	p.cur = nil
	p.lasterr = err
}

// Each calls fn once for every page, in order. If fn returns an error,
// iteration stops and that error is returned. Pages dispatched before a
// failure are not rolled back.
func (p *Pages[T]) Each(fn func(page []T) error) error {
	for p.Next() {
		if err := fn(p.Page()); err != nil {
			_ = p.Close()
			return err
		}
	}
	return p.Err()
}

// Collect reads all remaining pages, and returns their items. On error, no
// partial result is returned.
func (p *Pages[T]) Collect() ([]T, error) {
	var all []T
	if err := p.Each(func(page []T) error {
		all = append(all, page...)
		return nil
	}); err != nil {
		return nil, err
	}
	return all, nil
}

func checkPageSize(n int) error {
	if n <= 0 {
		return &Error{Status: http.StatusBadRequest, Message: "couchbulk: page size must be greater than zero"}
	}
	return nil
}
