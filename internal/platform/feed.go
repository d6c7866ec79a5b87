package platform

import (
	"context"
	"log/slog"
	"sync"
)

type Handler[T any] func(ctx context.Context, ev T)

// Feed is a named stream of platform events. Each published event is handed
// to every subscriber on its own goroutine; subscribers do not see each
// other's state.
type Feed[T any] struct {
	name string
	mu   sync.RWMutex
	subs []Handler[T]
	wg   sync.WaitGroup
}

func NewFeed[T any](name string) *Feed[T] {
	return &Feed[T]{name: name}
}

func (f *Feed[T]) Name() string { return f.name }

func (f *Feed[T]) Subscribe(h Handler[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, h)
}

func (f *Feed[T]) Publish(ctx context.Context, ev T) {
	f.mu.RLock()
	subs := make([]Handler[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()

	for _, h := range subs {
		f.wg.Add(1)
		go func(h Handler[T]) {
			defer f.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Feed handler panicked", "feed", f.name, "panic", r)
				}
			}()
			h(ctx, ev)
		}(h)
	}
}

// Wait blocks until every handler started by Publish has returned.
func (f *Feed[T]) Wait() {
	f.wg.Wait()
}
