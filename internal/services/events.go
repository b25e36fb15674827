package services

import (
	"sync"

	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// listenerSet fans events out to subscribers. Listeners run synchronously on the
// caller's goroutine, outside any service lock; a panicking listener is logged and skipped.
type listenerSet[E any] struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(E)
	logger    *logger.Logger
}

func newListenerSet[E any](log *logger.Logger) *listenerSet[E] {
	return &listenerSet[E]{listeners: make(map[int]func(E)), logger: log}
}

func (l *listenerSet[E]) subscribe(fn func(E)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.listeners, id)
			l.mu.Unlock()
		})
	}
}

func (l *listenerSet[E]) emit(event E) {
	l.mu.RLock()
	fns := make([]func(E), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		l.call(fn, event)
	}
}

func (l *listenerSet[E]) call(fn func(E), event E) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Event listener panicked", logger.Any("panic", r))
		}
	}()
	fn(event)
}

func (l *listenerSet[E]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners)
}
