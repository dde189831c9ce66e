package memory

import "sync"

// watcher delivers snapshots to one listener in order, from a dedicated
// goroutine. Deliveries coalesce: a slow listener skips straight to the
// latest state instead of draining a backlog.
type watcher[T any] struct {
	ch   chan T
	stop chan struct{}
	once sync.Once
}

func newWatcher[T any](fn func(T)) *watcher[T] {
	w := &watcher[T]{
		ch:   make(chan T, 1),
		stop: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-w.stop:
				return
			case v := <-w.ch:
				fn(v)
			}
		}
	}()
	return w
}

func (w *watcher[T]) deliver(v T) {
	for {
		select {
		case w.ch <- v:
			return
		default:
			select {
			case <-w.ch:
			default:
			}
		}
	}
}

func (w *watcher[T]) close() {
	w.once.Do(func() { close(w.stop) })
}
