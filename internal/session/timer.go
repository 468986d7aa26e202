package session

import (
	"sync"
	"time"
)

// ticker runs fn on every tick in its own goroutine until stopped.
type ticker struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startTicker(interval time.Duration, fn func()) *ticker {
	t := &ticker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				fn()
			}
		}
	}()
	return t
}

// Stop halts the ticker and waits for its goroutine to return. It is safe to
// call on a nil ticker and more than once. It must not be called while
// holding a lock fn acquires.
func (t *ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
	<-t.done
}
