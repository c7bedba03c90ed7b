package session

import (
	"sort"
	"sync"
)

// Broadcaster fans changes out to subscribers. The zero value is ready to
// use. Callbacks run on the publishing goroutine with no lock held, so they
// may call back into the store.
type Broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Change)
}

func (b *Broadcaster) Subscribe(fn func(Change)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]func(Change))
	}
	id := b.next
	b.next++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish calls every current subscriber once, in subscription order.
func (b *Broadcaster) Publish(c Change) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), len(ids))
	for i, id := range ids {
		fns[i] = b.subs[id]
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
