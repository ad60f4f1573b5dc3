package realtime

import "sync"

// subscription is one live view (roster, inbox, or a conversation) on one
// connection. notify coalesces feed events into "refresh soon"; done ends
// the refresh loop and guards against stale snapshots being delivered after
// teardown.
type subscription struct {
	key      string
	notify   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newSubscription(key string) *subscription {
	return &subscription{
		key:    key,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// poke requests a refresh without blocking; an already pending request is
// enough.
func (s *subscription) poke() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) close() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// subscriptionSet holds the live subscriptions of one connection, at most
// one per logical view. Adding under an existing key tears the old one down
// first, so re-subscribing can never leak a duplicate stream.
type subscriptionSet struct {
	mu   sync.Mutex
	subs map[string]*subscription
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{subs: make(map[string]*subscription)}
}

func (set *subscriptionSet) add(key string) *subscription {
	set.mu.Lock()
	defer set.mu.Unlock()

	if old, ok := set.subs[key]; ok {
		old.close()
	}
	sub := newSubscription(key)
	set.subs[key] = sub
	return sub
}

func (set *subscriptionSet) remove(key string) {
	set.mu.Lock()
	defer set.mu.Unlock()

	if sub, ok := set.subs[key]; ok {
		sub.close()
		delete(set.subs, key)
	}
}

func (set *subscriptionSet) get(key string) (*subscription, bool) {
	set.mu.Lock()
	defer set.mu.Unlock()
	sub, ok := set.subs[key]
	return sub, ok
}

func (set *subscriptionSet) closeAll() {
	set.mu.Lock()
	defer set.mu.Unlock()

	for key, sub := range set.subs {
		sub.close()
		delete(set.subs, key)
	}
}
