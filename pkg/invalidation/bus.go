// Package invalidation fans "this key might be stale" notices out to the
// components that cache the key.
package invalidation

import (
	"fmt"
	"sync"

	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
)

// Callback is invoked with the published key.
type Callback func(key models.QueryKey) error

// SubscriptionID identifies one registration so that it can be removed.
type SubscriptionID uint64

type subscription struct {
	id SubscriptionID
	fn Callback
}

// Bus is a process-wide registry of invalidation callbacks keyed by exact
// QueryKey. There is no pattern matching: a publisher must name every key
// it affects.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]subscription
	observers []func(models.QueryKey)
	nextID    SubscriptionID

	logger logger.Logger
}

type Option func(*Bus)

func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// NewBus creates a new Bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string][]subscription),
		logger: logger.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers fn for key. Callbacks of one key run in registration order.
func (b *Bus) Subscribe(key models.QueryKey, fn Callback) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	k := key.String()
	b.subs[k] = append(b.subs[k], subscription{id: id, fn: fn})
	return id
}

// Observe registers fn to see every published key before the callbacks of
// that key run. Observers are not counted by Publish and cannot be removed.
func (b *Bus) Observe(fn func(key models.QueryKey)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Unsubscribe removes the registration id from key. It reports whether the
// registration existed.
func (b *Bus) Unsubscribe(key models.QueryKey, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key.String()
	subs := b.subs[k]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		rest := make([]subscription, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(b.subs, k)
		} else {
			b.subs[k] = rest
		}
		return true
	}
	return false
}

// Publish synchronously invokes every callback registered for exactly key
// and returns how many ran. A failing or panicking callback is logged and
// does not stop the rest.
func (b *Bus) Publish(key models.QueryKey) int {
	b.mu.RLock()
	subs := b.subs[key.String()]
	observers := b.observers
	b.mu.RUnlock()

	for _, fn := range observers {
		fn(key)
	}
	for _, s := range subs {
		if err := b.invoke(key, s); err != nil {
			b.logger.Error("Invalidation callback failed",
				"key", key.String(),
				"subscription", uint64(s.id),
				"error", err)
		}
	}
	return len(subs)
}

// PublishMany publishes each key in order. Duplicate keys are published once.
func (b *Bus) PublishMany(keys []models.QueryKey) int {
	seen := make(map[string]struct{}, len(keys))
	n := 0
	for _, k := range keys {
		id := k.String()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		n += b.Publish(k)
	}
	return n
}

func (b *Bus) invoke(key models.QueryKey, s subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in invalidation callback: %v", r)
		}
	}()
	return s.fn(key)
}

// Subscribers returns the number of callbacks registered for key.
func (b *Bus) Subscribers(key models.QueryKey) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key.String()])
}
