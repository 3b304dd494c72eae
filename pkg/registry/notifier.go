package registry

import (
	"sync"

	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// StatusChange is one device status transition, delivered to subscribers.
type StatusChange struct {
	ClientID string
	Name     string
	Old      wire.Status
	New      wire.Status
}

// Subscription is one subscriber's feed of status changes.
type Subscription struct {
	// C delivers status changes. Closed by Cancel.
	C <-chan StatusChange

	cancel func()
}

// Cancel removes the subscription. Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Notifier fans status changes out to subscribers. Delivery is
// best-effort: a subscriber that stops draining its channel loses
// changes instead of blocking the connection paths publishing them.
type Notifier struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan StatusChange
}

// subscriptionBuffer is the per-subscriber channel depth.
const subscriptionBuffer = 64

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subs: make(map[uint64]chan StatusChange),
	}
}

// Subscribe registers a new subscriber.
func (n *Notifier) Subscribe() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	ch := make(chan StatusChange, subscriptionBuffer)
	n.subs[id] = ch

	var once sync.Once
	return &Subscription{
		C: ch,
		cancel: func() {
			once.Do(func() {
				n.mu.Lock()
				defer n.mu.Unlock()
				if c, ok := n.subs[id]; ok {
					delete(n.subs, id)
					close(c)
				}
			})
		},
	}
}

// Publish delivers a status change to all subscribers without blocking.
func (n *Notifier) Publish(change StatusChange) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- change:
		default:
			// Subscriber is not draining; drop rather than block.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
