package recorder

import (
	"sync"

	"github.com/google/uuid"

	"interview-recorder/dto"
)

// Notifier fans state snapshots out to subscribers. Sends never block: a
// subscriber that stops draining misses intermediate snapshots and catches
// up with the next one.
type Notifier struct {
	mu     sync.Mutex
	closed bool
	subs   map[string]chan dto.SessionSnapshot
}

func NewNotifier() *Notifier {
	return &Notifier{
		subs: make(map[string]chan dto.SessionSnapshot),
	}
}

func (n *Notifier) Subscribe() (<-chan dto.SessionSnapshot, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan dto.SessionSnapshot, 8)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := uuid.NewString()
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (n *Notifier) Publish(snapshot dto.SessionSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		select {
		case sub <- snapshot:
		default:
		}
	}
}

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, sub := range n.subs {
		delete(n.subs, id)
		close(sub)
	}
}
