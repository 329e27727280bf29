package order

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// pendingOrder is a node of the intrusive FIFO list.
type pendingOrder struct {
	order Order
	next  *pendingOrder
	prev  *pendingOrder
}

// Book holds orders awaiting dispatch. Orders leave in the order they were
// admitted; amendments never move an order.
type Book struct {
	mu    sync.Mutex
	head  *pendingOrder
	tail  *pendingOrder
	index map[string]*pendingOrder
	seq   uint64
}

// NewBook creates an empty pending book.
func NewBook() *Book {
	return &Book{index: make(map[string]*pendingOrder)}
}

// SubmitNew appends o to the back of the queue. Session gating is the
// caller's job; the book only enforces id uniqueness.
func (b *Book) SubmitNew(o Order) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.index[o.ID]; exists {
		return Order{}, errors.Wrapf(ErrDuplicateOrderID, "order %s", o.ID)
	}

	b.seq++
	o.Seq = b.seq
	node := &pendingOrder{order: o, prev: b.tail}
	if b.tail != nil {
		b.tail.next = node
	} else {
		b.head = node
	}
	b.tail = node
	b.index[o.ID] = node
	return o, nil
}

// Amend replaces price and quantity in place and returns the updated order.
func (b *Book) Amend(id string, price decimal.Decimal, qty int64) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	node, ok := b.index[id]
	if !ok {
		return Order{}, errors.Wrapf(ErrOrderNotFound, "amend %s", id)
	}
	node.order.Price = price
	node.order.Quantity = qty
	return node.order, nil
}

// Cancel unlinks the order and drops it from the index.
func (b *Book) Cancel(id string) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	node, ok := b.index[id]
	if !ok {
		return Order{}, errors.Wrapf(ErrOrderNotFound, "cancel %s", id)
	}
	b.unlink(node)
	return node.order, nil
}

// Drain pops up to max orders from the front of the queue.
func (b *Book) Drain(max int) []Order {
	if max <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Order, 0, min(max, len(b.index)))
	for len(out) < max && b.head != nil {
		node := b.head
		b.unlink(node)
		out = append(out, node.order)
	}
	return out
}

// unlink must be called with mu held.
func (b *Book) unlink(node *pendingOrder) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		b.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		b.tail = node.prev
	}
	node.next, node.prev = nil, nil
	delete(b.index, node.order.ID)
}

// Get returns a copy of a pending order.
func (b *Book) Get(id string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	node, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	return node.order, true
}

func (b *Book) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.index[id]
	return ok
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.index)
}

// Snapshot returns the pending orders in dispatch order.
func (b *Book) Snapshot() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Order, 0, len(b.index))
	for node := b.head; node != nil; node = node.next {
		out = append(out, node.order)
	}
	return out
}

// checkInvariant verifies that the list and the index hold the same ids,
// each exactly once.
func (b *Book) checkInvariant() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(b.index))
	var prev *pendingOrder
	for node := b.head; node != nil; node = node.next {
		if node.prev != prev {
			return fmt.Errorf("broken back link at %s", node.order.ID)
		}
		if _, dup := seen[node.order.ID]; dup {
			return fmt.Errorf("id %s queued twice", node.order.ID)
		}
		if b.index[node.order.ID] != node {
			return fmt.Errorf("id %s queued but not indexed", node.order.ID)
		}
		seen[node.order.ID] = struct{}{}
		prev = node
	}
	if prev != b.tail {
		return fmt.Errorf("tail does not match last node")
	}
	if len(seen) != len(b.index) {
		return fmt.Errorf("index has %d ids, queue has %d", len(b.index), len(seen))
	}
	return nil
}
