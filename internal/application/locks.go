package application

import "sync"

// orderLocks serializes mutations per order. Locking scope is always a
// single orderId; no resource is shared across orders.
type orderLocks struct {
	locks sync.Map
}

// Lock acquires the mutex for an order and returns its unlock func.
func (l *orderLocks) Lock(orderID string) func() {
	v, _ := l.locks.LoadOrStore(orderID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
