package storage

import "sync"

// notifier wakes waiters blocked on path changes within one file.
// Broadcast-on-change with re-check by the waiter, so a waiter never
// misses an update between its hash probe and its wait.
type notifier struct {
	mu sync.Mutex
	ch chan struct{} // Closed and replaced on each change.
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

// wait returns a channel which closes on the next change.
func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

// broadcast wakes all current waiters.
func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}
