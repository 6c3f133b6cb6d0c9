// Package memory provides the in-memory crawl frontier used by one campaign.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/deque"
)

var (
	// ErrDrained is returned by Pop once the frontier is empty and no popped
	// item is still being processed: no more work can appear.
	ErrDrained = errors.New("frontier drained")
	// ErrClosed is returned by Pop after Close.
	ErrClosed = errors.New("frontier closed")
)

// Frontier is an unbounded FIFO of URLs. Every successful Pop must be
// matched by a Done once the item (and any Push it causes) is finished.
type Frontier struct {
	mu       sync.Mutex
	items    deque.Deque[string]
	inFlight int
	closed   bool
	// changed is closed and replaced on every state change to wake waiters.
	changed chan struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{changed: make(chan struct{})}
}

// Push appends an item. It reports false once the frontier is closed.
func (f *Frontier) Push(item string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.items.PushBack(item)
	f.notifyLocked()
	return true
}

// Pop blocks until an item is available, the frontier drains or closes, or ctx ends.
func (f *Frontier) Pop(ctx context.Context) (string, error) {
	for {
		f.mu.Lock()
		switch {
		case f.closed:
			f.mu.Unlock()
			return "", ErrClosed
		case f.items.Len() > 0:
			item := f.items.PopFront()
			f.inFlight++
			f.mu.Unlock()
			return item, nil
		case f.inFlight == 0:
			f.mu.Unlock()
			return "", ErrDrained
		}
		wait := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("frontier pop canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Done marks one popped item as finished.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	f.notifyLocked()
}

// Close discards queued items and wakes every waiter.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.items.Clear()
	f.notifyLocked()
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}

// InFlight returns the number of popped items not yet marked Done.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func (f *Frontier) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}
