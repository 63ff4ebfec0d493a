// Package sessions tracks live relay sessions so the server can count
// them, broadcast drain notices, and wait for them during shutdown.
package sessions

import (
	"context"
	"sync"
)

// Handle is how the tracker reaches back into a running session. Cancel
// tears the session down; Notify pushes an informational frame to the
// browser, best effort.
type Handle struct {
	UserID string
	Cancel func()
	Notify func(message string) error
}

type Tracker struct {
	mu     sync.Mutex
	active map[string]*tracked
	wg     sync.WaitGroup
}

type tracked struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]*tracked)}
}

// Register adds a session under its ID and returns the matching
// unregister func. Re-registering an ID replaces and releases the old
// entry. Both funcs are safe to call more than once.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &tracked{handle: h}

	t.mu.Lock()
	if t.active == nil {
		t.active = make(map[string]*tracked)
	}
	old := t.active[sessionID]
	t.active[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *tracked) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.active != nil && t.active[sessionID] == entry {
			delete(t.active, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// CountForUser reports how many sessions one user currently holds.
func (t *Tracker) CountForUser(userID string) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, entry := range t.active {
		if entry != nil && entry.handle.UserID == userID {
			n++
		}
	}
	return n
}

// NotifyAll sends a status message to every session that can receive one.
// Send errors are ignored; a session on its way out just misses the note.
func (t *Tracker) NotifyAll(message string) (sent int) {
	if t == nil {
		return 0
	}

	var notifies []func(message string) error
	t.mu.Lock()
	for _, entry := range t.active {
		if entry == nil || entry.handle.Notify == nil {
			continue
		}
		notifies = append(notifies, entry.handle.Notify)
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		_ = notify(message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.active {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or ctx
// expires. A nil ctx waits without a deadline.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
