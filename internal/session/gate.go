// Package session holds the current authenticated identity for one user's
// workspace and fans identity changes out to subscribers.
//
// The identity provider pushes changes with Publish (a new or refreshed
// session, or nil on sign-out/expiry). Components that cache owner-scoped data
// Subscribe and react, so stale data from one identity is never shown to the next.
package session

import (
	"sync"

	"github.com/sakif/propability/internal/clock"
	"github.com/sakif/propability/internal/model"
)

// Source is the read side of a Gate. Core operations take a Source and treat
// the session it returns as read-only.
type Source interface {
	Current() (*model.Session, bool)
}

// Feed is a Source that also announces changes.
type Feed interface {
	Source
	Subscribe(l Listener) (unsubscribe func())
}

// Listener is called with the new session after every Publish; nil means signed out.
type Listener func(*model.Session)

// Gate is safe for concurrent use.
type Gate struct {
	clock clock.Clock

	mu        sync.RWMutex
	current   *model.Session
	listeners map[int]Listener
	nextID    int
}

var _ Feed = (*Gate)(nil)

// NewGate returns a Gate with no session.
func NewGate(c clock.Clock) *Gate {
	return &Gate{
		clock:     c,
		listeners: make(map[int]Listener),
	}
}

// Current returns the session, or false when nobody is signed in or the
// session has expired.
func (g *Gate) Current() (*model.Session, bool) {
	g.mu.RLock()
	s := g.current
	g.mu.RUnlock()

	if s == nil || s.Expired(g.clock.Now()) {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// Publish replaces the current session and notifies every listener.
// Listeners run synchronously, after the lock is released.
func (g *Gate) Publish(s *model.Session) {
	g.mu.Lock()
	if s != nil {
		cp := *s
		s = &cp
	}
	g.current = s
	listeners := make([]Listener, 0, len(g.listeners))
	for _, l := range g.listeners {
		listeners = append(listeners, l)
	}
	g.mu.Unlock()

	for _, l := range listeners {
		l(s)
	}
}

// Subscribe registers l and returns a function that removes it.
func (g *Gate) Subscribe(l Listener) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = l
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.listeners, id)
			g.mu.Unlock()
		})
	}
}

// SignOut is Publish(nil).
func (g *Gate) SignOut() {
	g.Publish(nil)
}
