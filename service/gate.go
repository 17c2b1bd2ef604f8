package service

import (
	"sync"
)

// TurnGate serializes turn and compression work per conversation. A new turn
// must not start while a chained-summary compression call for the same
// conversation is still in flight; callers wrap both in Do.
type TurnGate struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTurnGate() *TurnGate {
	return &TurnGate{locks: make(map[string]*sync.Mutex)}
}

func (g *TurnGate) lock(conversationID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[conversationID] = l
	}
	return l
}

// Do runs fn while holding the conversation's lock. Work for different
// conversations proceeds concurrently.
func (g *TurnGate) Do(conversationID string, fn func() error) error {
	l := g.lock(conversationID)
	l.Lock()
	defer l.Unlock()
	return fn()
}
