package service

import (
	"sync"
	"testing"
)

func TestTurnGateSerializesPerConversation(t *testing.T) {
	gate := NewTurnGate()

	active := 0
	maxActive := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.Do("conv-1", func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent turns = %d, want 1 per conversation", maxActive)
	}
}

func TestTurnGateIndependentConversations(t *testing.T) {
	gate := NewTurnGate()

	release := make(chan struct{})
	started := make(chan struct{})
	go gate.Do("conv-a", func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	// A different conversation must not wait for conv-a
	done := make(chan struct{})
	go gate.Do("conv-b", func() error { close(done); return nil })

	select {
	case <-done:
	default:
		// Give the goroutine a chance to run
		<-done
	}
	close(release)
}
