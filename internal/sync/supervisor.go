package sync

import (
	"log"
	"sync"
)

// Supervisor tracks background syncs spawned from request handlers so the
// process can wait for them during shutdown instead of dropping them.
type Supervisor struct {
	wg sync.WaitGroup
}

func (s *Supervisor) Go(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("background task %s panicked: %v", name, r)
			}
		}()
		fn()
	}()
}

func (s *Supervisor) Wait() {
	s.wg.Wait()
}
