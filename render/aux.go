// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package render

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// AuxService is a worker goroutine that runs requested
// tasks in order.
type AuxService struct {
	name string

	mu      sync.Mutex
	cond    sync.Cond
	tasks   []func()
	busy    bool
	stopped bool
	done    chan struct{}
}

// NewAuxService starts a new worker.
func NewAuxService(name string) *AuxService {
	s := &AuxService{name: name, done: make(chan struct{})}
	s.cond.L = &s.mu
	go s.run()
	return s
}

func (s *AuxService) run() {
	defer close(s.done)
	s.mu.Lock()
	for {
		for len(s.tasks) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.tasks[0]
		s.tasks[0] = nil
		s.tasks = s.tasks[1:]
		s.busy = true
		s.mu.Unlock()
		s.exec(task)
		s.mu.Lock()
		s.busy = false
		s.cond.Broadcast()
	}
}

func (s *AuxService) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("service", s.name).Errorf("task panicked: %v", r)
		}
	}()
	task()
}

// Name returns the name of the service.
func (s *AuxService) Name() string { return s.name }

// Request queues task for execution.
// It returns false if s was stopped.
func (s *AuxService) Request(task func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.tasks = append(s.tasks, task)
	s.cond.Broadcast()
	return true
}

// Drain blocks until every requested task has run.
func (s *AuxService) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.tasks) > 0 || s.busy {
		s.cond.Wait()
	}
}

// Stop runs the pending tasks and terminates the worker.
// Requests made afterwards are rejected.
func (s *AuxService) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}
