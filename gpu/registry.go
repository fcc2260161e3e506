// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Service is an extension service shared by the users of
// an instance.
type Service interface {
	// Close tears the service down.
	// It is called once, when the last reference is
	// released.
	Close()
}

// Registry tracks the extension services of an instance.
// Services are reference counted: the first Acquire of a
// key builds the service and the last Release closes it.
type Registry struct {
	mu       sync.Mutex
	services map[string]*registryEntry
	builds   singleflight.Group
}

type registryEntry struct {
	svc  Service
	refs int
}

func newRegistry() *Registry {
	return &Registry{services: make(map[string]*registryEntry)}
}

// Acquire returns the service registered under key,
// adding a reference to it.
// If there is none, build is called to create it. If build
// fails, nothing is registered. Concurrent calls for the
// same key share a single build.
// build runs without locks held, so it may acquire other
// services, but it must not acquire key itself.
func (r *Registry) Acquire(key string, build func() (Service, error)) (Service, error) {
	for {
		if svc, ok := r.retain(key); ok {
			return svc, nil
		}
		// Set only in the caller that runs the build, which
		// holds a reference when it returns.
		var owned bool
		v, err, _ := r.builds.Do(key, func() (any, error) {
			if svc, ok := r.retain(key); ok {
				owned = true
				return svc, nil
			}
			svc, err := build()
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.services[key] = &registryEntry{svc: svc, refs: 1}
			r.mu.Unlock()
			owned = true
			log.WithField("service", key).Debug("service created")
			return svc, nil
		})
		switch {
		case err != nil:
			return nil, err
		case owned:
			return v.(Service), nil
		}
	}
}

// retain adds a reference to the service registered under
// key, if any.
func (r *Registry) retain(key string) (Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[key]; ok {
		e.refs++
		return e.svc, true
	}
	return nil, false
}

// Release removes a reference to the service registered
// under key, closing it if no references remain.
// It returns whether the service was closed.
func (r *Registry) Release(key string) bool {
	r.mu.Lock()
	e, ok := r.services[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if e.refs--; e.refs > 0 {
		r.mu.Unlock()
		return false
	}
	delete(r.services, key)
	r.mu.Unlock()
	e.svc.Close()
	log.WithField("service", key).Debug("service closed")
	return true
}

// Lookup returns the service registered under key without
// adding a reference.
func (r *Registry) Lookup(key string) (Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[key]; ok {
		return e.svc, true
	}
	return nil, false
}

// Refs returns the number of references to the service
// registered under key.
func (r *Registry) Refs(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[key]; ok {
		return e.refs
	}
	return 0
}

// EnumServices writes the sorted keys of the registered
// services into dst and returns how many were written.
// If dst is nil, it returns the number of services
// instead.
func (r *Registry) EnumServices(dst []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dst == nil {
		return len(r.services)
	}
	keys := make([]string, 0, len(r.services))
	for k := range r.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return copy(dst, keys)
}

// closeAll closes every registered service regardless of
// its references.
func (r *Registry) closeAll() {
	r.mu.Lock()
	services := r.services
	r.services = make(map[string]*registryEntry)
	r.mu.Unlock()
	for k, e := range services {
		log.WithFields(log.Fields{"service": k, "refs": e.refs}).Info("service closed at instance destruction")
		e.svc.Close()
	}
}
