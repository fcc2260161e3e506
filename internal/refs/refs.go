// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package refs counts owners of shared native handles.
package refs

import "sync"

// Counter counts the owners of each key.
// The zero value is ready for use, and a Counter is safe
// for concurrent use.
type Counter[K comparable] struct {
	mu sync.Mutex
	n  map[K]int
}

// Retain adds an owner to k.
// It returns whether k had no owners before.
func (c *Counter[K]) Retain(k K) (first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[K]int)
	}
	c.n[k]++
	return c.n[k] == 1
}

// Release removes an owner from k.
// It returns whether the last owner of k was removed,
// in which case the caller must free the handle.
// Releasing a key without owners returns false.
func (c *Counter[K]) Release(k K) (last bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch n := c.n[k]; n {
	case 0:
		return false
	case 1:
		delete(c.n, k)
		return true
	default:
		c.n[k] = n - 1
		return false
	}
}

// Count returns the number of owners of k.
func (c *Counter[K]) Count(k K) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[k]
}

// Len returns the number of keys that have owners.
func (c *Counter[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.n)
}
