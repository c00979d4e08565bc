// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets stores backend API keys in memory using memguard's
// mlock'd, canary-guarded buffers, rather than as plain Go strings — a
// heap-scraping attacker (or an accidental core dump) shouldn't find raw
// API keys sitting in process memory.
package secrets

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// Store holds a set of named secrets, each backed by its own locked buffer.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	buffers map[string]*memguard.LockedBuffer
}

// NewStore creates an empty secret store.
func NewStore() *Store {
	return &Store{buffers: make(map[string]*memguard.LockedBuffer)}
}

// Set locks value into guarded memory under name, destroying any
// previous buffer registered under that name. The caller's value string
// is not wiped — Go strings are immutable and can't be scrubbed — so
// callers should prefer SetBytes with a byte slice when the source
// allows it.
func (s *Store) Set(name, value string) {
	s.SetBytes(name, []byte(value))
}

// SetBytes locks value into guarded memory under name. value is wiped by
// memguard as it is copied in.
func (s *Store) SetBytes(name string, value []byte) {
	buf := memguard.NewBufferFromBytes(value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, exists := s.buffers[name]; exists {
		old.Destroy()
	}
	s.buffers[name] = buf
}

// Get returns the plaintext value stored under name. The returned string
// is a copy and is not itself guarded — callers must not retain it
// longer than necessary.
func (s *Store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[name]
	if !ok || !buf.IsAlive() {
		return "", false
	}
	return string(buf.Bytes()), true
}

// Has reports whether a live secret is registered under name.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[name]
	return ok && buf.IsAlive()
}

// Delete destroys and removes the secret registered under name.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := s.buffers[name]; ok {
		buf.Destroy()
		delete(s.buffers, name)
	}
}

// DestroyAll destroys every stored secret. Call this on shutdown.
func (s *Store) DestroyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, buf := range s.buffers {
		buf.Destroy()
		delete(s.buffers, name)
	}
}

// RequireGet returns the plaintext value stored under name, or an error
// if name is not registered — useful at startup wiring time where a
// missing backend API key should fail fast rather than dispatch
// unauthenticated requests.
func (s *Store) RequireGet(name string) (string, error) {
	v, ok := s.Get(name)
	if !ok {
		return "", fmt.Errorf("secrets: no value registered for %q", name)
	}
	return v, nil
}
