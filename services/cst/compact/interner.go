// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compact

import "sync"

// Interner maps strings to stable ids and back.
//
// Description:
//
//	Injected into a Builder so kind and field names of many trees share one
//	backing string per distinct name. Implementations must be safe for
//	concurrent use because builders for different files run in parallel.
type Interner interface {
	Intern(s string) uint32
	Resolve(id uint32) (string, bool)
}

// StringInterner is a thread-safe Interner with sequential ids.
//
// Thread Safety: Safe for concurrent use. Lookups of known strings take
// only a read lock.
type StringInterner struct {
	mu     sync.RWMutex
	byName map[string]uint32
	byID   []string
}

// NewStringInterner creates an empty interner.
func NewStringInterner() *StringInterner {
	return &StringInterner{
		byName: make(map[string]uint32),
		byID:   make([]string, 0, 256),
	}
}

// Intern returns the id for s, assigning the next id on first sight.
func (si *StringInterner) Intern(s string) uint32 {
	si.mu.RLock()
	if id, ok := si.byName[s]; ok {
		si.mu.RUnlock()
		return id
	}
	si.mu.RUnlock()

	si.mu.Lock()
	defer si.mu.Unlock()
	if id, ok := si.byName[s]; ok {
		return id
	}
	id := uint32(len(si.byID))
	si.byName[s] = id
	si.byID = append(si.byID, s)
	return id
}

// Resolve returns the string for id.
func (si *StringInterner) Resolve(id uint32) (string, bool) {
	si.mu.RLock()
	defer si.mu.RUnlock()
	if int(id) >= len(si.byID) {
		return "", false
	}
	return si.byID[id], true
}

// Len returns the number of interned strings.
func (si *StringInterner) Len() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return len(si.byID)
}
