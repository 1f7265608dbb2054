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

import (
	"fmt"
	"math"
	"sync"

	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// KindTable is a closed, read-only mapping between kind names and u16 ids
// for one grammar.
//
// Description:
//
//	Every tree built from the same grammar shares one table, so comparing
//	kinds across trees is an integer compare and the names are stored once.
//
// Thread Safety: Immutable. Safe for concurrent use.
type KindTable struct {
	grammar string
	names   []string
	ids     map[string]uint16
}

// NewKindTable builds a table from names in id order. Duplicates keep the
// first id.
func NewKindTable(grammar string, names []string) (*KindTable, error) {
	if len(names) > math.MaxUint16+1 {
		return nil, fmt.Errorf("%w: grammar %q has %d kinds", ErrTooManyKinds, grammar, len(names))
	}
	kt := &KindTable{
		grammar: grammar,
		names:   make([]string, 0, len(names)),
		ids:     make(map[string]uint16, len(names)),
	}
	for _, name := range names {
		if _, ok := kt.ids[name]; ok {
			continue
		}
		kt.ids[name] = uint16(len(kt.names))
		kt.names = append(kt.names, name)
	}
	return kt, nil
}

// KindTableForGrammar builds the table of every kind g can produce.
func KindTableForGrammar(g *syntax.Grammar) (*KindTable, error) {
	return NewKindTable(g.Name(), g.KindNames())
}

// Grammar returns the grammar name the table was built for.
func (kt *KindTable) Grammar() string {
	return kt.grammar
}

// ID returns the id of name.
func (kt *KindTable) ID(name string) (uint16, bool) {
	id, ok := kt.ids[name]
	return id, ok
}

// Name returns the name of id.
func (kt *KindTable) Name(id uint16) (string, bool) {
	if int(id) >= len(kt.names) {
		return "", false
	}
	return kt.names[id], true
}

// Len returns the number of kinds.
func (kt *KindTable) Len() int {
	return len(kt.names)
}

// Names returns the names in id order. Callers must not modify the result.
func (kt *KindTable) Names() []string {
	return kt.names
}

// KindTableCache lazily builds and shares one KindTable per grammar.
//
// Thread Safety: Safe for concurrent use.
type KindTableCache struct {
	mu     sync.Mutex
	tables map[string]*KindTable
}

// NewKindTableCache creates an empty cache.
func NewKindTableCache() *KindTableCache {
	return &KindTableCache{tables: make(map[string]*KindTable)}
}

// Get returns the table for g, building it on first use.
func (c *KindTableCache) Get(g *syntax.Grammar) (*KindTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kt, ok := c.tables[g.Name()]; ok {
		return kt, nil
	}
	kt, err := KindTableForGrammar(g)
	if err != nil {
		return nil, err
	}
	c.tables[g.Name()] = kt
	return kt, nil
}
