// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import (
	"fmt"
	"sort"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/smacker/go-tree-sitter/yaml"
)

// ErrorKind is the kind name tree-sitter uses for error nodes.
const ErrorKind = "ERROR"

// Grammar is a named tree-sitter language.
//
// Description:
//
//	KindNames enumerates every distinct symbol name of the grammar once,
//	in symbol order, with ErrorKind appended when the grammar does not
//	already list it. The list is computed lazily and cached.
//
// Thread Safety: Safe for concurrent use.
type Grammar struct {
	name     string
	language *sitter.Language

	kindsOnce sync.Once
	kinds     []string
}

// NewGrammar wraps a tree-sitter language under name.
func NewGrammar(name string, language *sitter.Language) *Grammar {
	return &Grammar{name: name, language: language}
}

// Name returns the grammar name, e.g. "go".
func (g *Grammar) Name() string {
	return g.name
}

// KindNames returns the closed set of kind names the grammar can produce.
func (g *Grammar) KindNames() []string {
	g.kindsOnce.Do(func() {
		count := g.language.SymbolCount()
		seen := make(map[string]struct{}, count)
		kinds := make([]string, 0, count+1)
		for i := uint32(0); i < count; i++ {
			name := g.language.SymbolName(sitter.Symbol(i))
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			kinds = append(kinds, name)
		}
		if _, ok := seen[ErrorKind]; !ok {
			kinds = append(kinds, ErrorKind)
		}
		g.kinds = kinds
	})
	return g.kinds
}

// Registry maps language names to grammars.
//
// Thread Safety: Safe for concurrent use. Registration takes a write lock,
// lookups a read lock.
type Registry struct {
	mu       sync.RWMutex
	grammars map[string]*Grammar
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{grammars: make(map[string]*Grammar)}
}

// DefaultRegistry returns a registry with the bundled grammars: go, python,
// javascript, typescript, rust, bash and yaml.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewGrammar("go", golang.GetLanguage()))
	r.Register(NewGrammar("python", python.GetLanguage()))
	r.Register(NewGrammar("javascript", javascript.GetLanguage()))
	r.Register(NewGrammar("typescript", typescript.GetLanguage()))
	r.Register(NewGrammar("rust", rust.GetLanguage()))
	r.Register(NewGrammar("bash", bash.GetLanguage()))
	r.Register(NewGrammar("yaml", yaml.GetLanguage()))
	return r
}

// Register adds or replaces a grammar under its name.
func (r *Registry) Register(g *Grammar) {
	if g == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grammars[g.Name()] = g
}

// Grammar returns the grammar registered under name.
func (r *Registry) Grammar(name string) (*Grammar, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grammars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, name)
	}
	return g, nil
}

// Parser returns a tree-sitter parser for the named grammar.
func (r *Registry) Parser(name string, opts ...TreeSitterOption) (*TreeSitterParser, error) {
	g, err := r.Grammar(name)
	if err != nil {
		return nil, err
	}
	return NewTreeSitterParser(g, opts...), nil
}

// Languages returns the registered names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.grammars))
	for name := range r.grammars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
