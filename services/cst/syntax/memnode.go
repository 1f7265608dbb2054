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

// MemNode is a plain in-memory Node.
//
// It backs trees that do not come from a grammar parser, such as trees
// rebuilt from a decoded bytecode stream or hand-built fixtures.
type MemNode struct {
	KindName string
	ID       uint16
	Named    bool
	Missing  bool
	Extra    bool
	Error    bool
	Start    uint32
	End      uint32
	Children []*MemNode
	Fields   []string
}

// AddChild appends child under field ("" for none) and returns child.
func (m *MemNode) AddChild(field string, child *MemNode) *MemNode {
	m.Children = append(m.Children, child)
	m.Fields = append(m.Fields, field)
	return child
}

func (m *MemNode) Kind() string      { return m.KindName }
func (m *MemNode) KindID() uint16    { return m.ID }
func (m *MemNode) IsNamed() bool     { return m.Named }
func (m *MemNode) IsMissing() bool   { return m.Missing }
func (m *MemNode) IsExtra() bool     { return m.Extra }
func (m *MemNode) IsError() bool     { return m.Error }
func (m *MemNode) StartByte() uint32 { return m.Start }
func (m *MemNode) EndByte() uint32   { return m.End }
func (m *MemNode) ChildCount() int   { return len(m.Children) }

func (m *MemNode) Child(i int) Node {
	if i < 0 || i >= len(m.Children) || m.Children[i] == nil {
		return nil
	}
	return m.Children[i]
}

func (m *MemNode) FieldNameForChild(i int) string {
	if i < 0 || i >= len(m.Fields) {
		return ""
	}
	return m.Fields[i]
}
