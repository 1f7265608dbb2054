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

import "strings"

// NodeFlags packs the boolean node attributes into one byte.
type NodeFlags uint8

const (
	FlagNamed NodeFlags = 1 << iota
	FlagMissing
	FlagExtra
	FlagError
	FlagHasField
)

// NoField is the field id stored for nodes without a field name.
const NoField uint8 = 255

// MaxFields is the number of usable field ids.
const MaxFields = 254

// Has reports whether every bit of f2 is set in f.
func (f NodeFlags) Has(f2 NodeFlags) bool {
	return f&f2 == f2
}

func (f NodeFlags) IsNamed() bool   { return f.Has(FlagNamed) }
func (f NodeFlags) IsMissing() bool { return f.Has(FlagMissing) }
func (f NodeFlags) IsExtra() bool   { return f.Has(FlagExtra) }
func (f NodeFlags) IsError() bool   { return f.Has(FlagError) }
func (f NodeFlags) HasField() bool  { return f.Has(FlagHasField) }

// String renders the set flags joined by "|", or "none".
func (f NodeFlags) String() string {
	var parts []string
	for _, p := range []struct {
		flag NodeFlags
		name string
	}{
		{FlagNamed, "named"},
		{FlagMissing, "missing"},
		{FlagExtra, "extra"},
		{FlagError, "error"},
		{FlagHasField, "has_field"},
	} {
		if f.Has(p.flag) {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// FlagsOf packs the attributes of an external node. hasField is set by the
// caller because field names belong to the parent edge.
func FlagsOf(named, missing, extra, isError, hasField bool) NodeFlags {
	var f NodeFlags
	if named {
		f |= FlagNamed
	}
	if missing {
		f |= FlagMissing
	}
	if extra {
		f |= FlagExtra
	}
	if isError {
		f |= FlagError
	}
	if hasField {
		f |= FlagHasField
	}
	return f
}
