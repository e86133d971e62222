package odb

import "slices"

// FieldChangeKind classifies one field's fate between two schema versions.
type FieldChangeKind int

const (
	// FieldUnchanged: same encoding signature, same indexed-ness. Stored
	// bytes stay as they are.
	FieldUnchanged FieldChangeKind = iota
	// FieldAdded: present only in the new version. Reads as default until
	// written.
	FieldAdded
	// FieldRemoved: present only in the old version. Decoded into the
	// old-values map during upgrade, then dropped.
	FieldRemoved
	// FieldRetyped: present in both but the encoding signature, kind,
	// label list or indexed-ness differs. Treated as remove-then-add:
	// old bytes are never reinterpreted under the new declaration.
	FieldRetyped
)

func (k FieldChangeKind) String() string {
	switch k {
	case FieldUnchanged:
		return "unchanged"
	case FieldAdded:
		return "added"
	case FieldRemoved:
		return "removed"
	case FieldRetyped:
		return "retyped"
	default:
		return "invalid"
	}
}

// FieldChange describes one field's difference between two versions of an
// object type. Old is nil for added fields, New is nil for removed ones.
type FieldChange struct {
	Kind      FieldChangeKind
	StorageID uint32
	Old       *FieldDecl
	New       *FieldDecl
}

// diffObjType computes the per-field diff between two declarations of one
// object type, ordered by field storage id. This diff drives the lazy
// upgrade algorithm.
func diffObjType(oldType, newType *ObjType) []FieldChange {
	var changes []FieldChange
	ids := make(map[uint32]bool)
	for id := range oldType.fields {
		ids[id] = true
	}
	for id := range newType.fields {
		ids[id] = true
	}

	for id := range ids {
		oldF, newF := oldType.fields[id], newType.fields[id]
		switch {
		case oldF == nil:
			changes = append(changes, FieldChange{FieldAdded, id, nil, newF})
		case newF == nil:
			changes = append(changes, FieldChange{FieldRemoved, id, oldF, nil})
		case oldF.sameEncoding(newF) && oldF.indexed == newF.indexed:
			changes = append(changes, FieldChange{FieldUnchanged, id, oldF, newF})
		default:
			changes = append(changes, FieldChange{FieldRetyped, id, oldF, newF})
		}
	}

	slices.SortFunc(changes, func(a, b FieldChange) int { return int(a.StorageID) - int(b.StorageID) })
	return changes
}
