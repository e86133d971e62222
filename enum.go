package odb

import (
	"fmt"
	"slices"
)

// EnumValue is a schema-independent representation of an enumerated value.
// It is not tied to any concrete constant set; it carries enough information
// to validate against a schema version's declared label list and to resolve
// against concrete constants at the point of use.
type EnumValue struct {
	Label   string
	Ordinal int
}

func (ev EnumValue) String() string {
	return fmt.Sprintf("%s(%d)", ev.Label, ev.Ordinal)
}

// ValidateAgainst succeeds iff Label appears in declaredLabels at the index
// exactly equal to Ordinal. A label match at the wrong position, or a
// correct ordinal with the wrong label, both fail: a stale write that
// assumed a different label ordering must not slip through.
func (ev EnumValue) ValidateAgainst(declaredLabels []string) error {
	if ev.Ordinal < 0 || ev.Ordinal >= len(declaredLabels) {
		return fmt.Errorf("enum ordinal %d out of range [0, %d)", ev.Ordinal, len(declaredLabels))
	}
	if declaredLabels[ev.Ordinal] != ev.Label {
		return fmt.Errorf("enum value %v does not match declared labels %v", ev, declaredLabels)
	}
	return nil
}

// EnumConstant is a concrete enumerated constant that an EnumValue can
// resolve to.
type EnumConstant interface {
	EnumLabel() string
	EnumOrdinal() int
}

// FindEnum returns the constant whose label and ordinal both match ev. A
// renumbered or renamed constant must not silently resolve, so a partial
// match returns false.
func FindEnum[E EnumConstant](ev EnumValue, constants []E) (E, bool) {
	for _, c := range constants {
		if c.EnumLabel() == ev.Label && c.EnumOrdinal() == ev.Ordinal {
			return c, true
		}
	}
	var zero E
	return zero, false
}

func validEnumLabels(labels []string) error {
	if len(labels) == 0 {
		return fmt.Errorf("empty label list")
	}
	for i, label := range labels {
		if label == "" {
			return fmt.Errorf("empty label at position %d", i)
		}
		if slices.Index(labels, label) != i {
			return fmt.Errorf("duplicate label %q", label)
		}
	}
	return nil
}
