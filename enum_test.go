package odb

import "testing"

type color int

const (
	colorAAA color = iota
	colorBBB
	colorCCC
)

var colorLabels = []string{"AAA", "BBB", "CCC"}

var colors = []color{colorAAA, colorBBB, colorCCC}

func (c color) EnumLabel() string { return colorLabels[c] }
func (c color) EnumOrdinal() int  { return int(c) }

func TestEnumValue_ValidateAgainst(t *testing.T) {
	for i, label := range colorLabels {
		if err := (EnumValue{label, i}).ValidateAgainst(colorLabels); err != nil {
			t.Errorf("EnumValue{%s, %d}.ValidateAgainst = %v, wanted nil", label, i, err)
		}
	}

	bad := []EnumValue{
		{"AAA", 1},     // right label, wrong ordinal
		{"BBB", 0},     // wrong pairing the other way
		{"unknown", 0}, // label not declared
		{"AAA", -1},    // ordinal below range
		{"CCC", 3},     // ordinal past range
	}
	for _, ev := range bad {
		if err := ev.ValidateAgainst(colorLabels); err == nil {
			t.Errorf("%v.ValidateAgainst = nil, wanted error", ev)
		}
	}
}

func TestFindEnum(t *testing.T) {
	c, ok := FindEnum(EnumValue{"BBB", 1}, colors)
	if !ok || c != colorBBB {
		t.Errorf("FindEnum(BBB,1) = %v, %v, wanted colorBBB, true", c, ok)
	}

	if _, ok := FindEnum(EnumValue{"BBB", 2}, colors); ok {
		t.Errorf("FindEnum(BBB,2) matched, wanted no match")
	}
	if _, ok := FindEnum(EnumValue{"BBBx", 1}, colors); ok {
		t.Errorf("FindEnum(BBBx,1) matched, wanted no match")
	}
	if _, ok := FindEnum(EnumValue{"BBB", 1}, []color(nil)); ok {
		t.Errorf("FindEnum over empty constants matched")
	}
}

func TestValidEnumLabels(t *testing.T) {
	if err := validEnumLabels([]string{"A", "B"}); err != nil {
		t.Errorf("validEnumLabels(A, B) = %v", err)
	}
	for _, labels := range [][]string{
		nil,
		{},
		{"A", ""},
		{"A", "B", "A"},
	} {
		if err := validEnumLabels(labels); err == nil {
			t.Errorf("validEnumLabels(%v) = nil, wanted error", labels)
		}
	}
}
