package odb

import (
	"strings"
	"testing"
)

const sampleSchemaYAML = `
version: 1
types:
  - name: Foo
    storageId: 1
    fields:
      - {name: f1, storageId: 2, type: enum, labels: [FOO, BAR, JAN]}
      - {name: f2, storageId: 3, type: enum, labels: [FOO, BAR, JAN]}
  - name: User
    storageId: 10
    fields:
      - {name: email, storageId: 11, type: string, indexed: true}
      - {name: age, storageId: 12, type: int, indexed: true}
      - {name: name, storageId: 13, type: string}
  - name: Post
    storageId: 20
    fields:
      - {name: author, storageId: 21, type: reference, indexed: true}
      - {name: title, storageId: 22, type: string}
`

func TestSchemaDecl_Parse(t *testing.T) {
	decl, err := ParseSchemaDecl([]byte(sampleSchemaYAML))
	if err != nil {
		t.Fatalf("ParseSchemaDecl: %v", err)
	}
	deepEqual(t, decl.Version, 1)
	deepEqual(t, len(decl.Types), 3)
	deepEqual(t, decl.Types[0].Fields[0].Labels, []string{"FOO", "BAR", "JAN"})
	deepEqual(t, decl.Types[1].Fields[0].Indexed, true)
}

func TestSchemaDecl_ParseRejectsUnknownKeys(t *testing.T) {
	_, err := ParseSchemaDecl([]byte("version: 1\nbogus: true\n"))
	if err == nil {
		t.Fatalf("ParseSchemaDecl with unknown key = nil error")
	}
}

func TestSchemaDecl_Validate(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad version", "version: 0\n"},
		{"unnamed type", "version: 1\ntypes: [{storageId: 1}]\n"},
		{"zero type id", "version: 1\ntypes: [{name: T}]\n"},
		{"dup type id", `
version: 1
types:
  - {name: A, storageId: 1}
  - {name: B, storageId: 1}
`},
		{"dup field id", `
version: 1
types:
  - name: A
    storageId: 1
    fields:
      - {name: x, storageId: 2, type: string}
      - {name: y, storageId: 2, type: int}
`},
		{"enum without labels", `
version: 1
types:
  - name: A
    storageId: 1
    fields:
      - {name: x, storageId: 2, type: enum}
`},
		{"labels on non-enum", `
version: 1
types:
  - name: A
    storageId: 1
    fields:
      - {name: x, storageId: 2, type: string, labels: [A, B]}
`},
	}
	for _, c := range cases {
		if _, err := ParseSchemaDecl([]byte(c.yaml)); err == nil {
			t.Errorf("%s: ParseSchemaDecl = nil error", c.name)
		}
	}
}

func TestSchemaDecl_BuildRoundTrip(t *testing.T) {
	decl := must(ParseSchemaDecl([]byte(sampleSchemaYAML)))
	sv, err := decl.Build(testRegistry)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// The built schema model matches the hand-built fixture, and rendering
	// it back produces an equal declaration.
	if !DeclOfSchema(sv).Equal(DeclOfSchema(schemaV1())) {
		t.Errorf("built schema differs from the fixture: %v", DeclOfSchema(sv).Diff(DeclOfSchema(schemaV1())))
	}
	if !decl.Equal(DeclOfSchema(sv)) {
		t.Errorf("declaration does not round-trip: %v", decl.Diff(DeclOfSchema(sv)))
	}

	// The built schema is fully usable.
	db, err := OpenMem(testRegistry, []*SchemaVersion{sv}, Options{IsTesting: true})
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	defer db.Close()
	ensure(db.Update(1, func(tx *Tx) error {
		id := must(tx.Create(1))
		return tx.WriteField(id, 2, EnumValue{"BAR", 1})
	}))
}

func TestSchemaDecl_BuildRejectsUnknownFieldType(t *testing.T) {
	decl := &SchemaDecl{
		Version: 1,
		Types: []TypeDecl{{Name: "A", StorageID: 1, Fields: []FieldDeclSpec{
			{Name: "x", StorageID: 2, Type: "no-such-type"},
		}}},
	}
	if _, err := decl.Build(testRegistry); err == nil {
		t.Fatalf("Build with unknown field type = nil error")
	}
}

func TestSchemaDecl_Diff(t *testing.T) {
	a := must(ParseSchemaDecl([]byte(sampleSchemaYAML)))
	b := must(ParseSchemaDecl([]byte(sampleSchemaYAML)))
	deepEqual(t, len(a.Diff(b)), 0)
	if !a.Equal(b) {
		t.Errorf("identical declarations not Equal")
	}

	b.Types[1].Fields[0].Indexed = false
	diffs := a.Diff(b)
	if len(diffs) != 1 || !strings.Contains(diffs[0], "User.email") {
		t.Errorf("Diff after indexed change = %v", diffs)
	}

	b = must(ParseSchemaDecl([]byte(sampleSchemaYAML)))
	b.Types = b.Types[:2]
	diffs = a.Diff(b)
	if len(diffs) != 1 || !strings.Contains(diffs[0], "missing from other") {
		t.Errorf("Diff after type removal = %v", diffs)
	}
}
