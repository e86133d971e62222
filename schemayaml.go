package odb

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v2"
)

// SchemaDecl is the external, text-based schema declaration. It mirrors the
// schema model structurally and exists so that a declaration produced by an
// external model-generation step can be loaded, validated and compared
// against the one this engine was configured with.
//
// Example:
//
//	version: 1
//	types:
//	  - name: Foo
//	    storageId: 1
//	    fields:
//	      - {name: f1, storageId: 2, type: enum, labels: [FOO, BAR, JAN]}
//	      - {name: f2, storageId: 3, type: string, indexed: true}
type SchemaDecl struct {
	Version int        `yaml:"version"`
	Types   []TypeDecl `yaml:"types"`
}

type TypeDecl struct {
	Name      string          `yaml:"name"`
	StorageID uint32          `yaml:"storageId"`
	Fields    []FieldDeclSpec `yaml:"fields"`
}

type FieldDeclSpec struct {
	Name      string   `yaml:"name"`
	StorageID uint32   `yaml:"storageId"`
	Type      string   `yaml:"type"`
	Indexed   bool     `yaml:"indexed,omitempty"`
	Labels    []string `yaml:"labels,omitempty"`
}

// ParseSchemaDecl loads and validates a YAML schema declaration.
func ParseSchemaDecl(data []byte) (*SchemaDecl, error) {
	var decl SchemaDecl
	if err := yaml.UnmarshalStrict(data, &decl); err != nil {
		return nil, configErrf("invalid schema declaration: %v", err)
	}
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	return &decl, nil
}

func (d *SchemaDecl) Validate() error {
	if d.Version <= 0 {
		return configErrf("schema version must be positive, got %d", d.Version)
	}
	typeIDs := make(map[uint32]string)
	for _, t := range d.Types {
		if t.Name == "" {
			return configErrf("schema v%d: object type needs a name", d.Version)
		}
		if t.StorageID == 0 {
			return configErrf("%s: object type storage id must be positive", t.Name)
		}
		if prev, dup := typeIDs[t.StorageID]; dup {
			return configErrf("storage id %d used by both %s and %s", t.StorageID, prev, t.Name)
		}
		typeIDs[t.StorageID] = t.Name

		fieldIDs := make(map[uint32]string)
		for _, f := range t.Fields {
			if f.Name == "" {
				return configErrf("%s: field needs a name", t.Name)
			}
			if f.StorageID == 0 {
				return configErrf("%s.%s: field storage id must be positive", t.Name, f.Name)
			}
			if prev, dup := fieldIDs[f.StorageID]; dup {
				return configErrf("%s: storage id %d used by both %s and %s", t.Name, f.StorageID, prev, f.Name)
			}
			fieldIDs[f.StorageID] = f.Name
			if f.Type == "enum" {
				if err := validEnumLabels(f.Labels); err != nil {
					return configErrf("%s.%s: %v", t.Name, f.Name, err)
				}
			} else if len(f.Labels) > 0 {
				return configErrf("%s.%s: labels are only valid on enum fields", t.Name, f.Name)
			}
		}
	}
	return nil
}

// Build converts a validated declaration into a schema model against the
// given field type registry.
func (d *SchemaDecl) Build(registry *FieldTypeRegistry) (*SchemaVersion, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	sv := NewSchemaVersion(registry, d.Version)
	for _, t := range d.Types {
		ot := AddObjType(sv, t.Name, t.StorageID)
		for _, f := range t.Fields {
			if f.Type == "enum" {
				ot.AddEnumField(f.Name, f.StorageID, f.Labels, f.Indexed)
				continue
			}
			if _, err := registry.Lookup(f.Type); err != nil {
				return nil, configErrf("%s.%s: %v", t.Name, f.Name, err)
			}
			ot.AddField(f.Name, f.StorageID, f.Type, f.Indexed)
		}
	}
	return sv, nil
}

// DeclOfSchema renders a schema model back into a declaration, so it can be
// serialized or compared with an externally supplied one.
func DeclOfSchema(sv *SchemaVersion) *SchemaDecl {
	decl := &SchemaDecl{Version: sv.version}
	for _, ot := range sv.ObjTypes() {
		t := TypeDecl{Name: ot.name, StorageID: ot.storageID}
		for _, fd := range ot.Fields() {
			t.Fields = append(t.Fields, FieldDeclSpec{
				Name:      fd.name,
				StorageID: fd.storageID,
				Type:      fd.ftype.name,
				Indexed:   fd.indexed,
				Labels:    slices.Clone(fd.enumLabels),
			})
		}
		decl.Types = append(decl.Types, t)
	}
	return decl
}

// Diff lists the structural differences between two declarations in a form
// meant for humans. An empty result means the declarations are equal.
func (d *SchemaDecl) Diff(other *SchemaDecl) []string {
	var diffs []string
	if d.Version != other.Version {
		diffs = append(diffs, fmt.Sprintf("version: %d vs %d", d.Version, other.Version))
	}

	mine, theirs := d.typesByID(), other.typesByID()
	for _, id := range sortedKeys(mine) {
		t := mine[id]
		o, found := theirs[id]
		if !found {
			diffs = append(diffs, fmt.Sprintf("object type %s (%d): missing from other", t.Name, id))
			continue
		}
		diffs = append(diffs, diffTypeDecls(t, o)...)
	}
	for _, id := range sortedKeys(theirs) {
		if _, found := mine[id]; !found {
			diffs = append(diffs, fmt.Sprintf("object type %s (%d): missing from this", theirs[id].Name, id))
		}
	}
	return diffs
}

// Equal reports structural equality of two declarations.
func (d *SchemaDecl) Equal(other *SchemaDecl) bool {
	return len(d.Diff(other)) == 0
}

func (d *SchemaDecl) typesByID() map[uint32]TypeDecl {
	m := make(map[uint32]TypeDecl, len(d.Types))
	for _, t := range d.Types {
		m[t.StorageID] = t
	}
	return m
}

func diffTypeDecls(a, b TypeDecl) []string {
	var diffs []string
	if a.Name != b.Name {
		diffs = append(diffs, fmt.Sprintf("object type %d: name %s vs %s", a.StorageID, a.Name, b.Name))
	}

	mine := make(map[uint32]FieldDeclSpec, len(a.Fields))
	for _, f := range a.Fields {
		mine[f.StorageID] = f
	}
	theirs := make(map[uint32]FieldDeclSpec, len(b.Fields))
	for _, f := range b.Fields {
		theirs[f.StorageID] = f
	}

	for _, id := range sortedKeys(mine) {
		f := mine[id]
		o, found := theirs[id]
		if !found {
			diffs = append(diffs, fmt.Sprintf("%s.%s (%d): missing from other", a.Name, f.Name, id))
			continue
		}
		if f.Name != o.Name || f.Type != o.Type || f.Indexed != o.Indexed || !slices.Equal(f.Labels, o.Labels) {
			diffs = append(diffs, fmt.Sprintf("%s.%s (%d): declarations differ", a.Name, f.Name, id))
		}
	}
	for _, id := range sortedKeys(theirs) {
		if _, found := mine[id]; !found {
			diffs = append(diffs, fmt.Sprintf("%s.%s (%d): missing from this", a.Name, theirs[id].Name, id))
		}
	}
	return diffs
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
