package odb

import (
	"fmt"
	"slices"
)

// SchemaVersion is an immutable, numbered declaration of object types and
// their fields. Build one with NewSchemaVersion/AddObjType/AddField, then
// hand it to the database; it is sealed during database construction and
// safe for unsynchronized concurrent reads afterwards.
type SchemaVersion struct {
	version       int
	registry      *FieldTypeRegistry
	types         map[uint32]*ObjType
	typeList      []*ObjType
	indexedFields map[uint32]*FieldDecl
	sealed        bool
}

func NewSchemaVersion(registry *FieldTypeRegistry, version int) *SchemaVersion {
	if version <= 0 {
		panic(fmt.Errorf("schema version must be positive, got %d", version))
	}
	return &SchemaVersion{
		version:  version,
		registry: registry,
		types:    make(map[uint32]*ObjType),
	}
}

func (sv *SchemaVersion) Version() int { return sv.version }

func (sv *SchemaVersion) ObjType(storageID uint32) *ObjType {
	return sv.types[storageID]
}

// ObjTypes returns the declared object types ordered by storage id.
func (sv *SchemaVersion) ObjTypes() []*ObjType {
	return slices.Clone(sv.typeList)
}

func (sv *SchemaVersion) requireMutable() {
	if sv.sealed {
		panic(fmt.Errorf("schema version %d is sealed", sv.version))
	}
}

func (sv *SchemaVersion) seal() {
	if sv.sealed {
		return
	}
	sv.sealed = true
	sv.indexedFields = make(map[uint32]*FieldDecl)
	for _, ot := range sv.typeList {
		for _, fd := range ot.fieldList {
			if fd.indexed && sv.indexedFields[fd.storageID] == nil {
				sv.indexedFields[fd.storageID] = fd
			}
		}
	}
}

// indexedField returns a representative declaration for an indexed field
// storage id. All indexed declarations at one storage id are forced to agree
// at database construction time, so any of them serves.
func (sv *SchemaVersion) indexedField(storageID uint32) *FieldDecl {
	return sv.indexedFields[storageID]
}

// ObjType declares one object type: a name, a storage id, and a set of
// fields keyed by field storage id.
type ObjType struct {
	schema    *SchemaVersion
	name      string
	storageID uint32
	fields    map[uint32]*FieldDecl
	fieldList []*FieldDecl
}

func AddObjType(sv *SchemaVersion, name string, storageID uint32) *ObjType {
	sv.requireMutable()
	if name == "" {
		panic(fmt.Errorf("object type needs a name"))
	}
	if storageID == 0 {
		panic(fmt.Errorf("%s: object type storage id must be positive", name))
	}
	if prev := sv.types[storageID]; prev != nil {
		panic(fmt.Errorf("storage id %d already used by object type %s", storageID, prev.name))
	}
	ot := &ObjType{
		schema:    sv,
		name:      name,
		storageID: storageID,
		fields:    make(map[uint32]*FieldDecl),
	}
	sv.types[storageID] = ot
	sv.typeList = append(sv.typeList, ot)
	slices.SortFunc(sv.typeList, func(a, b *ObjType) int { return int(a.storageID) - int(b.storageID) })
	return ot
}

func (ot *ObjType) Name() string { return ot.name }

func (ot *ObjType) StorageID() uint32 { return ot.storageID }

func (ot *ObjType) Field(storageID uint32) *FieldDecl {
	return ot.fields[storageID]
}

// Fields returns the field declarations ordered by storage id.
func (ot *ObjType) Fields() []*FieldDecl {
	return slices.Clone(ot.fieldList)
}

// AddField declares a field of a registered field type. The declaration is
// stamped with the type's encoding signature in force right now, so a later
// silent change to the encoding is detectable.
func (ot *ObjType) AddField(name string, storageID uint32, typeName string, indexed bool) *FieldDecl {
	ft := must(ot.schema.registry.Lookup(typeName))
	if ft.kind == KindEnum {
		panic(fmt.Errorf("%s.%s: enum fields must be declared with AddEnumField", ot.name, name))
	}
	return ot.addField(name, storageID, ft, indexed, nil)
}

// AddEnumField declares an enumerated field with the ordered label list for
// this schema version.
func (ot *ObjType) AddEnumField(name string, storageID uint32, labels []string, indexed bool) *FieldDecl {
	if err := validEnumLabels(labels); err != nil {
		panic(fmt.Errorf("%s.%s: %w", ot.name, name, err))
	}
	ft := must(ot.schema.registry.Lookup("enum"))
	return ot.addField(name, storageID, ft, indexed, slices.Clone(labels))
}

func (ot *ObjType) addField(name string, storageID uint32, ft *FieldType, indexed bool, labels []string) *FieldDecl {
	ot.schema.requireMutable()
	if name == "" {
		panic(fmt.Errorf("%s: field needs a name", ot.name))
	}
	if storageID == 0 {
		panic(fmt.Errorf("%s.%s: field storage id must be positive", ot.name, name))
	}
	if prev := ot.fields[storageID]; prev != nil {
		panic(fmt.Errorf("%s: storage id %d already used by field %s", ot.name, storageID, prev.name))
	}
	fd := &FieldDecl{
		objType:    ot,
		name:       name,
		storageID:  storageID,
		ftype:      ft,
		signature:  ft.Signature(),
		indexed:    indexed,
		enumLabels: labels,
	}
	ot.fields[storageID] = fd
	ot.fieldList = append(ot.fieldList, fd)
	slices.SortFunc(ot.fieldList, func(a, b *FieldDecl) int { return int(a.storageID) - int(b.storageID) })
	return fd
}

// FieldDecl declares one field: a name, a storage id, a field type reference
// stamped with the encoding signature at declaration time, an indexed flag,
// and for enumerated fields the ordered label list of this version.
type FieldDecl struct {
	objType    *ObjType
	name       string
	storageID  uint32
	ftype      *FieldType
	signature  uint64
	indexed    bool
	enumLabels []string
}

func (fd *FieldDecl) Name() string { return fd.name }

func (fd *FieldDecl) StorageID() uint32 { return fd.storageID }

func (fd *FieldDecl) Type() *FieldType { return fd.ftype }

func (fd *FieldDecl) Indexed() bool { return fd.indexed }

// EnumLabels returns the declared label list (nil for non-enum fields).
func (fd *FieldDecl) EnumLabels() []string {
	return slices.Clone(fd.enumLabels)
}

func (fd *FieldDecl) FullName() string {
	return fd.objType.name + "." + fd.name
}

// sameEncoding reports whether stored bytes written under fd decode
// identically under other. For enum fields the label lists must match, since
// the stored ordinal is meaningless under a different list.
func (fd *FieldDecl) sameEncoding(other *FieldDecl) bool {
	return fd.signature == other.signature &&
		fd.ftype.kind == other.ftype.kind &&
		slices.Equal(fd.enumLabels, other.enumLabels)
}

// encodeValue validates v against the declaration and encodes it.
func (fd *FieldDecl) encodeValue(buf []byte, v any) ([]byte, error) {
	if fd.ftype.kind == KindEnum {
		ev, ok := v.(EnumValue)
		if !ok {
			return nil, validationErrf(fd.storageID, nil, "wanted an EnumValue, got %T", v)
		}
		if err := ev.ValidateAgainst(fd.enumLabels); err != nil {
			return nil, validationErrf(fd.storageID, err, "invalid enum value for %s", fd.FullName())
		}
	}
	out, err := fd.ftype.encode(buf, v)
	if err != nil {
		return nil, validationErrf(fd.storageID, err, "invalid value for %s", fd.FullName())
	}
	return out, nil
}

// decodeValue decodes stored bytes under this declaration. Failures are
// reported as raw errors; callers wrap them as inconsistency errors because
// stored bytes that fail to decode mean corrupted state, not bad input.
func (fd *FieldDecl) decodeValue(data []byte) (any, error) {
	v, err := fd.ftype.decode(data)
	if err != nil {
		return nil, err
	}
	if fd.ftype.kind == KindEnum {
		ord := v.(int)
		if ord < 0 || ord >= len(fd.enumLabels) {
			return nil, fmt.Errorf("stored enum ordinal %d out of range for labels %v", ord, fd.enumLabels)
		}
		return EnumValue{fd.enumLabels[ord], ord}, nil
	}
	return v, nil
}

// defaultValue is what an absent field reads as. Enum and reference fields
// default to nil and the zero ObjId respectively, mirroring "no value".
func (fd *FieldDecl) defaultValue() any {
	return fd.ftype.defaultVal
}
