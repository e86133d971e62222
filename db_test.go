package odb

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

const (
	fooTypeID  = 1
	fooF1      = 2
	fooF2      = 3
	userTypeID = 10
	userEmail  = 11
	userAge    = 12
	userName   = 13
	postTypeID = 20
	postAuthor = 21
	postTitle  = 22
)

var fooLabels = []string{"FOO", "BAR", "JAN"}

var testRegistry = NewFieldTypeRegistry()

func schemaV1() *SchemaVersion {
	sv := NewSchemaVersion(testRegistry, 1)
	foo := AddObjType(sv, "Foo", fooTypeID)
	foo.AddEnumField("f1", fooF1, fooLabels, false)
	foo.AddEnumField("f2", fooF2, fooLabels, false)
	addUserType(sv)
	addPostType(sv)
	return sv
}

func schemaV2() *SchemaVersion {
	sv := NewSchemaVersion(testRegistry, 2)
	foo := AddObjType(sv, "Foo", fooTypeID)
	foo.AddEnumField("f1", fooF1, fooLabels, false)
	addUserType(sv)
	addPostType(sv)
	return sv
}

func addUserType(sv *SchemaVersion) *ObjType {
	user := AddObjType(sv, "User", userTypeID)
	user.AddField("email", userEmail, "string", true)
	user.AddField("age", userAge, "int", true)
	user.AddField("name", userName, "string", false)
	return user
}

func addPostType(sv *SchemaVersion) *ObjType {
	post := AddObjType(sv, "Post", postTypeID)
	post.AddField("author", postAuthor, "reference", true)
	post.AddField("title", postTitle, "string", false)
	return post
}

func setup(t testing.TB, versions ...*SchemaVersion) *Database {
	t.Helper()
	db, err := OpenMem(testRegistry, versions, Options{IsTesting: true})
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func TestDB_IndexedStorageIdConflictFailsConstruction(t *testing.T) {
	sv := NewSchemaVersion(testRegistry, 1)
	a := AddObjType(sv, "A", 1)
	a.AddEnumField("f", 2, []string{"AAA", "BBB"}, true)
	b := AddObjType(sv, "B", 5)
	b.AddField("f", 2, "string", true)

	_, err := OpenMem(testRegistry, []*SchemaVersion{sv}, Options{})
	if err == nil {
		t.Fatalf("OpenMem err = nil, wanted config error")
	}
	var cfg *ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("OpenMem err = %T %v, wanted *ConfigError", err, err)
	}
	if !strings.Contains(err.Error(), "A.f") || !strings.Contains(err.Error(), "B.f") {
		t.Fatalf("err = %q, wanted it to name both conflicting declarations", err.Error())
	}
}

func TestDB_IndexedVsUnindexedSameStorageIdFailsConstruction(t *testing.T) {
	sv := NewSchemaVersion(testRegistry, 1)
	a := AddObjType(sv, "A", 1)
	a.AddField("f", 2, "string", true)
	b := AddObjType(sv, "B", 5)
	b.AddField("f", 2, "string", false)

	_, err := OpenMem(testRegistry, []*SchemaVersion{sv}, Options{})
	if err == nil {
		t.Fatalf("OpenMem err = nil, wanted config error")
	}
}

func TestDB_UnindexedStorageIdSharingIsAllowed(t *testing.T) {
	sv := NewSchemaVersion(testRegistry, 1)
	a := AddObjType(sv, "A", 1)
	a.AddEnumField("f", 2, []string{"AAA", "BBB"}, false)
	b := AddObjType(sv, "B", 5)
	b.AddField("f", 2, "string", false)

	db, err := OpenMem(testRegistry, []*SchemaVersion{sv}, Options{})
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	db.Close()
}

func TestDB_CrossVersionIndexedConflictFailsConstruction(t *testing.T) {
	reg := NewFieldTypeRegistry()
	v1 := NewSchemaVersion(reg, 1)
	AddObjType(v1, "A", 1).AddField("f", 2, "string", true)
	v2 := NewSchemaVersion(reg, 2)
	AddObjType(v2, "A", 1).AddField("f", 2, "int", true)

	_, err := OpenMem(reg, []*SchemaVersion{v1, v2}, Options{})
	if err == nil {
		t.Fatalf("OpenMem err = nil, wanted config error")
	}
}

func TestDB_DuplicateVersionNumberFailsConstruction(t *testing.T) {
	reg := NewFieldTypeRegistry()
	v1a := NewSchemaVersion(reg, 1)
	AddObjType(v1a, "A", 1)
	v1b := NewSchemaVersion(reg, 1)
	AddObjType(v1b, "B", 2)

	_, err := OpenMem(reg, []*SchemaVersion{v1a, v1b}, Options{})
	if err == nil {
		t.Fatalf("OpenMem err = nil, wanted config error")
	}
}

func TestDB_ReregisteredVersionMustMatchStateRecord(t *testing.T) {
	store := NewMemStore()
	reg := NewFieldTypeRegistry()

	v1 := NewSchemaVersion(reg, 1)
	AddObjType(v1, "A", 1).AddField("f", 2, "string", false)
	db, err := NewDatabase(store, reg, []*SchemaVersion{v1}, Options{})
	if err != nil {
		t.Fatalf("NewDatabase #1: %v", err)
	}
	_ = db

	changed := NewSchemaVersion(reg, 1)
	AddObjType(changed, "A", 1).AddField("f", 2, "int", false)
	_, err = NewDatabase(store, reg, []*SchemaVersion{changed}, Options{})
	if err == nil {
		t.Fatalf("NewDatabase #2 err = nil, wanted config error about recorded declaration")
	}
	if !strings.Contains(err.Error(), "recorded") {
		t.Fatalf("err = %q, wanted mention of the recorded declaration", err.Error())
	}
}

func TestDB_EncodingDriftDetectedOnReopen(t *testing.T) {
	store := NewMemStore()

	reg1 := NewFieldTypeRegistry()
	ensure(reg1.Register(NewFieldType("temperature", KindScalar, "celsius:be64", int64(0), nil, nil)))
	v1 := NewSchemaVersion(reg1, 1)
	AddObjType(v1, "Reading", 1).AddField("value", 2, "temperature", false)
	_, err := NewDatabase(store, reg1, []*SchemaVersion{v1}, Options{})
	if err != nil {
		t.Fatalf("NewDatabase #1: %v", err)
	}

	// Same type name, silently changed encoding.
	reg2 := NewFieldTypeRegistry()
	ensure(reg2.Register(NewFieldType("temperature", KindScalar, "fahrenheit:be64", int64(0), nil, nil)))
	v1b := NewSchemaVersion(reg2, 1)
	AddObjType(v1b, "Reading", 1).AddField("value", 2, "temperature", false)
	_, err = NewDatabase(store, reg2, []*SchemaVersion{v1b}, Options{})
	if err == nil {
		t.Fatalf("NewDatabase #2 err = nil, wanted config error about encoding drift")
	}
	if !strings.Contains(err.Error(), "encoding") {
		t.Fatalf("err = %q, wanted mention of the encoding change", err.Error())
	}
}

func TestDB_UnknownVersionBeginFails(t *testing.T) {
	db := setup(t, schemaV1())
	_, err := db.Begin(7)
	if err == nil {
		t.Fatalf("Begin(7) err = nil, wanted config error")
	}
}
