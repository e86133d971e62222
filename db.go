package odb

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// Database binds a key-value store, a field type registry and the set of
// known schema versions. It is mostly immutable: everything except the store
// is fixed at construction time and safe for unsynchronized concurrent reads
// by any number of transactions.
type Database struct {
	store    KVStore
	registry *FieldTypeRegistry
	versions map[int]*SchemaVersion
	logf     func(format string, args ...any)
	verbose  bool
}

type Options struct {
	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool
	MmapSize  int
}

// Open constructs a database over a Bolt file.
func Open(path string, registry *FieldTypeRegistry, versions []*SchemaVersion, opt Options) (*Database, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("odb: %w", err)
	}

	db, err := NewDatabase(NewBoltStore(bdb), registry, versions, opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return db, nil
}

// OpenMem constructs a database over a transient in-memory store.
func OpenMem(registry *FieldTypeRegistry, versions []*SchemaVersion, opt Options) (*Database, error) {
	return NewDatabase(NewMemStore(), registry, versions, opt)
}

// NewDatabase constructs a database over any KVStore. Construction seals the
// schema versions, verifies the cross-type index invariants, reconciles the
// registered versions against the persistent state record, and fails with a
// configuration error on any mismatch.
func NewDatabase(store KVStore, registry *FieldTypeRegistry, versions []*SchemaVersion, opt Options) (*Database, error) {
	if len(versions) == 0 {
		return nil, configErrf("no schema versions registered")
	}

	db := &Database{
		store:    store,
		registry: registry,
		versions: make(map[int]*SchemaVersion, len(versions)),
		logf:     opt.Logf,
		verbose:  opt.Verbose,
	}
	for _, sv := range versions {
		if prev := db.versions[sv.version]; prev != nil {
			return nil, configErrf("schema version %d registered twice", sv.version)
		}
		sv.seal()
		db.versions[sv.version] = sv
	}

	if err := checkIndexConflicts(versions); err != nil {
		return nil, err
	}

	if err := db.reconcileState(); err != nil {
		return nil, err
	}

	return db, nil
}

func (db *Database) Close() {
	err := db.store.Close()
	if err != nil {
		panic(fmt.Errorf("odb: closing: %w", err))
	}
}

func (db *Database) Registry() *FieldTypeRegistry { return db.registry }

func (db *Database) SchemaVersion(version int) *SchemaVersion {
	return db.versions[version]
}

// checkIndexConflicts enforces the shared storage id namespace for indexed
// fields: if any declaration at a storage id (any type, any version) is
// indexed, every declaration at that storage id must use the identical field
// type, label list and indexed-ness. Two unrelated types corrupting a shared
// index is caught here, at construction, never at runtime.
func checkIndexConflicts(versions []*SchemaVersion) error {
	type declSite struct {
		sv *SchemaVersion
		fd *FieldDecl
	}
	sites := make(map[uint32][]declSite)
	for _, sv := range versions {
		for _, ot := range sv.typeList {
			for _, fd := range ot.fieldList {
				sites[fd.storageID] = append(sites[fd.storageID], declSite{sv, fd})
			}
		}
	}

	for id, list := range sites {
		var indexedSite *declSite
		for i := range list {
			if list[i].fd.indexed {
				indexedSite = &list[i]
				break
			}
		}
		if indexedSite == nil {
			continue // non-indexed declarations may differ freely
		}
		ref := indexedSite.fd
		for _, site := range list {
			fd := site.fd
			if fd == ref {
				continue
			}
			if !fd.sameEncoding(ref) || !fd.indexed {
				return configErrf("indexed field storage id %d: conflicting declarations %s (v%d, %s%s) and %s (v%d, %s%s)",
					id,
					ref.FullName(), indexedSite.sv.version, ref.ftype.name, indexedSuffix(ref),
					fd.FullName(), site.sv.version, fd.ftype.name, indexedSuffix(fd))
			}
		}
	}
	return nil
}

func indexedSuffix(fd *FieldDecl) string {
	if fd.indexed {
		return ", indexed"
	}
	return ""
}

var stateKey = []byte{prefixState, 's', 't', 'a', 't', 'e'}

// dbState is the persistent record of every schema version ever registered,
// stamped with the encoding signatures in force when each was first seen.
type dbState struct {
	Versions map[int]*versionState `msgpack:"v"`
	LastSeen time.Time             `msgpack:"t"`
}

type versionState struct {
	Types map[uint32]*typeState `msgpack:"ty"`
}

type typeState struct {
	Name   string                 `msgpack:"n"`
	Fields map[uint32]*fieldState `msgpack:"f"`
}

type fieldState struct {
	Name      string   `msgpack:"n"`
	Type      string   `msgpack:"t"`
	Signature uint64   `msgpack:"sig"`
	Indexed   bool     `msgpack:"ix,omitempty"`
	Labels    []string `msgpack:"l,omitempty"`
}

// reconcileState loads the state record and cross-checks it against the
// currently registered versions and field types. Detects both structural
// drift (a version re-registered with different shape) and encoding drift (a
// field type whose signature changed since the data was written).
func (db *Database) reconcileState() error {
	stx, err := db.store.Begin(true)
	if err != nil {
		return fmt.Errorf("odb: %w", err)
	}
	defer stx.Rollback()

	var state dbState
	if raw := stx.Get(stateKey); raw != nil {
		if err := msgpack.Unmarshal(raw, &state); err != nil {
			return configErrf("failed to decode database state record: %v", err)
		}
	}
	if state.Versions == nil {
		state.Versions = make(map[int]*versionState)
	}

	for n, vs := range state.Versions {
		if err := db.checkRecordedVersion(n, vs); err != nil {
			return err
		}
	}

	for n, sv := range db.versions {
		if state.Versions[n] == nil {
			state.Versions[n] = recordVersion(sv)
		}
	}
	state.LastSeen = time.Now()

	raw, err := msgpack.Marshal(&state)
	if err != nil {
		panic(fmt.Errorf("failed to encode database state record: %w", err))
	}
	if err := stx.Put(stateKey, raw); err != nil {
		return fmt.Errorf("odb: %w", err)
	}
	return stx.Commit()
}

func (db *Database) checkRecordedVersion(n int, vs *versionState) error {
	for _, ts := range vs.Types {
		for _, fs := range ts.Fields {
			sig, err := db.registry.SignatureOf(fs.Type)
			if err != nil {
				return configErrf("schema v%d: %s.%s: stored data uses %v", n, ts.Name, fs.Name, err)
			}
			if sig != fs.Signature {
				return configErrf("schema v%d: %s.%s: field type %q changed its encoding since the data was written (signature %x, stored %x)",
					n, ts.Name, fs.Name, fs.Type, sig, fs.Signature)
			}
		}
	}

	sv := db.versions[n]
	if sv == nil {
		return nil // recorded but not registered in this process; fine until an object needs it
	}
	if diffs := declOfVersionState(n, vs).Diff(DeclOfSchema(sv)); len(diffs) > 0 {
		return configErrf("schema v%d does not match the recorded declaration: %s", n, diffs[0])
	}
	return nil
}

func recordVersion(sv *SchemaVersion) *versionState {
	vs := &versionState{Types: make(map[uint32]*typeState)}
	for _, ot := range sv.typeList {
		ts := &typeState{Name: ot.name, Fields: make(map[uint32]*fieldState)}
		for _, fd := range ot.fieldList {
			ts.Fields[fd.storageID] = &fieldState{
				Name:      fd.name,
				Type:      fd.ftype.name,
				Signature: fd.signature,
				Indexed:   fd.indexed,
				Labels:    fd.enumLabels,
			}
		}
		vs.Types[ot.storageID] = ts
	}
	return vs
}

func declOfVersionState(n int, vs *versionState) *SchemaDecl {
	decl := &SchemaDecl{Version: n}
	for _, typeID := range sortedKeys(vs.Types) {
		ts := vs.Types[typeID]
		t := TypeDecl{Name: ts.Name, StorageID: typeID}
		for _, fieldID := range sortedKeys(ts.Fields) {
			fs := ts.Fields[fieldID]
			t.Fields = append(t.Fields, FieldDeclSpec{
				Name:      fs.Name,
				StorageID: fieldID,
				Type:      fs.Type,
				Indexed:   fs.Indexed,
				Labels:    fs.Labels,
			})
		}
		decl.Types = append(decl.Types, t)
	}
	return decl
}
