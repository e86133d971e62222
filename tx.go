package odb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	prefixData  = 0x00
	prefixIndex = 0x01
	prefixState = 0x02

	metaSuffix = 0xFF
)

func objPrefix(id ObjId) []byte {
	k := make([]byte, 1+ObjIdLen)
	k[0] = prefixData
	copy(k[1:], id[:])
	return k
}

func objMetaKey(id ObjId) []byte {
	return append(objPrefix(id), metaSuffix)
}

func fieldKey(id ObjId, fieldID uint32) []byte {
	return appendUint32(objPrefix(id), fieldID)
}

type txState int

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
)

// Tx is one unit of work against a single schema version. It is synchronous
// and single-threaded: operations must not be interleaved from multiple
// goroutines. All effects stay pending in the underlying store transaction
// until Commit.
type Tx struct {
	db     *Database
	stx    KVTx
	schema *SchemaVersion
	state  txState

	upgraded  map[ObjId]bool
	upgrading map[ObjId]bool

	onVersionChange VersionChangeHandler
	onValidate      func(tx *Tx, id ObjId) error
	pending         map[ObjId]int
	pendingOrder    []ObjId
}

// Begin starts a transaction targeting the given schema version.
func (db *Database) Begin(version int) (*Tx, error) {
	sv := db.versions[version]
	if sv == nil {
		return nil, configErrf("schema version %d is not registered", version)
	}
	stx, err := db.store.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("odb: %w", err)
	}
	return &Tx{db: db, stx: stx, schema: sv}, nil
}

// Update runs f in a transaction targeting the given schema version,
// committing on success and rolling back on error.
func (db *Database) Update(version int, f func(tx *Tx) error) error {
	tx, err := db.Begin(version)
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (tx *Tx) DB() *Database { return tx.db }

// Schema is the schema version this transaction targets.
func (tx *Tx) Schema() *SchemaVersion { return tx.schema }

// OnVersionChange installs the upgrade hook invoked once per object migrated
// by this transaction.
func (tx *Tx) OnVersionChange(h VersionChangeHandler) {
	tx.onVersionChange = h
}

// OnValidate installs a validator invoked at commit time for every object
// created or written by this transaction.
func (tx *Tx) OnValidate(f func(tx *Tx, id ObjId) error) {
	tx.onValidate = f
}

func (tx *Tx) checkOpen() error {
	if tx.state != txOpen {
		return ErrTxClosed
	}
	return nil
}

// fail aborts the transaction on a fatal error (inconsistent stored data).
func (tx *Tx) fail(err error) error {
	tx.stx.Rollback()
	tx.state = txRolledBack
	return err
}

// Close rolls the transaction back unless it already committed. Safe to
// defer unconditionally.
func (tx *Tx) Close() {
	if tx.state == txOpen {
		ensure(tx.stx.Rollback())
		tx.state = txRolledBack
	}
}

// Commit runs pending validation, then flushes the pending state to the
// underlying store. A store conflict rolls the transaction back and is
// surfaced as a retryable ConflictError.
func (tx *Tx) Commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if err := tx.runValidation(); err != nil {
		return tx.fail(err)
	}
	if err := tx.stx.Commit(); err != nil {
		tx.stx.Rollback()
		tx.state = txRolledBack
		return &ConflictError{err}
	}
	tx.state = txCommitted
	return nil
}

// Rollback discards all pending state. Calling it on an already terminal
// transaction is a no-op, so it is safe after a failed commit.
func (tx *Tx) Rollback() error {
	if tx.state != txOpen {
		return nil
	}
	ensure(tx.stx.Rollback())
	tx.state = txRolledBack
	return nil
}

// Create allocates a fresh object of the given type, recorded under this
// transaction's schema version. No field values are set; fields read as
// their type-specific default until written.
func (tx *Tx) Create(typeStorageID uint32) (ObjId, error) {
	if err := tx.checkOpen(); err != nil {
		return ObjId{}, err
	}
	ot := tx.schema.ObjType(typeStorageID)
	if ot == nil {
		return ObjId{}, validationErrf(0, nil, "object type %d not declared in schema version %d", typeStorageID, tx.schema.version)
	}
	id := newObjId(typeStorageID)
	if err := tx.stx.Put(objMetaKey(id), appendUvarint(nil, uint64(tx.schema.version))); err != nil {
		return ObjId{}, fmt.Errorf("odb: %w", err)
	}
	tx.queueValidation(id)
	if tx.db.verbose {
		tx.db.logf("db: CREATE %s/%v", ot.name, id)
	}
	return id, nil
}

// Exists reports whether an object is live.
func (tx *Tx) Exists(id ObjId) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	return tx.stx.Get(objMetaKey(id)) != nil, nil
}

// RecordedVersion returns the schema version the object was last written
// under, without triggering an upgrade.
func (tx *Tx) RecordedVersion(id ObjId) (int, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	return tx.recordedVersion(id)
}

func (tx *Tx) recordedVersion(id ObjId) (int, error) {
	raw := tx.stx.Get(objMetaKey(id))
	if raw == nil {
		return 0, &NotFoundError{id}
	}
	v, n := binary.Uvarint(raw)
	if n <= 0 {
		return 0, tx.fail(inconsistencyErrf(id, 0, raw, fmt.Errorf("malformed schema version marker")))
	}
	return int(v), nil
}

// ReadField returns the decoded current value of a field, or the field
// type's default if the field was never written. Touching the object
// upgrades it first if it was recorded under a different schema version.
func (tx *Tx) ReadField(id ObjId, fieldID uint32) (any, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	ot, err := tx.upgradeIfNeeded(id)
	if err != nil {
		return nil, err
	}
	fd := ot.Field(fieldID)
	if fd == nil {
		return nil, validationErrf(fieldID, nil, "no field %d in object type %s (schema version %d)", fieldID, ot.name, tx.schema.version)
	}
	raw := tx.stx.Get(fieldKey(id, fieldID))
	if raw == nil {
		return fd.defaultValue(), nil
	}
	v, err := fd.decodeValue(raw)
	if err != nil {
		return nil, tx.fail(inconsistencyErrf(id, fieldID, raw, err))
	}
	if tx.db.verbose {
		tx.db.logf("db: GET %s/%v.%s => %v", ot.name, id, fd.name, v)
	}
	return v, nil
}

// WriteField validates value against the field's declaration, encodes and
// stores it, and keeps the index in sync if the field is indexed. Touching
// the object upgrades it first if needed.
func (tx *Tx) WriteField(id ObjId, fieldID uint32, value any) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	ot, err := tx.upgradeIfNeeded(id)
	if err != nil {
		return err
	}
	fd := ot.Field(fieldID)
	if fd == nil {
		return validationErrf(fieldID, nil, "no field %d in object type %s (schema version %d)", fieldID, ot.name, tx.schema.version)
	}
	if fd.ftype.kind == KindReference {
		if ref, ok := value.(ObjId); ok && !ref.IsZero() {
			if tx.schema.ObjType(ref.TypeStorageID()) == nil {
				return validationErrf(fieldID, nil, "reference to unknown object type %d", ref.TypeStorageID())
			}
		}
	}
	enc, err := fd.encodeValue(nil, value)
	if err != nil {
		return err
	}

	key := fieldKey(id, fieldID)
	if fd.indexed {
		if old := tx.stx.Get(key); old != nil {
			if err := tx.stx.Delete(indexKey(fieldID, old, id)); err != nil {
				return fmt.Errorf("odb: %w", err)
			}
		}
		if err := tx.stx.Put(indexKey(fieldID, enc, id), nil); err != nil {
			return fmt.Errorf("odb: %w", err)
		}
	}
	if err := tx.stx.Put(key, enc); err != nil {
		return fmt.Errorf("odb: %w", err)
	}
	tx.queueValidation(id)
	if tx.db.verbose {
		tx.db.logf("db: PUT %s/%v.%s = %v", ot.name, id, fd.name, value)
	}
	return nil
}

// Delete removes the object, all its field entries and all its index
// entries. Index entries are removed under the object's recorded schema
// version; deletion never triggers an upgrade.
func (tx *Tx) Delete(id ObjId) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	ver, err := tx.recordedVersion(id)
	if err != nil {
		return err
	}
	sv := tx.db.versions[ver]
	if sv == nil {
		return tx.fail(inconsistencyErrf(id, 0, nil, fmt.Errorf("recorded schema version %d is not registered", ver)))
	}
	ot := sv.ObjType(id.TypeStorageID())
	if ot == nil {
		return tx.fail(inconsistencyErrf(id, 0, nil, fmt.Errorf("object type %d not declared in recorded schema version %d", id.TypeStorageID(), ver)))
	}

	for _, fd := range ot.fieldList {
		if !fd.indexed {
			continue
		}
		if raw := tx.stx.Get(fieldKey(id, fd.storageID)); raw != nil {
			if err := tx.stx.Delete(indexKey(fd.storageID, raw, id)); err != nil {
				return fmt.Errorf("odb: %w", err)
			}
		}
	}

	prefix := objPrefix(id)
	var keys [][]byte
	c := tx.stx.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := tx.stx.Delete(k); err != nil {
			return fmt.Errorf("odb: %w", err)
		}
	}

	delete(tx.pending, id)
	// A later Create cannot reuse this ObjId, but the upgrade marker must
	// not outlive the object: a touch after deletion has to re-check
	// liveness and fail with not-found.
	delete(tx.upgraded, id)
	delete(tx.upgrading, id)
	if tx.db.verbose {
		tx.db.logf("db: DELETE %s/%v", ot.name, id)
	}
	return nil
}

func (tx *Tx) queueValidation(id ObjId) {
	if tx.pending == nil {
		tx.pending = make(map[ObjId]int)
	}
	if _, queued := tx.pending[id]; queued {
		return
	}
	tx.pending[id] = len(tx.pendingOrder)
	tx.pendingOrder = append(tx.pendingOrder, id)
}

// runValidation drains the pending validation queue in first-queued order.
// Validators may write fields, which re-queues objects; every live queued
// object is validated exactly once per commit.
func (tx *Tx) runValidation() error {
	if tx.onValidate == nil {
		tx.pending = nil
		tx.pendingOrder = nil
		return nil
	}
	seen := make(map[ObjId]bool)
	for i := 0; i < len(tx.pendingOrder); i++ {
		id := tx.pendingOrder[i]
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, live := tx.pending[id]; !live {
			continue // deleted after being queued
		}
		if err := tx.onValidate(tx, id); err != nil {
			return err
		}
	}
	tx.pending = nil
	tx.pendingOrder = nil
	return nil
}
