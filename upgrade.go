package odb

import "fmt"

// VersionChangeHandler is the upgrade hook. The engine invokes it once per
// migrated object per transaction with the object's old and new schema
// version numbers and the decoded values of every removed or retyped field,
// keyed by field storage id. The handler may write new field values through
// the normal WriteField path; such writes take effect, and update indexes,
// before the upgrade completes.
type VersionChangeHandler func(tx *Tx, id ObjId, oldVersion, newVersion int, oldValues map[uint32]any) error

// upgradeIfNeeded runs the lazy upgrade on first access to an object
// recorded under a schema version other than the transaction's target, at
// most once per object per transaction. Returns the object's type
// declaration in the target version.
func (tx *Tx) upgradeIfNeeded(id ObjId) (*ObjType, error) {
	newType := tx.schema.ObjType(id.TypeStorageID())
	if newType == nil {
		return nil, configErrf("object type %d not declared in schema version %d", id.TypeStorageID(), tx.schema.version)
	}
	if tx.upgrading[id] || tx.upgraded[id] {
		return newType, nil
	}

	ver, err := tx.recordedVersion(id)
	if err != nil {
		return nil, err
	}
	if tx.upgraded == nil {
		tx.upgraded = make(map[ObjId]bool)
	}
	tx.upgraded[id] = true
	if ver == tx.schema.version {
		return newType, nil
	}

	if err := tx.upgradeObject(id, ver, newType); err != nil {
		return nil, err
	}
	return newType, nil
}

// upgradeObject migrates one object from its recorded schema version to the
// transaction's target version:
//
//  1. Diff the object type between the two versions.
//  2. Decode every present field under its old declaration into the
//     old-values map. Removed and retyped fields additionally lose their
//     bytes and their index entries. A decode failure here is a fatal
//     inconsistency and aborts the transaction.
//  3. Invoke the upgrade hook; its writes re-enter WriteField without
//     re-triggering the upgrade of this object.
//  4. Update the recorded schema version marker.
//
// Added fields are left absent and read as defaults. Unchanged fields keep
// their bytes: the encoding signature matched, so no rewrite is needed.
func (tx *Tx) upgradeObject(id ObjId, oldVer int, newType *ObjType) error {
	oldSV := tx.db.versions[oldVer]
	if oldSV == nil {
		return tx.fail(inconsistencyErrf(id, 0, nil, fmt.Errorf("recorded schema version %d is not registered", oldVer)))
	}
	oldType := oldSV.ObjType(id.TypeStorageID())
	if oldType == nil {
		return tx.fail(inconsistencyErrf(id, 0, nil, fmt.Errorf("object type %d not declared in recorded schema version %d", id.TypeStorageID(), oldVer)))
	}

	oldValues := make(map[uint32]any)
	for _, ch := range diffObjType(oldType, newType) {
		if ch.Kind == FieldAdded {
			continue
		}
		key := fieldKey(id, ch.StorageID)
		raw := tx.stx.Get(key)
		if raw == nil {
			continue // never written; nothing to carry over
		}
		v, err := ch.Old.decodeValue(raw)
		if err != nil {
			return tx.fail(inconsistencyErrf(id, ch.StorageID, raw, err))
		}
		oldValues[ch.StorageID] = v
		if ch.Kind == FieldUnchanged {
			continue // bytes and index entry stay valid as they are
		}
		if ch.Old.indexed {
			if err := tx.stx.Delete(indexKey(ch.StorageID, raw, id)); err != nil {
				return fmt.Errorf("odb: %w", err)
			}
		}
		if err := tx.stx.Delete(key); err != nil {
			return fmt.Errorf("odb: %w", err)
		}
	}

	if tx.onVersionChange != nil {
		if tx.upgrading == nil {
			tx.upgrading = make(map[ObjId]bool)
		}
		tx.upgrading[id] = true
		err := tx.onVersionChange(tx, id, oldVer, tx.schema.version, oldValues)
		delete(tx.upgrading, id)
		if err != nil {
			// Field bytes and index entries are already gone but the
			// version marker is not advanced yet; the object must not be
			// observable in this half-migrated state, and committing it
			// would make a later upgrade pass miss the dropped fields.
			return tx.fail(err)
		}
	}

	if err := tx.stx.Put(objMetaKey(id), appendUvarint(nil, uint64(tx.schema.version))); err != nil {
		return fmt.Errorf("odb: %w", err)
	}
	if tx.db.verbose {
		tx.db.logf("db: UPGRADE %s/%v v%d => v%d", newType.name, id, oldVer, tx.schema.version)
	}
	return nil
}
