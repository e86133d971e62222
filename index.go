package odb

import (
	"bytes"
	"fmt"
)

// indexKey builds the key of one index entry: the index namespace byte, the
// field storage id, the encoded field value and the ObjId. Encoded values
// are order-preserving and self-delimiting and the ObjId suffix has a fixed
// width, so entries sort first by value (in the field type's order) and then
// by ObjId, and an exact scan only needs a prefix match plus a length check.
func indexKey(fieldID uint32, encValue []byte, id ObjId) []byte {
	k := make([]byte, 0, 5+len(encValue)+ObjIdLen)
	k = append(k, prefixIndex)
	k = appendUint32(k, fieldID)
	k = appendRaw(k, encValue)
	return appendRaw(k, id[:])
}

func indexPrefix(fieldID uint32) []byte {
	k := make([]byte, 0, 5)
	k = append(k, prefixIndex)
	return appendUint32(k, fieldID)
}

func (tx *Tx) indexedFieldDecl(fieldID uint32) (*FieldDecl, error) {
	fd := tx.schema.indexedField(fieldID)
	if fd == nil {
		return nil, validationErrf(fieldID, nil, "field %d is not indexed in schema version %d", fieldID, tx.schema.version)
	}
	return fd, nil
}

// IndexScan returns the ObjIds of all objects whose indexed field currently
// holds exactly the given value, ordered by ObjId.
func (tx *Tx) IndexScan(fieldID uint32, value any) ([]ObjId, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	fd, err := tx.indexedFieldDecl(fieldID)
	if err != nil {
		return nil, err
	}
	enc, err := fd.encodeValue(nil, value)
	if err != nil {
		return nil, err
	}

	prefix := indexKey(fieldID, enc, ObjId{})[:5+len(enc)]
	var ids []ObjId
	c := tx.stx.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) != len(prefix)+ObjIdLen {
			continue // an entry for a longer value sharing this prefix
		}
		var id ObjId
		copy(id[:], k[len(prefix):])
		ids = append(ids, id)
	}
	return ids, nil
}

// IndexRangeScan returns the ObjIds of all objects whose indexed field
// currently holds a value in [lower, upper), ordered by encoded value and
// then ObjId (reversed if requested). A nil bound means unbounded on that
// side.
func (tx *Tx) IndexRangeScan(fieldID uint32, lower, upper any, reverse bool) ([]ObjId, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	fd, err := tx.indexedFieldDecl(fieldID)
	if err != nil {
		return nil, err
	}

	prefix := indexPrefix(fieldID)
	startKey := prefix
	if lower != nil {
		enc, err := fd.encodeValue(nil, lower)
		if err != nil {
			return nil, err
		}
		startKey = appendRaw(indexPrefix(fieldID), enc)
	}
	var endKey []byte // exclusive; nil = end of the index
	if upper != nil {
		enc, err := fd.encodeValue(nil, upper)
		if err != nil {
			return nil, err
		}
		endKey = appendRaw(indexPrefix(fieldID), enc)
	}

	inRange := func(k []byte) bool {
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return false
		}
		if bytes.Compare(k, startKey) < 0 {
			return false
		}
		return endKey == nil || bytes.Compare(k, endKey) < 0
	}

	var ids []ObjId
	c := tx.stx.Cursor()
	if !reverse {
		for k, _ := c.Seek(startKey); inRange(k); k, _ = c.Next() {
			ids = append(ids, objIdOfIndexKey(k))
		}
		return ids, nil
	}

	var k []byte
	if endKey != nil {
		if k, _ = c.Seek(endKey); k != nil {
			k, _ = c.Prev()
		} else {
			k, _ = c.SeekLast(prefix)
		}
	} else {
		k, _ = c.SeekLast(prefix)
	}
	for ; inRange(k); k, _ = c.Prev() {
		ids = append(ids, objIdOfIndexKey(k))
	}
	return ids, nil
}

func objIdOfIndexKey(k []byte) ObjId {
	if len(k) < 5+ObjIdLen {
		panic(fmt.Errorf("malformed index key %x", k))
	}
	var id ObjId
	copy(id[:], k[len(k)-ObjIdLen:])
	return id
}

// ObjectScan returns the ObjIds of all live objects of the given type,
// ordered by ObjId.
func (tx *Tx) ObjectScan(typeStorageID uint32) ([]ObjId, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if tx.schema.ObjType(typeStorageID) == nil {
		return nil, validationErrf(0, nil, "object type %d not declared in schema version %d", typeStorageID, tx.schema.version)
	}

	prefix := make([]byte, 0, 5)
	prefix = append(prefix, prefixData)
	prefix = appendUint32(prefix, typeStorageID)

	var ids []ObjId
	c := tx.stx.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) == 1+ObjIdLen+1 && k[len(k)-1] == metaSuffix {
			var id ObjId
			copy(id[:], k[1:1+ObjIdLen])
			ids = append(ids, id)
		}
	}
	return ids, nil
}
