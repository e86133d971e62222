package odb

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"
)

// ObjIdLen is the width of every ObjId: a 4-byte big-endian object type
// storage id followed by a 16-byte random suffix.
const ObjIdLen = 20

// ObjId identifies one stored object and its declared type. It is the
// primary key prefix for everything stored about the object; byte
// lexicographic order over ObjIds defines the primary keyspace order, which
// groups objects by type.
type ObjId [ObjIdLen]byte

// TypeStorageID returns the storage id of the object's declared type.
func (id ObjId) TypeStorageID() uint32 {
	return binary.BigEndian.Uint32(id[:4])
}

func (id ObjId) IsZero() bool {
	return id == ObjId{}
}

func (id ObjId) String() string {
	return hex.EncodeToString(id[:])
}

// Compare orders ObjIds byte-lexicographically.
func (id ObjId) Compare(other ObjId) int {
	return bytes.Compare(id[:], other[:])
}

// newObjId allocates a fresh identifier with the given type prefix. The
// suffix comes from a random UUID, so identifiers are never reused.
func newObjId(typeStorageID uint32) ObjId {
	var id ObjId
	binary.BigEndian.PutUint32(id[:4], typeStorageID)
	u := uuid.New()
	copy(id[4:], u[:])
	return id
}

// ParseObjId validates raw bytes against the given schema version: the width
// must be exactly ObjIdLen and the type prefix must name a known object type.
func ParseObjId(sv *SchemaVersion, raw []byte) (ObjId, error) {
	var id ObjId
	if len(raw) != ObjIdLen {
		return id, validationErrf(0, nil, "invalid ObjId length %d, wanted %d", len(raw), ObjIdLen)
	}
	copy(id[:], raw)
	if sv.ObjType(id.TypeStorageID()) == nil {
		return ObjId{}, validationErrf(0, nil, "ObjId names unknown object type %d", id.TypeStorageID())
	}
	return id, nil
}
