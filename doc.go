/*
Package odb implements a schema-versioned object persistence engine on top of
an ordered key-value store (in this case, on top of Bolt).

We implement:

1. Objects, identified by a fixed-width ObjId that embeds the storage id of
the object's declared type, holding individually encoded field values.

2. Schema versions, immutable numbered declarations of object types and their
fields. Multiple versions can be registered at once; objects written under an
older version are migrated lazily, field by field, the first time a newer
transaction touches them.

3. Indexes, ordered mappings from encoded field values to the objects
currently holding them, maintained on every field write, delete and upgrade.

4. Enum values, a schema-independent (label, ordinal) pair that resolves
against concrete constants only at the point of use, tolerating renames and
renumbering across versions.

# Technical Details

**Keyspace.**
We use a single flat ordered keyspace (one Bolt bucket). Namespaces are
carved out with a one-byte prefix:

1. 0x00 + ObjId + 0xFF: the object's recorded schema version (uvarint).

2. 0x00 + ObjId + uint32(field storage id): the encoded field value.

3. 0x01 + uint32(field storage id) + encoded value + ObjId: an index entry
(empty value).

4. 0x02 "state": the msgpack-encoded database state record.

Object meta and field keys share the ObjId prefix, so one prefix scan covers
everything stored for an object.

**Field encodings.**
Every field type encodes to bytes whose lexicographic order matches the
semantic order of the values, and every encoding is self-delimiting (variable
length encodings are escaped and terminated), so index keys need no
delimiters and range scans over index entries are exact.

**Encoding signatures.**
Each field type carries a fingerprint of its encoding scheme. Signatures are
stamped into field declarations when a schema is built and persisted in the
state record; a field type whose encoding changes without a rename is caught
when the database is opened, before any stored bytes are decoded with the
wrong codec.

**State record.**
The state record remembers every schema version ever registered, including
per-field type names and signatures. Re-registering a version with different
structure is a configuration error.
*/
package odb
