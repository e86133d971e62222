package odb

// KVStore is the ordered key-value store the engine runs on (Bolt,
// in-memory, etc.). The engine never implements storage itself; it only
// requires atomic get/put/delete/range-scan semantics within a transaction.
type KVStore interface {
	// Begin starts a new storage transaction.
	Begin(writable bool) (KVTx, error)
	// Close closes the store.
	Close() error
}

// KVTx is a storage transaction over a single flat ordered keyspace.
type KVTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor over the keyspace.
	Cursor() KVCursor

	// Commit commits the transaction. A conflict reported here is
	// surfaced to engine callers as a retryable error.
	Commit() error

	// Rollback aborts the transaction. Safe to call multiple times.
	Rollback() error
}

// KVCursor iterates over the sorted keyspace.
type KVCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key starting with the given prefix,
	// or the last key overall for an empty prefix.
	SeekLast(prefix []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)

	// Delete deletes the current key-value pair.
	Delete() error
}
