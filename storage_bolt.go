package odb

import (
	"bytes"

	"go.etcd.io/bbolt"
)

var dataBucket = []byte("data")

type boltStore struct {
	bdb *bbolt.DB
}

// NewBoltStore wraps an open Bolt database as a KVStore. All engine keys
// live in a single "data" bucket, created on first write.
func NewBoltStore(bdb *bbolt.DB) KVStore {
	return &boltStore{bdb: bdb}
}

func (s *boltStore) Begin(writable bool) (KVTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	tx := &boltTx{btx: btx}
	if writable {
		b, err := btx.CreateBucketIfNotExists(dataBucket)
		if err != nil {
			btx.Rollback()
			return nil, err
		}
		tx.b = b
	} else {
		tx.b = btx.Bucket(dataBucket)
	}
	return tx, nil
}

func (s *boltStore) Close() error {
	return s.bdb.Close()
}

type boltTx struct {
	btx *bbolt.Tx
	b   *bbolt.Bucket // nil in a read-only tx before any writes happened
}

func (tx *boltTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltTx) Get(key []byte) []byte {
	if tx.b == nil {
		return nil
	}
	return tx.b.Get(key)
}

func (tx *boltTx) Put(key, value []byte) error {
	return nonNil(tx.b).Put(key, value)
}

func (tx *boltTx) Delete(key []byte) error {
	return nonNil(tx.b).Delete(key)
}

func (tx *boltTx) Cursor() KVCursor {
	if tx.b == nil {
		return emptyCursor{}
	}
	return boltCursor{c: tx.b.Cursor()}
}

func (tx *boltTx) Commit() error { return tx.btx.Commit() }

func (tx *boltTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Last() ([]byte, []byte) { return c.c.Last() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.c.Last()
	}

	limit := append([]byte(nil), prefix...)
	if inc(limit) {
		k, _ := c.c.Seek(limit)
		if k == nil {
			return c.c.Last()
		}
		return c.c.Prev()
	}

	// All-0xFF prefix: fall back to linear scan.
	k, _ := c.c.Seek(prefix)
	if k == nil {
		return c.c.Last()
	}
	for k != nil && bytes.HasPrefix(k, prefix) {
		k, _ = c.c.Next()
	}
	if k == nil {
		return c.c.Last()
	}
	return c.c.Prev()
}

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Prev() ([]byte, []byte) { return c.c.Prev() }

func (c boltCursor) Delete() error { return c.c.Delete() }

type emptyCursor struct{}

func (emptyCursor) First() ([]byte, []byte)         { return nil, nil }
func (emptyCursor) Last() ([]byte, []byte)          { return nil, nil }
func (emptyCursor) Seek([]byte) ([]byte, []byte)    { return nil, nil }
func (emptyCursor) SeekLast([]byte) ([]byte, []byte) { return nil, nil }
func (emptyCursor) Next() ([]byte, []byte)          { return nil, nil }
func (emptyCursor) Prev() ([]byte, []byte)          { return nil, nil }
func (emptyCursor) Delete() error                   { return nil }
