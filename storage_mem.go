package odb

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"
)

type memStore struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []memKV
	closed bool
	writer bool
}

// NewMemStore returns a transient in-memory KVStore intended for tests.
func NewMemStore() KVStore {
	s := &memStore{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStore) Begin(writable bool) (KVTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("store closed")
		}
		s.writer = true
	}

	// Snapshot the entire keyspace for transactional isolation
	// (simplicity over efficiency).
	snap := make([]memKV, len(s.items))
	for i, kv := range s.items {
		snap[i] = memKV{slices.Clone(kv.key), slices.Clone(kv.value)}
	}

	return &memTx{base: s, writable: writable, items: snap}, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memKV struct {
	key   []byte
	value []byte
}

type memTx struct {
	base     *memStore
	writable bool
	items    []memKV // sorted by key
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) find(key []byte) (idx int, ok bool) {
	i := sort.Search(len(tx.items), func(i int) bool {
		return bytes.Compare(tx.items[i].key, key) >= 0
	})
	if i < len(tx.items) && bytes.Equal(tx.items[i].key, key) {
		return i, true
	}
	return i, false
}

func (tx *memTx) Get(key []byte) []byte {
	if tx.closed {
		panic("tx is closed")
	}
	i, ok := tx.find(key)
	if !ok {
		return nil
	}
	return tx.items[i].value
}

func (tx *memTx) Put(key, value []byte) error {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	key = slices.Clone(key)
	value = slices.Clone(value)

	i, ok := tx.find(key)
	if ok {
		tx.items[i].value = value
		return nil
	}
	tx.items = slices.Insert(tx.items, i, memKV{key, value})
	return nil
}

func (tx *memTx) Delete(key []byte) error {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	i, ok := tx.find(key)
	if !ok {
		return nil
	}
	tx.items = slices.Delete(tx.items, i, i+1)
	return nil
}

func (tx *memTx) Cursor() KVCursor {
	return &memCursor{tx: tx, pos: -1}
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("store closed")
	}
	tx.base.items = tx.items
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

type memCursor struct {
	tx  *memTx
	pos int
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.cur()
}

func (c *memCursor) Last() ([]byte, []byte) {
	c.pos = len(c.tx.items) - 1
	return c.cur()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.tx.items
	c.pos = sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, seek) >= 0
	})
	return c.cur()
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}

	limit := append([]byte(nil), prefix...)
	if inc(limit) {
		items := c.tx.items
		i := sort.Search(len(items), func(i int) bool {
			return bytes.Compare(items[i].key, limit) >= 0
		})
		c.pos = i - 1
		return c.cur()
	}

	// All-0xFF prefix.
	return c.Last()
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	c.pos++
	return c.cur()
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos < 0 {
		return nil, nil
	}
	c.pos--
	return c.cur()
}

func (c *memCursor) Delete() error {
	if !c.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if c.pos < 0 || c.pos >= len(c.tx.items) {
		return nil
	}
	c.tx.items = slices.Delete(c.tx.items, c.pos, c.pos+1)
	c.pos--
	return nil
}

func (c *memCursor) cur() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.tx.items) {
		return nil, nil
	}
	kv := c.tx.items[c.pos]
	return kv.key, kv.value
}
