package storage

import (
	"errors"
	"sort"
	"strings"
)

type cacheEntry struct {
	value   []byte
	deleted bool
}

// CacheDB buffers writes on top of a parent Database. Reads see the buffered
// writes first. Nothing reaches the parent until Commit is called, so a
// speculative state transition can be dropped with Discard. CacheDBs nest: a
// CacheDB can be the parent of another one.
//
// CacheDB is not safe for concurrent use.
type CacheDB struct {
	parent Database
	dirty  map[string]cacheEntry
}

// NewCacheDB wraps parent with an empty write buffer.
func NewCacheDB(parent Database) *CacheDB {
	return &CacheDB{parent: parent, dirty: make(map[string]cacheEntry)}
}

func (c *CacheDB) Put(key []byte, value []byte) error {
	c.dirty[string(key)] = cacheEntry{value: append([]byte(nil), value...)}
	return nil
}

func (c *CacheDB) Get(key []byte) ([]byte, error) {
	if entry, ok := c.dirty[string(key)]; ok {
		if entry.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), entry.value...), nil
	}
	return c.parent.Get(key)
}

func (c *CacheDB) Has(key []byte) (bool, error) {
	_, err := c.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (c *CacheDB) Delete(key []byte) error {
	c.dirty[string(key)] = cacheEntry{deleted: true}
	return nil
}

// Write buffers the batch operations; they reach the parent on the next
// Commit.
func (c *CacheDB) Write(batch *Batch) error {
	for _, op := range batch.Ops() {
		if op.Delete {
			c.dirty[string(op.Key)] = cacheEntry{deleted: true}
			continue
		}
		c.dirty[string(op.Key)] = cacheEntry{value: append([]byte(nil), op.Value...)}
	}
	return nil
}

// Iterate merges the buffered writes over the parent's view of the range.
// Buffered deletions hide parent keys; buffered values replace them. The
// buffer is scanned once per call.
func (c *CacheDB) Iterate(prefix, start []byte, fn func(key, value []byte) bool) error {
	from := string(prefix) + string(start)
	pending := make([]string, 0)
	for k := range c.dirty {
		if strings.HasPrefix(k, string(prefix)) && k >= from {
			pending = append(pending, k)
		}
	}
	sort.Strings(pending)

	// drain hands fn the buffered keys sorting before limit, or all of them
	// when limit is nil. It reports false once fn asks to stop.
	drain := func(limit []byte) bool {
		for len(pending) > 0 {
			k := pending[0]
			if limit != nil && k >= string(limit) {
				return true
			}
			pending = pending[1:]
			entry := c.dirty[k]
			if entry.deleted {
				continue
			}
			if !fn([]byte(k), append([]byte(nil), entry.value...)) {
				return false
			}
		}
		return true
	}

	stopped := false
	err := c.parent.Iterate(prefix, start, func(key, value []byte) bool {
		if !drain(key) {
			stopped = true
			return false
		}
		if len(pending) > 0 && pending[0] == string(key) {
			entry := c.dirty[pending[0]]
			pending = pending[1:]
			if entry.deleted {
				return true
			}
			value = append([]byte(nil), entry.value...)
		}
		if !fn(key, value) {
			stopped = true
			return false
		}
		return true
	})
	if err != nil || stopped {
		return err
	}
	drain(nil)
	return nil
}

// Dirty reports the number of buffered keys.
func (c *CacheDB) Dirty() int { return len(c.dirty) }

// Commit flushes every buffered mutation into the parent in one batch and
// resets the buffer. Keys are written in sorted order so the resulting batch
// is deterministic.
func (c *CacheDB) Commit() error {
	if len(c.dirty) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := NewBatch()
	for _, k := range keys {
		entry := c.dirty[k]
		if entry.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), entry.value)
	}
	if err := c.parent.Write(batch); err != nil {
		return err
	}
	c.dirty = make(map[string]cacheEntry)
	return nil
}

// Discard drops every buffered mutation.
func (c *CacheDB) Discard() {
	c.dirty = make(map[string]cacheEntry)
}

// Close discards the buffer. The parent is left open.
func (c *CacheDB) Close() {
	c.Discard()
}
