package state

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"gridmarket/storage"
)

// Manager exposes typed key/value tables on top of a storage.Database. Values
// are RLP encoded. Writes can be grouped with Snapshot so a failed command or
// sweep item is dropped without touching the state below it.
type Manager struct {
	base     storage.Database
	layers   []*storage.CacheDB
	marks    [][]int
	journals []Journal
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{base: db}
}

// Database returns the innermost view: the open snapshot layer if any, the
// backing database otherwise.
func (m *Manager) Database() storage.Database {
	return m.db()
}

func (m *Manager) db() storage.Database {
	if n := len(m.layers); n > 0 {
		return m.layers[n-1]
	}
	return m.base
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db().Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db().Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVHas reports whether a value is stored under key.
func (m *Manager) KVHas(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.db().Has(key)
}

// KVDelete removes the value stored under key. Removing a missing key is a
// no-op.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db().Delete(key)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db().Get(key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// NextSequence increments and returns the counter stored under key. The first
// call returns 1 unless start says otherwise.
func (m *Manager) NextSequence(key []byte, start uint64) (uint64, error) {
	var current uint64
	ok, err := m.KVGet(key, &current)
	if err != nil {
		return 0, err
	}
	next := start
	if ok {
		next = current + 1
	}
	if err := m.KVPut(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Uint64 reads a scalar counter, returning zero when absent.
func (m *Manager) Uint64(key []byte) (uint64, error) {
	var value uint64
	if _, err := m.KVGet(key, &value); err != nil {
		return 0, err
	}
	return value, nil
}

// SetUint64 writes a scalar counter.
func (m *Manager) SetUint64(key []byte, value uint64) error {
	return m.KVPut(key, value)
}
