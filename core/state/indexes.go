package state

import (
	"errors"
	"fmt"
	"sort"
)

// ErrListFull is returned when inserting into a capped index that already
// holds its maximum number of members.
var ErrListFull = errors.New("state: index capacity reached")

// Uint64List loads an index stored as an ordered list of uint64 values.
func (m *Manager) Uint64List(key []byte) ([]uint64, error) {
	var list []uint64
	if err := m.KVGetList(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// PutUint64List persists the list, deleting the key when the list is empty so
// drained buckets do not linger in state.
func (m *Manager) PutUint64List(key []byte, list []uint64) error {
	if len(list) == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, list)
}

// SortedSetInsert adds value to the sorted set stored under key. Inserting an
// existing member is a no-op. A non-zero limit caps the set size.
func (m *Manager) SortedSetInsert(key []byte, value uint64, limit int) error {
	set, err := m.Uint64List(key)
	if err != nil {
		return err
	}
	pos := sort.Search(len(set), func(i int) bool { return set[i] >= value })
	if pos < len(set) && set[pos] == value {
		return nil
	}
	if limit > 0 && len(set) >= limit {
		return ErrListFull
	}
	set = append(set, 0)
	copy(set[pos+1:], set[pos:])
	set[pos] = value
	return m.PutUint64List(key, set)
}

// SortedSetRemove deletes value from the sorted set stored under key and
// reports whether it was present.
func (m *Manager) SortedSetRemove(key []byte, value uint64) (bool, error) {
	set, err := m.Uint64List(key)
	if err != nil {
		return false, err
	}
	pos := sort.Search(len(set), func(i int) bool { return set[i] >= value })
	if pos >= len(set) || set[pos] != value {
		return false, nil
	}
	set = append(set[:pos], set[pos+1:]...)
	return true, m.PutUint64List(key, set)
}

// ListAppend appends value to the insertion-ordered list stored under key.
// Duplicates are ignored. A non-zero limit caps the list size.
func (m *Manager) ListAppend(key []byte, value uint64, limit int) error {
	list, err := m.Uint64List(key)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == value {
			return nil
		}
	}
	if limit > 0 && len(list) >= limit {
		return ErrListFull
	}
	return m.PutUint64List(key, append(list, value))
}

// ListFilter removes every occurrence of value from the list stored under key
// while preserving the order of the remaining members.
func (m *Manager) ListFilter(key []byte, value uint64) (bool, error) {
	list, err := m.Uint64List(key)
	if err != nil {
		return false, err
	}
	kept := list[:0]
	removed := false
	for _, existing := range list {
		if existing == value {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return false, nil
	}
	return true, m.PutUint64List(key, kept)
}

// Member indexes keep one key per member under a shared prefix, so adding or
// removing a member touches a single key however large the index grows. The
// key itself carries the member; the stored value is a marker.
var memberMarker = []byte{0x01}

// AddMember records key in its member index. Adding a present member is a
// no-op.
func (m *Manager) AddMember(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db().Put(key, memberMarker)
}

// RemoveMember deletes key from its member index and reports whether it was
// present.
func (m *Manager) RemoveMember(key []byte) (bool, error) {
	ok, err := m.KVHas(key)
	if err != nil || !ok {
		return false, err
	}
	return true, m.db().Delete(key)
}

// ScanMembers returns the key suffixes of up to limit members under prefix,
// in key order, starting at prefix+start. A zero limit returns every member.
func (m *Manager) ScanMembers(prefix, start []byte, limit int) ([][]byte, error) {
	var out [][]byte
	err := m.db().Iterate(prefix, start, func(key, _ []byte) bool {
		out = append(out, append([]byte(nil), key[len(prefix):]...))
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("state: scan %q: %w", prefix, err)
	}
	return out, nil
}
