package state

import (
	"fmt"

	"gridmarket/storage"
)

// Journal is a side log that must rewind together with state, such as the
// buffered events of the command being applied.
type Journal interface {
	Mark() int
	Truncate(mark int)
}

// AttachJournal registers j so that reverting a snapshot also truncates it.
func (m *Manager) AttachJournal(j Journal) {
	if j == nil {
		return
	}
	m.journals = append(m.journals, j)
}

// Snapshot opens a nested write layer and returns its identifier. Writes made
// afterwards stay in memory until MergeSnapshot folds them into the layer
// below, or RevertToSnapshot drops them.
func (m *Manager) Snapshot() int {
	id := len(m.layers)
	m.layers = append(m.layers, storage.NewCacheDB(m.db()))
	marks := make([]int, len(m.journals))
	for i, j := range m.journals {
		marks[i] = j.Mark()
	}
	m.marks = append(m.marks, marks)
	return id
}

// RevertToSnapshot drops every write made since snapshot id was taken,
// including those of snapshots opened after it.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.layers) {
		return
	}
	marks := m.marks[id]
	for n := len(m.layers) - 1; n >= id; n-- {
		m.layers[n].Discard()
	}
	m.layers = m.layers[:id]
	m.marks = m.marks[:id]
	for i, mark := range marks {
		if i < len(m.journals) {
			m.journals[i].Truncate(mark)
		}
	}
}

// MergeSnapshot folds the writes of snapshot id (and of any snapshot opened
// after it) into the enclosing layer. Merging the outermost snapshot writes
// one batch to the backing database.
func (m *Manager) MergeSnapshot(id int) error {
	if id < 0 || id >= len(m.layers) {
		return fmt.Errorf("state: unknown snapshot %d", id)
	}
	for n := len(m.layers) - 1; n >= id; n-- {
		if err := m.layers[n].Commit(); err != nil {
			m.RevertToSnapshot(id)
			return fmt.Errorf("state: merge snapshot: %w", err)
		}
		m.layers = m.layers[:n]
		m.marks = m.marks[:n]
	}
	return nil
}

// Atomic runs fn inside a snapshot: its writes are kept when it returns nil
// and dropped otherwise.
func (m *Manager) Atomic(fn func() error) error {
	id := m.Snapshot()
	if err := fn(); err != nil {
		m.RevertToSnapshot(id)
		return err
	}
	return m.MergeSnapshot(id)
}
