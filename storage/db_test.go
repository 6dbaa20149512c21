package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()

	ldb, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	t.Cleanup(ldb.Close)

	bdb, err := NewBoltDB(filepath.Join(dir, "state.bolt"))
	require.NoError(t, err)
	t.Cleanup(bdb.Close)

	return map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": ldb,
		"bolt":    bdb,
	}
}

func TestDatabaseContract(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("a"), []byte("1")))
			got, err := db.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), got)

			ok, err := db.Has([]byte("a"))
			require.NoError(t, err)
			require.True(t, ok)

			batch := NewBatch()
			batch.Put([]byte("b"), []byte("2"))
			batch.Delete([]byte("a"))
			require.NoError(t, db.Write(batch))

			ok, err = db.Has([]byte("a"))
			require.NoError(t, err)
			require.False(t, ok)
			got, err = db.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), got)

			require.NoError(t, db.Delete([]byte("b")))
			require.NoError(t, db.Delete([]byte("never-existed")))
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("tick"), []byte{0x07}))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	got, err := db2.Get([]byte("tick"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x07}, got)
}

// collect gathers the keys Iterate visits, stopping after limit when it is
// positive.
func collect(t *testing.T, db Database, prefix, start string, limit int) []string {
	t.Helper()
	var keys []string
	err := db.Iterate([]byte(prefix), []byte(start), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return limit <= 0 || len(keys) < limit
	})
	require.NoError(t, err)
	return keys
}

func TestIterateRange(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"p/b", "p/a", "p/c", "q/a", "o/z"} {
				require.NoError(t, db.Put([]byte(k), []byte(k)))
			}
			require.Equal(t, []string{"p/a", "p/b", "p/c"}, collect(t, db, "p/", "", 0))
			require.Equal(t, []string{"p/b", "p/c"}, collect(t, db, "p/", "b", 0))
			require.Equal(t, []string{"p/b"}, collect(t, db, "p/", "ab", 1))
			require.Empty(t, collect(t, db, "p/", "d", 0))
			require.Empty(t, collect(t, db, "r/", "", 0))
		})
	}
}
