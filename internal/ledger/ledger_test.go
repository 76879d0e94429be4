package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempLedgerPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "processed.json")
}

func TestOpenFile_MissingFileIsEmpty(t *testing.T) {
	l, err := OpenFile(tempLedgerPath(t))
	require.NoError(t, err)

	assert.Equal(t, 0, l.Len())
	assert.False(t, l.Contains("anything"))
}

func TestInsertAndContains(t *testing.T) {
	l, err := OpenFile(tempLedgerPath(t))
	require.NoError(t, err)

	require.NoError(t, l.Insert("msg-1", time.Now()))

	assert.True(t, l.Contains("msg-1"))
	assert.False(t, l.Contains("msg-2"))
	assert.Equal(t, 1, l.Len())
}

func TestInsert_Idempotent(t *testing.T) {
	l, err := OpenFile(tempLedgerPath(t))
	require.NoError(t, err)

	first := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, l.Insert("msg-1", first))
	require.NoError(t, l.Insert("msg-1", first.Add(time.Hour)))

	assert.Equal(t, 1, l.Len())
}

func TestInsert_EmptyIDRejected(t *testing.T) {
	l, err := OpenFile(tempLedgerPath(t))
	require.NoError(t, err)

	assert.Error(t, l.Insert("", time.Now()))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := tempLedgerPath(t)

	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Insert("msg-1", time.Now()))
	require.NoError(t, l.Insert("msg-2", time.Now()))
	require.NoError(t, l.Close())

	reopened, err := OpenFile(path)
	require.NoError(t, err)

	assert.True(t, reopened.Contains("msg-1"))
	assert.True(t, reopened.Contains("msg-2"))
	assert.Equal(t, 2, reopened.Len())
}

func TestOpenFile_CorruptFileFailsLoud(t *testing.T) {
	path := tempLedgerPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestInsert_FlushesBeforeReturning(t *testing.T) {
	path := tempLedgerPath(t)

	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Insert("msg-1", time.Now()))

	// A second handle opened without Close must already see the commit.
	other, err := OpenFile(path)
	require.NoError(t, err)
	assert.True(t, other.Contains("msg-1"))
}

func TestReset(t *testing.T) {
	path := tempLedgerPath(t)

	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Insert("msg-1", time.Now()))
	require.NoError(t, l.Reset())

	assert.Equal(t, 0, l.Len())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Len())
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	path := tempLedgerPath(t)

	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Insert("msg-1", time.Now()))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
