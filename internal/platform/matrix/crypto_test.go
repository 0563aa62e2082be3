// ABOUTME: Tests for crypto store helpers: slugs, key derivation and device ID mismatch detection
// ABOUTME: Builds a stand-in crypto_account table with the sqlite3 driver

package matrix

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"@bot:matrix.org":        "bot_matrix.org",
		"bot:example.org":        "bot_example.org",
		"@we!rd/na me:host:8448": "werdname_host_8448",
		"":                       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, slugify(in), in)
	}
}

func TestDeriveStoreKey(t *testing.T) {
	a, err := deriveStoreKey("@a:example.org")
	require.NoError(t, err)
	again, err := deriveStoreKey("@a:example.org")
	require.NoError(t, err)
	b, err := deriveStoreKey("@b:example.org")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
}

func writeCryptoAccount(t *testing.T, dbPath, deviceID string) {
	t.Helper()
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE crypto_account (account_id TEXT PRIMARY KEY, device_id TEXT NOT NULL)")
	require.NoError(t, err)
	if deviceID != "" {
		_, err = db.Exec("INSERT INTO crypto_account (account_id, device_id) VALUES ('acct', ?)", deviceID)
		require.NoError(t, err)
	}
}

func TestCheckDeviceIDMismatch(t *testing.T) {
	dir := t.TempDir()

	missing, err := checkDeviceIDMismatch(filepath.Join(dir, "absent.db"), "DEV1")
	require.NoError(t, err)
	assert.False(t, missing)

	empty := filepath.Join(dir, "empty.db")
	writeCryptoAccount(t, empty, "")
	reset, err := checkDeviceIDMismatch(empty, "DEV1")
	require.NoError(t, err)
	assert.False(t, reset)

	stored := filepath.Join(dir, "stored.db")
	writeCryptoAccount(t, stored, "DEV1")

	reset, err = checkDeviceIDMismatch(stored, "DEV1")
	require.NoError(t, err)
	assert.False(t, reset)

	reset, err = checkDeviceIDMismatch(stored, "DEV2")
	require.NoError(t, err)
	assert.True(t, reset)
}

func TestRemoveDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "crypto.db")
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0600))
	}

	require.NoError(t, removeDatabase(dbPath))
	require.NoError(t, removeDatabase(dbPath))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
