// SPDX-License-Identifier: MIT

package cache

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	entry, err := store.Get("EX", "session", 1)
	require.NoError(t, err)
	assert.Nil(t, entry.Data())

	_, err = entry.Set(map[string]any{"token": "abc", "n": float64(3)}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	// A fresh store simulates a restart: the entry must come back from disk.
	reopened := NewStore(store.root)
	entry2, err := reopened.Get("EX", "session", 1)
	require.NoError(t, err)
	data, ok := entry2.Data().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", data["token"])
	assert.Equal(t, float64(3), data["n"])
	assert.False(t, entry2.Expired())
	require.NotNil(t, entry2.Expiration())
}

func TestExpiredEntry(t *testing.T) {
	store := NewStore(t.TempDir())
	entry, err := store.Get("EX", "old", 1)
	require.NoError(t, err)

	// A concrete past time is honoured as-is; the duration reinterpretation
	// applies only to numeric inputs.
	_, err = entry.Set("stale", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, entry.Expired())
}

func TestTamperedFileFailsChecksum(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	entry, err := store.Get("EX", "keys", 1)
	require.NoError(t, err)
	_, err = entry.Set("payload", nil)
	require.NoError(t, err)

	path := filepath.Join(dir, "EX", "keys.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var p map[string]any
	require.NoError(t, json.Unmarshal(raw, &p))
	p["data"] = "tampered"
	mutated, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, mutated, 0o640))

	_, err = NewStore(dir).Get("EX", "keys", 1)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	entry, err := store.Get("EX", "cfg", 1)
	require.NoError(t, err)
	_, err = entry.Set("v1 data", nil)
	require.NoError(t, err)

	_, err = NewStore(dir).Get("EX", "cfg", 2)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	// The caller's recovery path: delete and refill at the new version.
	require.NoError(t, store.Delete("EX", "cfg"))
	fresh, err := NewStore(dir).Get("EX", "cfg", 2)
	require.NoError(t, err)
	assert.Nil(t, fresh.Data())
}

func TestSharedHandle(t *testing.T) {
	store := NewStore(t.TempDir())
	a, err := store.Get("EX", "shared", 1)
	require.NoError(t, err)
	b, err := store.Get("EX", "shared", 1)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = a.Set("written through a", nil)
	require.NoError(t, err)
	assert.Equal(t, "written through a", b.Data())
}

func TestJWTExpirationFallback(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Unix()
	claims, err := json.Marshal(map[string]any{"exp": exp})
	require.NoError(t, err)
	token := "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString(claims) + ".sig"

	store := NewStore(t.TempDir())
	entry, err := store.Get("EX", "jwt", 1)
	require.NoError(t, err)
	_, err = entry.Set(token, nil)
	require.NoError(t, err)

	require.NotNil(t, entry.Expiration())
	assert.Equal(t, time.Unix(exp, 0).UTC(), entry.Expiration().UTC())
	assert.False(t, entry.Expired())
}

func TestNoExpiration(t *testing.T) {
	store := NewStore(t.TempDir())
	entry, err := store.Get("EX", "forever", 1)
	require.NoError(t, err)
	_, err = entry.Set("persistent", nil)
	require.NoError(t, err)
	assert.Nil(t, entry.Expiration())
	assert.False(t, entry.Expired())
}

func TestParseTimestampShapes(t *testing.T) {
	future := time.Now().Add(time.Hour)

	t.Run("time value", func(t *testing.T) {
		ts, err := ParseTimestamp(future)
		require.NoError(t, err)
		assert.True(t, ts.Equal(future))
	})

	t.Run("rfc3339 string", func(t *testing.T) {
		ts, err := ParseTimestamp(future.UTC().Format(time.RFC3339))
		require.NoError(t, err)
		assert.WithinDuration(t, future, *ts, time.Second)
	})

	t.Run("iso without zone", func(t *testing.T) {
		ts, err := ParseTimestamp("2031-06-15T10:30:00")
		require.NoError(t, err)
		assert.Equal(t, 2031, ts.Year())
	})

	t.Run("epoch seconds", func(t *testing.T) {
		ts, err := ParseTimestamp(future.Unix())
		require.NoError(t, err)
		assert.WithinDuration(t, future, *ts, time.Second)
	})

	t.Run("epoch milliseconds", func(t *testing.T) {
		ts, err := ParseTimestamp(float64(future.UnixMilli()))
		require.NoError(t, err)
		assert.WithinDuration(t, future, *ts, time.Second)
	})

	t.Run("past number becomes duration from now", func(t *testing.T) {
		ts, err := ParseTimestamp(3600)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Hour), *ts, 5*time.Second)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseTimestamp("not a time")
		assert.Error(t, err)
		_, err = ParseTimestamp(struct{}{})
		assert.Error(t, err)
	})
}
