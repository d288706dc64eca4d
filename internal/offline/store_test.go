package offline

import (
	"bytes"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)

	body := bytes.Repeat([]byte("Xk29aPq81Lzm\n"), 512)
	require.NoError(t, store.Put("genpass-cache-v1", map[string]*Entry{
		"/saved.txt": {
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {"text/plain"}, "Etag": {`"abc"`}},
			Body:   body,
		},
	}))

	entry, err := store.Get("genpass-cache-v1", "/saved.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, http.StatusOK, entry.Status)
	assert.Equal(t, body, entry.Body)
	assert.Equal(t, "text/plain", entry.ContentType())
	assert.Equal(t, `"abc"`, entry.Header.Get("Etag"))
}

func TestStoreMissingEntry(t *testing.T) {
	store := openTestStore(t)

	entry, err := store.Get("genpass-cache-v1", "/")
	require.NoError(t, err)
	assert.Nil(t, entry, "missing store")

	require.NoError(t, store.Put("genpass-cache-v1", map[string]*Entry{"/": {Status: 200, Body: []byte("x")}}))
	entry, err = store.Get("genpass-cache-v1", "/other")
	require.NoError(t, err)
	assert.Nil(t, entry, "missing key")
}

func TestStoreDetectsContentType(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("s-v1", map[string]*Entry{
		"/":             {Status: 200, Body: []byte("<!DOCTYPE html><html><body>hi</body></html>")},
		"/genpass.wasm": {Status: 200, Body: []byte("\x00asm\x01\x00\x00\x00")},
		"/empty":        {Status: 200},
	}))

	page, err := store.Get("s-v1", "/")
	require.NoError(t, err)
	assert.Contains(t, page.ContentType(), "text/html")

	module, err := store.Get("s-v1", "/genpass.wasm")
	require.NoError(t, err)
	assert.Equal(t, "application/wasm", module.ContentType())

	empty, err := store.Get("s-v1", "/empty")
	require.NoError(t, err)
	assert.Empty(t, empty.Body)
	assert.NotEmpty(t, empty.ContentType())
}

func TestStorePutReplaces(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("s-v1", map[string]*Entry{
		"/a": {Status: 200, Body: []byte("a")},
		"/b": {Status: 200, Body: []byte("b")},
	}))
	require.NoError(t, store.Put("s-v1", map[string]*Entry{
		"/a": {Status: 200, Body: []byte("a2")},
	}))

	keys, err := store.Keys("s-v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a"}, keys)
}

func TestStoreActivate(t *testing.T) {
	store := openTestStore(t)

	for _, name := range []string{"s-v1", "s-v2", "s-v3"} {
		require.NoError(t, store.Put(name, map[string]*Entry{"/": {Status: 200, Body: []byte(name)}}))
	}

	active, err := store.Active()
	require.NoError(t, err)
	assert.Empty(t, active)

	deleted, err := store.Activate("s-v3")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s-v1", "s-v2"}, deleted)

	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"s-v3"}, names)

	active, err = store.Active()
	require.NoError(t, err)
	assert.Equal(t, "s-v3", active)
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	logger := zaptest.NewLogger(t)

	store, err := OpenStore(path, logger)
	require.NoError(t, err)
	require.NoError(t, store.Put("s-v1", map[string]*Entry{"/": {Status: 200, Body: []byte("shell")}}))
	_, err = store.Activate("s-v1")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	active, err := reopened.Active()
	require.NoError(t, err)
	assert.Equal(t, "s-v1", active)

	entry, err := reopened.Get("s-v1", "/")
	require.NoError(t, err)
	assert.Equal(t, "shell", string(entry.Body))
}

func TestStoreClosed(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Names()
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Put("s-v1", nil), ErrStoreClosed)
}

func TestStorePutEmptyStore(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("s-v1", nil))
	ok, err := store.Exists("s-v1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntryCodecCompressesBody(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 4096)
	data, err := encodeEntry(&Entry{Status: http.StatusOK, Header: http.Header{}, Body: body})
	require.NoError(t, err)
	assert.Less(t, len(data), len(body))

	entry, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, body, entry.Body)

	_, err = decodeEntry([]byte{0xc1})
	assert.Error(t, err)
}
