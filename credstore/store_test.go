package credstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testValue struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func testStorageBackend(t *testing.T, storage Storage) {
	assert := assert.New(t)
	ctx := context.Background()

	_, err := storage.Get(ctx, "missing")
	assert.ErrorIs(err, ErrNotFound)

	assert.NoError(storage.Set(ctx, "a", "one"))
	assert.NoError(storage.Set(ctx, "b", "two"))
	assert.NoError(storage.Set(ctx, "a", "uno"))

	v, err := storage.Get(ctx, "a")
	assert.NoError(err)
	assert.Equal("uno", v)

	keys, err := storage.Keys(ctx)
	assert.NoError(err)
	sort.Strings(keys)
	assert.Equal([]string{"a", "b"}, keys)

	ok, err := storage.Delete(ctx, "a")
	assert.NoError(err)
	assert.True(ok)
	ok, err = storage.Delete(ctx, "a")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(storage.Clear(ctx))
	keys, err = storage.Keys(ctx)
	assert.NoError(err)
	assert.Empty(keys)
}

func testStoreSemantics(t *testing.T, storage Storage) {
	assert := assert.New(t)
	ctx := context.Background()
	store := NewStore(storage)

	{
		assert.NoError(store.Set(ctx, "forever", testValue{Name: "x", Count: 3}, 0))
		var out testValue
		assert.NoError(store.Get(ctx, "forever", &out))
		assert.Equal(testValue{Name: "x", Count: 3}, out)

		entries, err := store.Entries(ctx)
		assert.NoError(err)
		assert.Equal(int64(0), entries["forever"].ExpiresAt)
	}

	{
		// lazy expiry: a 1ms entry is gone after 2ms, and physically removed
		assert.NoError(store.Set(ctx, "short", "value", time.Millisecond))
		time.Sleep(5 * time.Millisecond)

		var out string
		err := store.Get(ctx, "short", &out)
		assert.ErrorIs(err, ErrExpired)
		assert.ErrorIs(err, ErrNotFound)
		assert.Empty(out)

		entries, err := store.Entries(ctx)
		assert.NoError(err)
		_, present := entries["short"]
		assert.False(present)
	}

	{
		assert.NoError(store.Set(ctx, "once", "value", time.Minute))
		var out string
		assert.NoError(store.Take(ctx, "once", &out))
		assert.Equal("value", out)
		assert.ErrorIs(store.Take(ctx, "once", &out), ErrNotFound)
	}

	assert.NoError(store.Clear(ctx))
}

func TestMemStorage(t *testing.T) {
	testStorageBackend(t, NewMemStorage())
	testStoreSemantics(t, NewMemStorage())
}

func TestLRUStorage(t *testing.T) {
	testStorageBackend(t, NewLRUStorage(100, time.Hour))
	testStoreSemantics(t, NewLRUStorage(100, time.Hour))

	assert := assert.New(t)
	ctx := context.Background()
	small := NewLRUStorage(2, 0)
	assert.NoError(small.Set(ctx, "a", "1"))
	assert.NoError(small.Set(ctx, "b", "2"))
	assert.NoError(small.Set(ctx, "c", "3"))
	_, err := small.Get(ctx, "a")
	assert.ErrorIs(err, ErrNotFound)
}

func TestPebbleStorage(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.pebble")

	ps, err := OpenPebbleStorage(path)
	require.NoError(err)
	testStorageBackend(t, ps)
	testStoreSemantics(t, ps)

	// survives re-opening
	require.NoError(ps.Set(ctx, "persist", "yes"))
	require.NoError(ps.Close())
	ps, err = OpenPebbleStorage(path)
	require.NoError(err)
	defer ps.Close()
	v, err := ps.Get(ctx, "persist")
	assert.NoError(err)
	assert.Equal("yes", v)
}

func TestSQLStorage(t *testing.T) {
	require := require.New(t)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "creds.sqlite")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(err)
	ss, err := NewSQLStorage(db)
	require.NoError(err)

	testStorageBackend(t, ss)
	testStoreSemantics(t, ss)
}

func TestSessionStorage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	cookies := sessions.NewCookieStore([]byte("test-session-secret-0123456789ab"))

	{
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		ss, err := NewSessionStorage(cookies, "uauth", w, r)
		require.NoError(err)
		testStorageBackend(t, ss)
	}

	// values round-trip through the session cookie
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	ss, err := NewSessionStorage(cookies, "uauth", w, r)
	require.NoError(err)
	store := NewStore(ss)
	require.NoError(store.Set(ctx, "username", "alice.crypto", time.Hour))

	resp := w.Result()
	require.NotEmpty(resp.Cookies())

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range resp.Cookies() {
		r2.AddCookie(c)
	}
	ss2, err := NewSessionStorage(cookies, "uauth", httptest.NewRecorder(), r2)
	require.NoError(err)
	var username string
	assert.NoError(NewStore(ss2).Get(ctx, "username", &username))
	assert.Equal("alice.crypto", username)
}

func TestStoreSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(NewMemStorage())
	store.Now = func() time.Time { return now }

	assert.NoError(store.Set(ctx, "a", 1, time.Second))
	assert.NoError(store.Set(ctx, "b", 2, time.Hour))
	assert.NoError(store.Set(ctx, "c", 3, 0))

	now = now.Add(time.Minute)
	n, err := store.Sweep(ctx)
	assert.NoError(err)
	assert.Equal(1, n)

	entries, err := store.Entries(ctx)
	assert.NoError(err)
	assert.Len(entries, 2)
	assert.Contains(entries, "b")
	assert.Contains(entries, "c")
}
