package cliutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uauth/uauth-go/credstore"
)

func TestOpenCredentialStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, uri := range []string{
		"",
		"lru",
		"sqlite://" + filepath.Join(dir, "creds.sqlite"),
		filepath.Join(dir, "pebble"),
	} {
		t.Run(uri, func(t *testing.T) {
			assert := assert.New(t)

			store, closeFn, err := OpenCredentialStore(uri)
			require.NoError(t, err)
			defer closeFn()

			assert.NoError(store.Set(ctx, "username", "alice.crypto", time.Minute))
			var got string
			assert.NoError(store.Get(ctx, "username", &got))
			assert.Equal("alice.crypto", got)

			assert.NoError(store.Take(ctx, "username", &got))
			assert.ErrorIs(store.Get(ctx, "username", &got), credstore.ErrNotFound)
		})
	}
}

func TestOpenCredentialStoreBadRedis(t *testing.T) {
	_, closeFn, err := OpenCredentialStore("redis://127.0.0.1:1/0")
	assert.Error(t, err)
	assert.NotNil(t, closeFn)
}
