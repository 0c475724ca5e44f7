package cliutil

import (
	"strings"
	"time"

	"github.com/uauth/uauth-go/credstore"
)

// OpenCredentialStore opens a credential store from a config string. The returned close function is never nil.
//
// Accepted forms:
// - "" or "memory": process-local map
// - "lru": bounded in-process cache
// - "redis://..." or "rediss://...": shared redis instance
// - "sqlite://..." or "postgres://...": SQL database, see [SetupDatabase]
// - anything else is treated as a pebble database directory
func OpenCredentialStore(uri string) (*credstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch {
	case uri == "" || uri == "memory":
		return credstore.NewStore(credstore.NewMemStorage()), noop, nil
	case uri == "lru":
		return credstore.NewStore(credstore.NewLRUStorage(10_000, 24*time.Hour)), noop, nil
	case strings.HasPrefix(uri, "redis://") || strings.HasPrefix(uri, "rediss://"):
		rs, err := credstore.NewRedisStorage(uri, "uauth/", 0)
		if err != nil {
			return nil, noop, err
		}
		return credstore.NewStore(rs), rs.Client.Close, nil
	case strings.HasPrefix(uri, "sqlite://") || strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://"):
		db, err := SetupDatabase(uri, 20)
		if err != nil {
			return nil, noop, err
		}
		ss, err := credstore.NewSQLStorage(db)
		if err != nil {
			return nil, noop, err
		}
		sqldb, err := db.DB()
		if err != nil {
			return nil, noop, err
		}
		return credstore.NewStore(ss), sqldb.Close, nil
	default:
		ps, err := credstore.OpenPebbleStorage(uri)
		if err != nil {
			return nil, noop, err
		}
		return credstore.NewStore(ps), ps.Close, nil
	}
}
