package credstore

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/sessions"
)

// Session-scoped [Storage], backed by a gorilla/sessions session for a single HTTP request. Entries survive between requests from the same browser and disappear when the session does.
//
// A SessionStorage is bound to one request/response pair, so create one per request. Every mutation re-saves the session, which sets a cookie on the response; mutate before writing the response body.
//
// Cookie-backed sessions are limited to roughly 4 KB after encoding; use a [sessions.FilesystemStore] (or another server-side [sessions.Store]) when storing full authorizations.
type SessionStorage struct {
	session *sessions.Session
	r       *http.Request
	w       http.ResponseWriter

	lk sync.Mutex
}

var _ Storage = (*SessionStorage)(nil)

func NewSessionStorage(store sessions.Store, name string, w http.ResponseWriter, r *http.Request) (*SessionStorage, error) {
	sess, err := store.Get(r, name)
	if err != nil && sess == nil {
		return nil, err
	}
	// an undecodable cookie yields a fresh session along with an error; treat that as empty
	return &SessionStorage{
		session: sess,
		r:       r,
		w:       w,
	}, nil
}

func (s *SessionStorage) save() error {
	return s.session.Save(s.r, s.w)
}

func (s *SessionStorage) Get(ctx context.Context, key string) (string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	v, ok := s.session.Values[key].(string)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *SessionStorage) Set(ctx context.Context, key, val string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	s.session.Values[key] = val
	return s.save()
}

func (s *SessionStorage) Delete(ctx context.Context, key string) (bool, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	_, ok := s.session.Values[key]
	if !ok {
		return false, nil
	}
	delete(s.session.Values, key)
	return true, s.save()
}

// Clear removes every value from the session, but leaves the session cookie itself in place.
func (s *SessionStorage) Clear(ctx context.Context) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	clear(s.session.Values)
	return s.save()
}

func (s *SessionStorage) Keys(ctx context.Context) ([]string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	keys := make([]string, 0, len(s.session.Values))
	for k := range s.session.Values {
		if ks, ok := k.(string); ok {
			keys = append(keys, ks)
		}
	}
	return keys, nil
}
