/*
Package credstore is the key/value store that login clients keep in-flight request state and completed authorizations in.

There are two layers. [Storage] is a raw string key/value backend, with several implementations: in-process ([MemStorage], [LRUStorage]), on-disk ([PebbleStorage]), shared databases ([SQLStorage], [RedisStorage]), and cookie sessions ([SessionStorage]). [Store] wraps any backend with `{expiresAt, value}` JSON envelopes and lazy expiry, so that callers never observe a stale entry regardless of which backend is configured.
*/
package credstore
