/*
Package discovery resolves a blockchain domain name (optionally with a user part, like `bob@alice.crypto`) to the OpenID Provider configuration of the identity provider which should authenticate it.

Resolution is layered:

  - a [DomainResolver] returns raw records for a domain; this package only consumes that capability (see [MemoryDomainResolver] and [APIDomainResolver])
  - a [WebFingerResolver] turns the `webfinger.<user>.<rel>` record into a WebFinger JRD document, following `host`, `uri` (HTTP or IPFS) or inline `value` records, and falling back to a default issuer when no record exists
  - an [IssuerResolver] picks the issuer link out of the JRD and fetches `/.well-known/openid-configuration` from it

[CacheIssuerResolver] adds an in-process cache with request coalescing in front of any [IssuerResolver], for long-running servers.
*/
package discovery
