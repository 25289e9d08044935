package recursor

import (
	"github.com/miekg/dns"
)

// Cacher is the record cache consumed by the Recursor. The default
// implementation lives in the cache package; callers may supply their
// own via WithCache.
type Cacher interface {
	// DnsSet stores msg for its question. Implementations may keep a
	// private copy, but the cached instance must have dns.Msg.Zero set
	// to true before it is returned by DnsGet.
	DnsSet(msg *dns.Msg)

	// DnsGet returns the cached dns.Msg for qname and qtype, or nil if
	// no unexpired entry exists. The returned message keeps
	// dns.Msg.Zero set to true to signal it originated from cache, and
	// callers must treat it as immutable, copying before mutation.
	DnsGet(qname string, qtype uint16) *dns.Msg
}
