// Package recursor implements a recursive DNS resolver core: it walks
// the delegation hierarchy from the root hints down to the
// authoritative zone, builds and reuses per-zone nameserver pools,
// deduplicates concurrent identical queries, and caches responses.
// Wire format and transport come from github.com/miekg/dns; the
// transport itself is pluggable through ConnectionProvider.
package recursor

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/nresare/recursive-resolver/cache"
)

// MaxDepth bounds the zone walk. Delegation chains always converge
// toward the pre-seeded root, so any walk deeper than this indicates a
// delegation loop.
const MaxDepth = 20

const DefaultDNSPort = 53

// Recursor is the top-level orchestrator. It owns the record cache,
// the root pool and the per-zone pool registry. A single Recursor
// serves any number of concurrent Resolve calls.
//
// The pool registry only ever grows: a zone's pool, once built, is
// reused for the remainder of the process even if all its nameservers
// become unreachable. Failure is surfaced per query.
type Recursor struct {
	DNSPort uint16

	provider ConnectionProvider
	cache    Cacher
	selector Selector
	log      *logrus.Logger
	roots    []netip.Addr

	root  *RecursorPool
	mu    sync.Mutex // protects pools
	pools map[string]*RecursorPool
}

// Option configures a Recursor.
type Option func(*Recursor)

// WithRoots replaces the generated IANA root hints.
func WithRoots(roots []netip.Addr) Option {
	return func(r *Recursor) { r.roots = roots }
}

// WithConnectionProvider sets the transport used to reach nameservers.
func WithConnectionProvider(provider ConnectionProvider) Option {
	return func(r *Recursor) { r.provider = provider }
}

// WithCache replaces the default record cache.
func WithCache(c Cacher) Option {
	return func(r *Recursor) { r.cache = c }
}

// WithSelector sets the candidate ordering strategy for every pool.
func WithSelector(s Selector) Option {
	return func(r *Recursor) { r.selector = s }
}

// WithLogger sets the structured logger.
func WithLogger(log *logrus.Logger) Option {
	return func(r *Recursor) { r.log = log }
}

// New returns a Recursor seeded with the IANA root servers unless
// overridden by options.
func New(opts ...Option) *Recursor {
	var roots []netip.Addr
	roots = append(roots, Roots4...)
	roots = append(roots, Roots6...)
	r := &Recursor{
		DNSPort:  DefaultDNSPort,
		selector: StaticSelector{},
		log:      logrus.StandardLogger(),
		roots:    roots,
		pools:    make(map[string]*RecursorPool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.provider == nil {
		r.provider = NewUDPProvider()
	}
	if r.cache == nil {
		r.cache = cache.New()
	}
	var servers []*NameServer
	for _, addr := range r.roots {
		servers = append(servers, NewNameServer("", netip.AddrPortFrom(addr, r.DNSPort), r.provider))
	}
	r.root = newRecursorPool(".", NewNameServerPool(".", servers, nil, r.selector))
	return r
}

// RootServers returns the nameservers of the pre-seeded root pool.
func (r *Recursor) RootServers() []*NameServer {
	return r.root.ns.datagram
}

// Provider returns the transport the Recursor dials through.
func (r *Recursor) Provider() ConnectionProvider {
	return r.provider
}

// Resolve answers qname/qtype by walking the delegation hierarchy.
// Cached answers are served without network activity; fresh answers
// are cached honoring their TTL before being returned. Failures are
// never cached.
func (r *Recursor) Resolve(ctx context.Context, qname string, qtype uint16) (msg *dns.Msg, err error) {
	return r.resolve(ctx, normalizeName(qname), qtype, 0)
}

func (r *Recursor) resolve(ctx context.Context, qname string, qtype uint16, depth int) (msg *dns.Msg, err error) {
	if depth > MaxDepth {
		return nil, ErrRecursionLimitExceeded
	}
	if msg = r.cacheGet(qname, qtype); msg != nil {
		return cloneIfCached(msg), nil
	}
	zone := zoneFor(qname, qtype)
	var pool *RecursorPool
	if pool, err = r.nsPoolForZone(ctx, zone, depth); err != nil {
		return nil, err
	}
	var resp *dns.Msg
	if resp, err = pool.Lookup(ctx, newQueryMsg(qname, qtype)); err != nil {
		r.log.WithFields(logrus.Fields{"qname": qname, "qtype": dns.Type(qtype).String(), "zone": zone}).
			WithError(err).Debug("lookup failed")
		return nil, err
	}
	if resp.Rcode == dns.RcodeSuccess && qtype != dns.TypeCNAME && !hasRRType(resp.Answer, qtype) {
		if tgt, ok := cnameTarget(resp, qname); ok {
			r.log.WithFields(logrus.Fields{"qname": qname, "target": tgt}).Debug("chasing cname")
			if msg, err = r.resolve(ctx, tgt, qtype, depth+1); err != nil {
				return nil, err
			}
			msg = cloneIfCached(msg)
			prependChain(msg, resp, qname)
			r.cacheStore(msg)
			return msg, nil
		}
	}
	r.cacheStore(resp)
	return resp, nil
}

// nsPoolForZone returns the RecursorPool serving zone, constructing it
// on first use. Construction resolves the parent zone's pool, asks it
// for zone's NS records and resolves every NS name to addresses. A
// pool with at least one usable nameserver is valid; nameservers whose
// addresses cannot be resolved are skipped.
func (r *Recursor) nsPoolForZone(ctx context.Context, zone string, depth int) (pool *RecursorPool, err error) {
	if depth > MaxDepth {
		return nil, ErrRecursionLimitExceeded
	}
	if zone == "." {
		return r.root, nil
	}
	r.mu.Lock()
	pool = r.pools[zone]
	r.mu.Unlock()
	if pool != nil {
		return pool, nil
	}

	var parent *RecursorPool
	if parent, err = r.nsPoolForZone(ctx, parentZone(zone), depth+1); err != nil {
		return nil, err
	}
	var resp *dns.Msg
	if resp = r.cacheGet(zone, dns.TypeNS); resp == nil {
		if resp, err = parent.Lookup(ctx, newQueryMsg(zone, dns.TypeNS)); err != nil {
			return nil, err
		}
		r.cacheStore(resp)
	}

	hosts := delegationNS(resp, zone)
	if len(hosts) == 0 {
		// Not a delegation point: the zone is served by its parent.
		return parent, nil
	}
	glue := glueAddresses(resp)
	var servers []*NameServer
	for _, host := range hosts {
		addrs := glue[host]
		if len(addrs) == 0 {
			if addrs, err = r.resolveNSAddr(ctx, zone, host, parent, depth); err != nil {
				r.log.WithFields(logrus.Fields{"zone": zone, "ns": host}).
					WithError(err).Debug("skipping unresolvable nameserver")
				continue
			}
		}
		for _, addr := range addrs {
			servers = append(servers, NewNameServer(host, netip.AddrPortFrom(addr, r.DNSPort), r.provider))
		}
	}
	if len(servers) == 0 {
		return nil, &DelegationError{Zone: zone}
	}
	pool = newRecursorPool(zone, NewNameServerPool(zone, servers, nil, r.selector))

	// Two callers may build the same zone's pool concurrently; the
	// first registration wins and the loser adopts it.
	r.mu.Lock()
	if existing := r.pools[zone]; existing != nil {
		pool = existing
	} else {
		r.pools[zone] = pool
	}
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{"zone": zone, "servers": len(servers)}).Debug("registered zone pool")
	return pool, nil
}

// resolveNSAddr resolves the address of a delegated nameserver. When
// the NS name lies inside the zone it serves (a cross-referencing
// delegation whose glue was absent) the address must come from the
// parent zone's pool; recursing into the zone under construction would
// never terminate.
func (r *Recursor) resolveNSAddr(ctx context.Context, zone, host string, parent *RecursorPool, depth int) (addrs []netip.Addr, err error) {
	if dns.IsSubDomain(zone, host) {
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			var resp *dns.Msg
			if resp, err = parent.Lookup(ctx, newQueryMsg(host, qtype)); err == nil {
				if addrs = answerAddresses(resp, host); len(addrs) > 0 {
					return addrs, nil
				}
			}
		}
		return nil, &DelegationError{Zone: zone, Host: host, Err: err}
	}
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		var resp *dns.Msg
		if resp, err = r.resolve(ctx, host, qtype, depth+1); err == nil {
			if addrs = answerAddresses(resp, host); len(addrs) > 0 {
				return addrs, nil
			}
		}
	}
	return nil, &DelegationError{Zone: zone, Host: host, Err: err}
}

// OrderRoots probes the root servers and, when the selector supports
// it, records their round-trip times so subsequent dispatch prefers
// the fastest roots.
func (r *Recursor) OrderRoots(ctx context.Context, cutoff time.Duration) {
	if s, ok := r.selector.(*RTTSelector); ok {
		s.Probe(ctx, r.provider, r.RootServers(), cutoff)
	}
}

func (r *Recursor) cacheGet(qname string, qtype uint16) (msg *dns.Msg) {
	if r.cache != nil {
		msg = r.cache.DnsGet(qname, qtype)
	}
	return
}

func (r *Recursor) cacheStore(msg *dns.Msg) (cached bool) {
	if r.cache != nil && msg != nil && !msg.Zero && len(msg.Question) == 1 {
		r.cache.DnsSet(msg)
		cached = true
	}
	return
}
