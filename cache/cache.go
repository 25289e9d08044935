// Package cache provides the default bounded, TTL-aware record cache
// for the recursor. Entries expire at insertion time plus the
// response's minimum TTL (clamped between MinTTL and MaxTTL, with a
// fixed NXTTL for negative answers) and stale entries are evicted
// lazily on lookup. Capacity is bounded by an LRU so long-running
// processes cannot grow without limit.
package cache

import (
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"
)

const DefaultMinTTL = 10 * time.Second // ten seconds
const DefaultMaxTTL = 6 * time.Hour    // six hours
const DefaultNXTTL = time.Hour         // one hour
const DefaultCapacity = 100_000        // entries

type key struct {
	qname string
	qtype uint16
}

type entry struct {
	msg     *dns.Msg
	expires time.Time
}

type Cache struct {
	MinTTL time.Duration // always cache responses for at least this long
	MaxTTL time.Duration // never cache responses for longer than this (excepting successful NS responses)
	NXTTL  time.Duration // cache NXDOMAIN responses for this long
	count  atomic.Uint64
	hits   atomic.Uint64
	lru    *lru.Cache[key, entry]
}

func New() *Cache {
	return NewWithCapacity(DefaultCapacity)
}

func NewWithCapacity(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	l, _ := lru.New[key, entry](capacity)
	return &Cache{
		MinTTL: DefaultMinTTL,
		MaxTTL: DefaultMaxTTL,
		NXTTL:  DefaultNXTTL,
		lru:    l,
	}
}

// HitRatio returns the hit ratio as a percentage.
func (cache *Cache) HitRatio() (n float64) {
	if cache != nil {
		if count := cache.count.Load(); count > 0 {
			n = float64(cache.hits.Load()*100) / float64(count)
		}
	}
	return
}

// Entries returns the number of entries in the cache.
func (cache *Cache) Entries() (n int) {
	if cache != nil {
		n = cache.lru.Len()
	}
	return
}

func (cache *Cache) DnsSet(msg *dns.Msg) {
	if cache != nil && msg != nil && !msg.Zero && len(msg.Question) == 1 {
		msg = msg.Copy()
		msg.Zero = true
		ttl := cache.NXTTL
		if msg.Rcode != dns.RcodeNameError {
			ttl = max(cache.MinTTL, time.Duration(minDNSMsgTTL(msg))*time.Second)
			if msg.Question[0].Qtype != dns.TypeNS || msg.Rcode != dns.RcodeSuccess {
				ttl = min(cache.MaxTTL, ttl)
			}
		}
		cache.lru.Add(keyOf(msg.Question[0].Name, msg.Question[0].Qtype), entry{msg: msg, expires: time.Now().Add(ttl)})
	}
}

func (cache *Cache) DnsGet(qname string, qtype uint16) (msg *dns.Msg) {
	if cache != nil {
		cache.count.Add(1)
		k := keyOf(qname, qtype)
		if e, ok := cache.lru.Get(k); ok {
			if time.Since(e.expires) < 0 {
				cache.hits.Add(1)
				return e.msg
			}
			cache.lru.Remove(k)
		}
	}
	return
}

func (cache *Cache) Clear() {
	if cache != nil {
		cache.lru.Purge()
	}
}

// Clean removes entries that have expired as of now.
func (cache *Cache) Clean() {
	if cache != nil {
		now := time.Now()
		for _, k := range cache.lru.Keys() {
			if e, ok := cache.lru.Peek(k); ok && now.After(e.expires) {
				cache.lru.Remove(k)
			}
		}
	}
}

func keyOf(qname string, qtype uint16) key {
	return key{qname: qname, qtype: qtype}
}

func minDNSMsgTTL(msg *dns.Msg) (minTTL int) {
	minTTL = math.MaxInt
	if msg != nil {
		for _, rr := range msg.Answer {
			if rr != nil {
				minTTL = min(minTTL, int(rr.Header().Ttl))
			}
		}
		for _, rr := range msg.Ns {
			if rr != nil {
				minTTL = min(minTTL, int(rr.Header().Ttl))
			}
		}
		for _, rr := range msg.Extra {
			if rr != nil {
				if rr.Header().Rrtype != dns.TypeOPT {
					minTTL = min(minTTL, int(rr.Header().Ttl))
				}
			}
		}
	}
	if minTTL == math.MaxInt {
		minTTL = -1
	}
	return
}
