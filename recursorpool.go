package recursor

import (
	"context"
	"strconv"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

// RecursorPool couples a zone with its NameServerPool and an in-flight
// request ledger. Concurrent identical lookups against the same pool
// share a single network round trip: the first caller triggers the
// send, the rest attach to its result. Ledger entries exist only while
// the shared send is outstanding; singleflight removes them once the
// result is delivered, success or failure.
type RecursorPool struct {
	zone     string
	ns       *NameServerPool
	inflight singleflight.Group
}

func newRecursorPool(zone string, ns *NameServerPool) *RecursorPool {
	return &RecursorPool{zone: zone, ns: ns}
}

func (p *RecursorPool) Zone() string { return p.zone }

// Lookup sends m through the pool, deduplicating against concurrent
// callers with the same question. Shared waiters receive a copy so
// that no caller can mutate another's response.
func (p *RecursorPool) Lookup(ctx context.Context, m *dns.Msg) (resp *dns.Msg, err error) {
	ch := p.inflight.DoChan(lookupKey(m), func() (any, error) {
		return p.ns.Send(ctx, m)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp = res.Val.(*dns.Msg)
		if res.Shared {
			resp = resp.Copy()
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookupKey identifies the outgoing request by its normalized question
// rather than its message ID, so that independently constructed but
// identical queries coalesce.
func lookupKey(m *dns.Msg) string {
	q := m.Question[0]
	return normalizeName(q.Name) + "/" + strconv.Itoa(int(q.Qtype)) + "/" + strconv.Itoa(int(q.Qclass))
}
