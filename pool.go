package recursor

import (
	"context"
	"fmt"

	"github.com/miekg/dns"
)

// NameServerPool is the ordered set of nameservers serving one zone.
// Dispatch walks the datagram candidates in selector order and returns
// the first successful response. The stream set is reserved for future
// TCP dispatch and is not consulted.
type NameServerPool struct {
	zone     string
	datagram []*NameServer
	stream   []*NameServer
	selector Selector
}

func NewNameServerPool(zone string, datagram, stream []*NameServer, selector Selector) *NameServerPool {
	if selector == nil {
		selector = StaticSelector{}
	}
	return &NameServerPool{zone: zone, datagram: datagram, stream: stream, selector: selector}
}

func (p *NameServerPool) Zone() string { return p.zone }

// Send tries each candidate until one produces a response. A failed
// candidate stays in the pool; failure is surfaced per query, never by
// discarding servers. When every candidate fails the per-candidate
// errors are aggregated into a PoolError.
func (p *NameServerPool) Send(ctx context.Context, m *dns.Msg) (resp *dns.Msg, err error) {
	var attempts []error
	for _, ns := range p.selector.Order(p.datagram) {
		if err = ctx.Err(); err != nil {
			attempts = append(attempts, err)
			break
		}
		if resp, err = ns.Send(ctx, m); err == nil {
			return resp, nil
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", ns, err))
	}
	return nil, &PoolError{Zone: p.zone, Attempts: attempts}
}
