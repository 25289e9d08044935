package recursor

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/miekg/dns"
)

// fakeProvider is an in-memory ConnectionProvider keyed by
// (server address, qname, qtype). It counts dials and per-key
// exchanges so tests can assert on network activity.
type fakeProvider struct {
	mu      sync.Mutex
	answers map[fakeKey]*dns.Msg
	broken  map[netip.Addr]error // addresses whose dial or exchange always fails
	calls   map[fakeKey]int
	dials   map[netip.Addr]int

	gate chan struct{} // when set, exchanges block until closed
}

type fakeKey struct {
	addr  netip.Addr
	qname string
	qtype uint16
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		answers: make(map[fakeKey]*dns.Msg),
		broken:  make(map[netip.Addr]error),
		calls:   make(map[fakeKey]int),
		dials:   make(map[netip.Addr]int),
	}
}

func (p *fakeProvider) add(addr, qname string, qtype uint16, msg *dns.Msg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers[fakeKey{netip.MustParseAddr(addr), dns.Fqdn(strings.ToLower(qname)), qtype}] = msg
}

func (p *fakeProvider) breakServer(addr string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broken[netip.MustParseAddr(addr)] = err
}

func (p *fakeProvider) callCount(addr, qname string, qtype uint16) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[fakeKey{netip.MustParseAddr(addr), dns.Fqdn(strings.ToLower(qname)), qtype}]
}

func (p *fakeProvider) totalCalls() (n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		n += c
	}
	return
}

func (p *fakeProvider) dialCount(addr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials[netip.MustParseAddr(addr)]
}

func (p *fakeProvider) Dial(ctx context.Context, addr netip.AddrPort) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.broken[addr.Addr()]; err != nil {
		return nil, err
	}
	p.dials[addr.Addr()]++
	return &fakeConn{provider: p, addr: addr.Addr()}, nil
}

type fakeConn struct {
	provider *fakeProvider
	addr     netip.Addr
}

func (c *fakeConn) Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	p := c.provider
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	q := m.Question[0]
	key := fakeKey{c.addr, strings.ToLower(q.Name), q.Qtype}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[key]++
	tmpl, ok := p.answers[key]
	if !ok {
		return nil, fmt.Errorf("no answer configured for %s %s at %s", dns.Type(q.Qtype), q.Name, c.addr)
	}
	resp := tmpl.Copy()
	resp.Id = m.Id
	resp.Question = []dns.Question{q}
	return resp, nil
}

func (c *fakeConn) Close() error { return nil }

// Response and record builders for fake delegation hierarchies.

func nsRR(zone, host string) dns.RR {
	return &dns.NS{
		Hdr: dns.RR_Header{Name: dns.Fqdn(zone), Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
		Ns:  dns.Fqdn(host),
	}
}

func aRR(name, ip string) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP(ip).To4(),
	}
}

func cnameRR(owner, target string) dns.RR {
	return &dns.CNAME{
		Hdr:    dns.RR_Header{Name: dns.Fqdn(owner), Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 300},
		Target: dns.Fqdn(target),
	}
}

// refer builds a referral: NS records in the authority section plus
// optional glue in the additional section.
func refer(ns []dns.RR, glue ...dns.RR) *dns.Msg {
	msg := new(dns.Msg)
	msg.Ns = append(msg.Ns, ns...)
	msg.Extra = append(msg.Extra, glue...)
	return msg
}

// answer builds an authoritative response with the given answer
// records.
func answer(rrs ...dns.RR) *dns.Msg {
	msg := new(dns.Msg)
	msg.Authoritative = true
	msg.Answer = append(msg.Answer, rrs...)
	return msg
}

// nodata builds an authoritative empty response.
func nodata() *dns.Msg {
	msg := new(dns.Msg)
	msg.Authoritative = true
	return msg
}

func rootsOf(addrs ...string) (out []netip.Addr) {
	for _, a := range addrs {
		out = append(out, netip.MustParseAddr(a))
	}
	return
}
