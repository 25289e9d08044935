package recursor

import (
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

func normalizeName(name string) string {
	return dns.Fqdn(strings.ToLower(name))
}

// parentZone returns the delegation parent of zone, bottoming out at
// the root.
func parentZone(zone string) string {
	labels := dns.SplitDomainName(zone)
	if len(labels) <= 1 {
		return "."
	}
	return dns.Fqdn(strings.Join(labels[1:], "."))
}

// zoneFor derives the target zone of a query. NS and DS records live
// at the delegation point in the parent, so for those the zone is the
// query name's parent.
func zoneFor(qname string, qtype uint16) string {
	if qtype == dns.TypeNS || qtype == dns.TypeDS {
		return parentZone(qname)
	}
	return qname
}

func newQueryMsg(qname string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(qname, qtype)
	m.RecursionDesired = false
	setEDNS(m)
	return m
}

func setEDNS(m *dns.Msg) {
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(1232)
	m.Extra = append(m.Extra, opt)
}

// delegationNS collects the NS owner names for zone from both the
// answer and authority sections of a response.
func delegationNS(m *dns.Msg, zone string) (out []string) {
	seen := map[string]struct{}{}
	for _, section := range [][]dns.RR{m.Answer, m.Ns} {
		for _, rr := range section {
			if ns, ok := rr.(*dns.NS); ok {
				if strings.EqualFold(ns.Hdr.Name, zone) {
					host := normalizeName(ns.Ns)
					if _, dup := seen[host]; !dup {
						seen[host] = struct{}{}
						out = append(out, host)
					}
				}
			}
		}
	}
	return
}

// glueAddresses maps nameserver hostnames to the glue addresses the
// response carries for them.
func glueAddresses(m *dns.Msg) map[string][]netip.Addr {
	glue := map[string][]netip.Addr{}
	for _, rr := range m.Extra {
		var addr netip.Addr
		switch a := rr.(type) {
		case *dns.A:
			addr = ipToAddr(a.A)
		case *dns.AAAA:
			addr = ipToAddr(a.AAAA)
		default:
			continue
		}
		if addr.IsValid() {
			host := normalizeName(rr.Header().Name)
			glue[host] = append(glue[host], addr)
		}
	}
	for host, addrs := range glue {
		glue[host] = dedupAddrs(addrs)
	}
	return glue
}

// answerAddresses extracts the A/AAAA addresses owned by host from a
// response's answer section.
func answerAddresses(m *dns.Msg, host string) (addrs []netip.Addr) {
	if m == nil {
		return nil
	}
	for _, rr := range m.Answer {
		if !strings.EqualFold(rr.Header().Name, host) {
			continue
		}
		switch a := rr.(type) {
		case *dns.A:
			if addr := ipToAddr(a.A); addr.IsValid() {
				addrs = append(addrs, addr)
			}
		case *dns.AAAA:
			if addr := ipToAddr(a.AAAA); addr.IsValid() {
				addrs = append(addrs, addr)
			}
		}
	}
	return dedupAddrs(addrs)
}

func dedupAddrs(addrs []netip.Addr) []netip.Addr {
	seen := map[netip.Addr]struct{}{}
	var out []netip.Addr
	for _, addr := range addrs {
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

func ipToAddr(ip net.IP) (addr netip.Addr) {
	if ip != nil {
		if v4 := ip.To4(); v4 != nil {
			addr = netip.AddrFrom4([4]byte(v4))
		} else if v6 := ip.To16(); v6 != nil {
			addr = netip.AddrFrom16([16]byte(v6))
		}
	}
	return
}

func hasRRType(rrs []dns.RR, t uint16) bool {
	for _, rr := range rrs {
		if rr.Header().Rrtype == t {
			return true
		}
	}
	return false
}

func cnameTarget(resp *dns.Msg, owner string) (string, bool) {
	for _, rr := range resp.Answer {
		if c, ok := rr.(*dns.CNAME); ok && strings.EqualFold(c.Hdr.Name, owner) {
			return normalizeName(c.Target), true
		}
	}
	return "", false
}

func cnameChainRecords(rrs []dns.RR, owner string) (out []dns.RR) {
	for _, rr := range rrs {
		if cname, ok := rr.(*dns.CNAME); ok {
			if strings.EqualFold(cname.Hdr.Name, owner) {
				out = append(out, rr)
			}
		}
	}
	return
}

// prependChain rewrites msg to answer for qname, prefixing the CNAME
// records from resp that led to the chased target.
func prependChain(msg *dns.Msg, resp *dns.Msg, qname string) {
	if len(msg.Question) > 0 {
		msg.Question[0].Name = qname
	}
	if records := cnameChainRecords(resp.Answer, qname); len(records) > 0 {
		msg.Answer = append(append([]dns.RR(nil), records...), msg.Answer...)
	}
}

func cloneIfCached(msg *dns.Msg) (clone *dns.Msg) {
	clone = msg
	if msg != nil && msg.Zero {
		clone = msg.Copy()
		if clone != nil {
			clone.Zero = false
		}
	}
	return
}
