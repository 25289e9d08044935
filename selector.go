package recursor

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// Selector decides the order in which a NameServerPool tries its
// candidates. Implementations must not mutate the input slice.
type Selector interface {
	Order(servers []*NameServer) []*NameServer
}

// StaticSelector keeps the configured candidate order.
type StaticSelector struct{}

func (StaticSelector) Order(servers []*NameServer) []*NameServer {
	return servers
}

// RTTSelector orders candidates by their last observed round-trip
// time. Servers without an observation sort last in configured order.
type RTTSelector struct {
	mu  sync.RWMutex
	rtt map[netip.AddrPort]time.Duration
}

func NewRTTSelector() *RTTSelector {
	return &RTTSelector{rtt: make(map[netip.AddrPort]time.Duration)}
}

// Observe records a round-trip measurement for addr.
func (s *RTTSelector) Observe(addr netip.AddrPort, rtt time.Duration) {
	s.mu.Lock()
	s.rtt[addr] = rtt
	s.mu.Unlock()
}

func (s *RTTSelector) Order(servers []*NameServer) []*NameServer {
	out := append([]*NameServer(nil), servers...)
	s.mu.RLock()
	defer s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := s.rtt[out[i].Addr]
		rj, jok := s.rtt[out[j].Addr]
		if iok != jok {
			return iok
		}
		return ri < rj
	})
	return out
}

// Probe measures each server by timing connection establishment and
// records the averaged result. Servers that fail to connect within
// cutoff keep no observation and therefore sort last.
func (s *RTTSelector) Probe(ctx context.Context, provider ConnectionProvider, servers []*NameServer, cutoff time.Duration) {
	if _, ok := ctx.Deadline(); !ok {
		newctx, cancel := context.WithTimeout(ctx, cutoff*2)
		defer cancel()
		ctx = newctx
	}
	var wg sync.WaitGroup
	for _, ns := range servers {
		wg.Add(1)
		go func(ns *NameServer) {
			defer wg.Done()
			if rtt, err := timeServer(ctx, provider, ns.Addr); err == nil && rtt <= cutoff {
				s.Observe(ns.Addr, rtt)
			}
		}(ns)
	}
	wg.Wait()
}

func timeServer(ctx context.Context, provider ConnectionProvider, addr netip.AddrPort) (rtt time.Duration, err error) {
	const numProbes = 3
	for i := 0; i < numProbes; i++ {
		now := time.Now()
		var conn Conn
		if conn, err = provider.Dial(ctx, addr); err != nil {
			return 0, err
		}
		rtt += time.Since(now)
		_ = conn.Close()
	}
	return rtt / numProbes, nil
}
