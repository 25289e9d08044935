package recursor

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func testPool(p *fakeProvider, zone string, addrs ...string) *NameServerPool {
	var servers []*NameServer
	for _, addr := range addrs {
		servers = append(servers, NewNameServer("", netip.AddrPortFrom(netip.MustParseAddr(addr), DefaultDNSPort), p))
	}
	return NewNameServerPool(zone, servers, nil, StaticSelector{})
}

func TestPoolSendFallsBackToLaterCandidates(t *testing.T) {
	t.Parallel()
	p := newFakeProvider()
	p.breakServer("10.0.9.1", errors.New("connection refused"))
	// 10.0.9.2 dials fine but has no answer, so its exchange fails.
	p.add("10.0.9.3", "example.com.", dns.TypeA, answer(aRR("example.com.", "192.0.2.4")))

	pool := testPool(p, "example.com.", "10.0.9.1", "10.0.9.2", "10.0.9.3")
	resp, err := pool.Send(context.Background(), newQueryMsg("example.com.", dns.TypeA))
	require.NoError(t, err, "earlier failures must not surface once a candidate succeeds")
	require.Len(t, resp.Answer, 1)
	require.Equal(t, 1, p.callCount("10.0.9.3", "example.com.", dns.TypeA))
}

func TestPoolSendAggregatesAllFailures(t *testing.T) {
	t.Parallel()
	p := newFakeProvider()
	refused := errors.New("connection refused")
	p.breakServer("10.0.9.1", refused)
	p.breakServer("10.0.9.2", refused)

	pool := testPool(p, "example.com.", "10.0.9.1", "10.0.9.2")
	_, err := pool.Send(context.Background(), newQueryMsg("example.com.", dns.TypeA))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNoReachableNameServer)

	var poolErr *PoolError
	require.ErrorAs(t, err, &poolErr)
	require.Equal(t, "example.com.", poolErr.Zone)
	require.Len(t, poolErr.Attempts, 2)
	require.ErrorIs(t, poolErr, refused)
}

func TestPoolSendFailureDoesNotDisableCandidate(t *testing.T) {
	t.Parallel()
	p := newFakeProvider()
	pool := testPool(p, "example.com.", "10.0.9.1")

	_, err := pool.Send(context.Background(), newQueryMsg("example.com.", dns.TypeA))
	require.Error(t, err)

	// The candidate stays in the pool: once it starts answering, the
	// same pool succeeds.
	p.add("10.0.9.1", "example.com.", dns.TypeA, answer(aRR("example.com.", "192.0.2.4")))
	resp, err := pool.Send(context.Background(), newQueryMsg("example.com.", dns.TypeA))
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
}

func TestPoolSendStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	p := newFakeProvider()
	pool := testPool(p, "example.com.", "10.0.9.1", "10.0.9.2")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Send(ctx, newQueryMsg("example.com.", dns.TypeA))
	require.ErrorIs(t, err, ErrNoReachableNameServer)
	var poolErr *PoolError
	require.ErrorAs(t, err, &poolErr)
	require.ErrorIs(t, poolErr, context.Canceled)
}
