package recursor

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func testNameServer(p *fakeProvider, name, addr string) *NameServer {
	return NewNameServer(name, netip.AddrPortFrom(netip.MustParseAddr(addr), DefaultDNSPort), p)
}

func TestNameServerDialsLazilyAndReusesConnection(t *testing.T) {
	t.Parallel()
	p := newFakeProvider()
	p.add("10.0.9.1", "example.com.", dns.TypeA, answer(aRR("example.com.", "192.0.2.4")))
	p.add("10.0.9.1", "example.com.", dns.TypeAAAA, nodata())

	ns := testNameServer(p, "ns.example.com.", "10.0.9.1")
	require.Equal(t, 0, p.dialCount("10.0.9.1"), "no connection before the first send")

	_, err := ns.Send(context.Background(), newQueryMsg("example.com.", dns.TypeA))
	require.NoError(t, err)
	_, err = ns.Send(context.Background(), newQueryMsg("example.com.", dns.TypeAAAA))
	require.NoError(t, err)
	require.Equal(t, 1, p.dialCount("10.0.9.1"), "subsequent sends share the connection")
}

func TestNameServerRedialsAfterFailedExchange(t *testing.T) {
	t.Parallel()
	p := newFakeProvider()
	ns := testNameServer(p, "ns.example.com.", "10.0.9.1")

	_, err := ns.Send(context.Background(), newQueryMsg("example.com.", dns.TypeA))
	require.Error(t, err)
	require.Equal(t, 1, p.dialCount("10.0.9.1"))

	// The failed exchange dropped the connection; the next send dials
	// fresh and succeeds.
	p.add("10.0.9.1", "example.com.", dns.TypeA, answer(aRR("example.com.", "192.0.2.4")))
	resp, err := ns.Send(context.Background(), newQueryMsg("example.com.", dns.TypeA))
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	require.Equal(t, 2, p.dialCount("10.0.9.1"))
}

func TestNameServerDialFailureSurfaces(t *testing.T) {
	t.Parallel()
	p := newFakeProvider()
	refused := errors.New("connection refused")
	p.breakServer("10.0.9.1", refused)

	ns := testNameServer(p, "", "10.0.9.1")
	_, err := ns.Send(context.Background(), newQueryMsg("example.com.", dns.TypeA))
	require.ErrorIs(t, err, refused)
}

func TestNameServerString(t *testing.T) {
	t.Parallel()
	p := newFakeProvider()
	require.Equal(t, "ns.example.com.@10.0.9.1:53", testNameServer(p, "ns.example.com.", "10.0.9.1").String())
	require.Equal(t, "10.0.9.1:53", testNameServer(p, "", "10.0.9.1").String())
}
