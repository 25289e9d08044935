package recursor

import (
	"context"
	"net/netip"
	"sync"

	"github.com/miekg/dns"
)

// NameServer couples one upstream address with a lazily established,
// shared connection. The connection is dialed on first use and reused
// by every query against this server until an exchange fails, at which
// point it is dropped so the next attempt redials.
type NameServer struct {
	Name string // owner name of the NS record, empty for root hints
	Addr netip.AddrPort

	provider ConnectionProvider
	mu       sync.Mutex // serializes establishing/replacing conn
	conn     Conn
}

func NewNameServer(name string, addr netip.AddrPort, provider ConnectionProvider) *NameServer {
	return &NameServer{Name: name, Addr: addr, provider: provider}
}

func (ns *NameServer) Send(ctx context.Context, m *dns.Msg) (resp *dns.Msg, err error) {
	var conn Conn
	if conn, err = ns.connect(ctx); err == nil {
		if resp, err = conn.Exchange(ctx, m); err != nil {
			ns.drop(conn)
		}
	}
	return
}

func (ns *NameServer) connect(ctx context.Context) (conn Conn, err error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.conn == nil {
		if ns.conn, err = ns.provider.Dial(ctx, ns.Addr); err != nil {
			return nil, err
		}
	}
	return ns.conn, nil
}

// drop discards conn if it is still the shared handle. A concurrent
// caller may already have replaced it; in that case the newer
// connection is left alone.
func (ns *NameServer) drop(conn Conn) {
	ns.mu.Lock()
	if ns.conn == conn {
		ns.conn = nil
	}
	ns.mu.Unlock()
	_ = conn.Close()
}

func (ns *NameServer) String() string {
	if ns.Name != "" {
		return ns.Name + "@" + ns.Addr.String()
	}
	return ns.Addr.String()
}
