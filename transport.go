package recursor

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/proxy"
)

// Conn is an established exchange channel to a single nameserver.
// Exchange sends one request and waits for the matching response.
// Implementations serialize concurrent Exchange calls on the same Conn.
type Conn interface {
	Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error)
	Close() error
}

// ConnectionProvider owns transport concerns: given a nameserver
// address it produces a Conn capable of exchanging DNS messages.
type ConnectionProvider interface {
	Dial(ctx context.Context, addr netip.AddrPort) (Conn, error)
}

// UDPProvider is the default ConnectionProvider. It dials datagram
// connections through a proxy.ContextDialer and disables IPv6 targets
// once the local network proves unable to reach them.
type UDPProvider struct {
	proxy.ContextDialer
	Timeout time.Duration // per-exchange deadline when the context has none

	mu      sync.RWMutex // protects following
	useIPv6 bool
}

var ErrIPv6Disabled = errors.New("recursor: ipv6 disabled")

func NewUDPProvider() *UDPProvider {
	return &UDPProvider{
		ContextDialer: &net.Dialer{},
		Timeout:       3 * time.Second,
		useIPv6:       true,
	}
}

func (p *UDPProvider) Dial(ctx context.Context, addr netip.AddrPort) (conn Conn, err error) {
	if addr.Addr().Is6() && !p.usingIPv6() {
		return nil, ErrIPv6Disabled
	}
	var rawConn net.Conn
	if rawConn, err = p.DialContext(ctx, "udp", addr.String()); err != nil {
		if addr.Addr().Is6() {
			p.maybeDisableIPv6(err)
		}
		return nil, err
	}
	dnsConn := &dns.Conn{Conn: rawConn, UDPSize: dns.DefaultMsgSize}
	return &datagramConn{conn: dnsConn, timeout: p.Timeout}, nil
}

func (p *UDPProvider) usingIPv6() (yes bool) {
	p.mu.RLock()
	yes = p.useIPv6
	p.mu.RUnlock()
	return
}

func (p *UDPProvider) maybeDisableIPv6(err error) (disabled bool) {
	if err != nil {
		errstr := err.Error()
		if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) ||
			strings.Contains(errstr, "network is unreachable") || strings.Contains(errstr, "no route to host") {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.useIPv6 {
				disabled = true
				p.useIPv6 = false
			}
		}
	}
	return
}

// datagramConn wraps a dns.Conn. The mutex serializes exchanges so
// that responses cannot be interleaved between concurrent senders.
type datagramConn struct {
	mu      sync.Mutex
	conn    *dns.Conn
	timeout time.Duration
}

func (c *datagramConn) Exchange(ctx context.Context, m *dns.Msg) (resp *dns.Msg, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline := exchangeDeadline(ctx, c.timeout); !deadline.IsZero() {
		_ = c.conn.SetDeadline(deadline)
	}
	if err = c.conn.WriteMsg(m); err == nil {
		if resp, err = c.conn.ReadMsg(); err == nil {
			if resp.Id != m.Id {
				resp, err = nil, dns.ErrId
			}
		}
	}
	return
}

func (c *datagramConn) Close() error {
	return c.conn.Close()
}

func exchangeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var deadline time.Time
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
	}
	if timeout > 0 {
		limit := time.Now().Add(timeout)
		if deadline.IsZero() || limit.Before(deadline) {
			deadline = limit
		}
	}
	return deadline
}
