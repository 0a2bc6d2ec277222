package interceptor

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver turns a host:port into a dialable TCP address.
type Resolver interface {
	Resolve(ctx context.Context, hostport string) (*net.TCPAddr, error)
}

// DNSResolver queries one DNS server directly instead of going through the
// system resolver.
type DNSResolver struct {
	Server  string // host:port, port 53 when omitted
	Timeout time.Duration
}

func NewDNSResolver(server string) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{Server: server, Timeout: 5 * time.Second}
}

// Resolve looks up A records first and falls back to AAAA.
func (r *DNSResolver) Resolve(ctx context.Context, hostport string) (*net.TCPAddr, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	portNum, err := net.LookupPort("tcp", port)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		return &net.TCPAddr{IP: ip, Port: portNum}, nil
	}
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ip, err := r.lookup(ctx, host, qtype)
		if err != nil {
			return nil, err
		}
		if ip != nil {
			return &net.TCPAddr{IP: ip, Port: portNum}, nil
		}
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, Server: r.Server, IsNotFound: true}
}

func (r *DNSResolver) lookup(ctx context.Context, host string, qtype uint16) (net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: r.Timeout}
	in, _, err := c.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return nil, &net.DNSError{Err: err.Error(), Name: host, Server: r.Server, IsTimeout: isTimeout(err)}
	}
	if in.Rcode == dns.RcodeNameError {
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: r.Server, IsNotFound: true}
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, &net.DNSError{Err: fmt.Sprintf("dns rcode %s", dns.RcodeToString[in.Rcode]), Name: host, Server: r.Server}
	}
	for _, rr := range in.Answer {
		switch a := rr.(type) {
		case *dns.A:
			return a.A, nil
		case *dns.AAAA:
			return a.AAAA, nil
		}
	}
	return nil, nil
}

// resolvingDialer resolves names through r before dialing.
func resolvingDialer(r Resolver, d *net.Dialer) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !strings.HasPrefix(network, "tcp") {
			return d.DialContext(ctx, network, addr)
		}
		tcpAddr, err := r.Resolve(ctx, addr)
		if err != nil {
			return nil, err
		}
		return d.DialContext(ctx, network, tcpAddr.String())
	}
}
