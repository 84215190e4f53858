//go:build linux

package netycat

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultDNSTimeout = 5 * time.Second

	// dnsMaxResponseSize is the UDP payload size advertised with EDNS0
	dnsMaxResponseSize = 4096
)

// DNSResolver asks a DNS server for the A and AAAA records of a name over
// this package's own [UDPSocket]. Both queries are sent at once and the
// lookup succeeds if either of them yields addresses.
type DNSResolver struct {
	Server UDPEndpoint
	// Timeout bounds a whole lookup; zero means five seconds.
	Timeout time.Duration
}

// NewDNSResolver returns a resolver querying server.
func NewDNSResolver(server UDPEndpoint) *DNSResolver {
	return &DNSResolver{Server: server}
}

func (d *DNSResolver) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return defaultDNSTimeout
}

// Resolve implements [Resolver]. It runs the lookup on a private reactor,
// honouring the deadline and cancellation of ctx.
func (d *DNSResolver) Resolve(ctx context.Context, name string) ([]IPAddress, error) {
	timeout := d.timeout()
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	r, err := NewReactor()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var addrs []IPAddress
	resErr := ErrNotReady
	lookup := d.start(r, name, timeout, func(a []IPAddress, err error) {
		addrs, resErr = a, err
	})

	stop := context.AfterFunc(ctx, func() {
		_ = r.Execute(func() {
			lookup.abort(context.Cause(ctx))
		})
	})
	defer stop()

	if err := r.Run(); err != nil {
		return nil, err
	}
	return addrs, resErr
}

// ResolveAsync looks name up on r and passes the result to callback on
// the reactor goroutine.
func (d *DNSResolver) ResolveAsync(r *Reactor, name string, callback func([]IPAddress, error)) {
	d.start(r, name, d.timeout(), callback)
}

// ResolveFuture is the future form of [DNSResolver.ResolveAsync].
func (d *DNSResolver) ResolveFuture(r *Reactor, name string) *Future[[]IPAddress] {
	return futureOf(func(callback func([]IPAddress, error)) {
		d.ResolveAsync(r, name, callback)
	})
}

// dnsLookup is the state of one lookup: the queries still unanswered,
// the addresses collected so far and the reason it was cut short, if any.
type dnsLookup struct {
	name     string
	server   UDPEndpoint
	sock     *UDPSocket
	timer    *Timer
	buf      []byte
	queries  map[uint16]uint16
	addrs    []IPAddress
	rcodeErr error
	failure  error
	done     bool
	callback func([]IPAddress, error)
}

func (d *DNSResolver) start(r *Reactor, name string, timeout time.Duration, callback func([]IPAddress, error)) *dnsLookup {
	l := &dnsLookup{
		name:     name,
		server:   d.Server,
		sock:     NewUDPSocket(r),
		buf:      make([]byte, dnsMaxResponseSize),
		queries:  make(map[uint16]uint16),
		callback: callback,
	}

	if addr, err := ParseIPAddress(name); err == nil {
		l.done = true
		r.later("resolve", nil, func(int, error) {
			callback([]IPAddress{addr}, nil)
		})
		return l
	}

	l.timer = r.Wait(timeout, func() {
		l.abort(fmt.Errorf("%w: looking up %s", ErrTimeout, name))
	})
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		raw, err := l.encode(qtype)
		if err != nil {
			r.later("resolve", err, func(_ int, err error) { l.fail(err) })
			return l
		}
		l.sock.WriteToAsync(raw, l.server, func(_ int, err error) {
			if err != nil {
				l.fail(err)
			}
		})
	}
	l.sock.ReadFromAsync(l.buf, l.onRead)
	return l
}

func (l *dnsLookup) encode(qtype uint16) ([]byte, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(l.name), qtype)
	msg.SetEdns0(dnsMaxResponseSize, false)
	for {
		if _, taken := l.queries[msg.Id]; !taken {
			break
		}
		msg.Id = dns.Id()
	}
	raw, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("dns: encoding %s query for %q: %w", dns.TypeToString[qtype], l.name, err)
	}
	l.queries[msg.Id] = qtype
	return raw, nil
}

func (l *dnsLookup) onRead(n int, from UDPEndpoint, err error) {
	if l.done {
		return
	}
	if err != nil {
		l.fail(err)
		return
	}

	// stray datagrams are dropped and the read reissued
	var reply dns.Msg
	if from.Compare(l.server) == 0 && reply.Unpack(l.buf[:n]) == nil && reply.Response {
		if qtype, ok := l.queries[reply.Id]; ok {
			delete(l.queries, reply.Id)
			l.collect(qtype, &reply)
		}
	}

	if len(l.queries) == 0 {
		l.finish(nil)
		return
	}
	l.sock.ReadFromAsync(l.buf, l.onRead)
}

func (l *dnsLookup) collect(qtype uint16, reply *dns.Msg) {
	switch reply.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		l.rcodeErr = fmt.Errorf("%w: %s", ErrDNSNoSuchHost, l.name)
		return
	case dns.RcodeRefused:
		l.rcodeErr = ErrDNSRefused
		return
	case dns.RcodeServerFailure:
		l.rcodeErr = ErrDNSServfail
		return
	default:
		l.rcodeErr = fmt.Errorf("%w: rcode %s", ErrDNSMisbehaving, dns.RcodeToString[reply.Rcode])
		return
	}

	for _, rr := range reply.Answer {
		var ip net.IP
		switch rr := rr.(type) {
		case *dns.A:
			ip = rr.A
		case *dns.AAAA:
			ip = rr.AAAA
		}
		if ip == nil || rr.Header().Rrtype != qtype {
			continue
		}
		if addr, err := IPAddressFromNetIP(ip, ""); err == nil {
			l.addrs = append(l.addrs, addr)
		}
	}
}

// abort cuts the lookup short. Closing the socket fails the pending
// operations, whose completions then report err.
func (l *dnsLookup) abort(err error) {
	if l.done || l.failure != nil {
		return
	}
	l.failure = err
	_ = l.sock.Close()
}

func (l *dnsLookup) fail(err error) {
	if l.failure != nil {
		err = l.failure
	}
	l.finish(err)
}

func (l *dnsLookup) finish(err error) {
	if l.done {
		return
	}
	l.done = true
	l.timer.Cancel()
	if l.failure == nil {
		_ = l.sock.Close()
	}

	if err != nil {
		l.callback(nil, err)
		return
	}
	if len(l.addrs) == 0 {
		err = l.rcodeErr
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrNoAddresses, l.name)
		}
		l.callback(nil, err)
		return
	}

	// IPv4 answers first, keeping the server's order within a family
	slices.SortStableFunc(l.addrs, func(a, b IPAddress) int {
		return cmp.Compare(a.Family(), b.Family())
	})
	l.callback(l.addrs, nil)
}
