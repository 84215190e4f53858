//go:build linux

package netycat

import (
	"golang.org/x/sys/unix"
)

// Datagram is one received UDP datagram: its size and where it came from.
type Datagram struct {
	N    int
	From UDPEndpoint
}

// UDPSocket is a connectionless UDP socket.
type UDPSocket struct {
	sock *Socket
}

// NewUDPSocket returns an unbound socket. If r is nil only the
// blocking operations are available.
func NewUDPSocket(r *Reactor) *UDPSocket {
	return &UDPSocket{sock: NewSocket(r)}
}

// Socket returns the underlying socket primitive.
func (u *UDPSocket) Socket() *Socket {
	return u.sock
}

func (u *UDPSocket) open(family int) error {
	if u.sock.state != sockEmpty {
		return nil
	}
	return u.sock.Open(family, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
}

// Bind creates a socket of the endpoint's family and binds it to ep.
func (u *UDPSocket) Bind(ep UDPEndpoint) error {
	family, sa, err := toSockaddr(ep.Address, ep.Port)
	if err != nil {
		return err
	}
	if err := u.open(family); err != nil {
		return err
	}
	return u.sock.Bind(sa)
}

// MustBind is like [UDPSocket.Bind] but panics on error.
func (u *UDPSocket) MustBind(ep UDPEndpoint) {
	mustDo(u.Bind(ep))
}

// BindPort binds to port on every IPv4 interface.
func (u *UDPSocket) BindPort(port uint16) error {
	return u.Bind(UDPEndpoint{Address: IPv4Any, Port: port})
}

// MustBindPort is like [UDPSocket.BindPort] but panics on error.
func (u *UDPSocket) MustBindPort(port uint16) {
	mustDo(u.BindPort(port))
}

// ReadFrom receives one datagram into p and returns its size and source.
func (u *UDPSocket) ReadFrom(p []byte) (int, UDPEndpoint, error) {
	n, addr, port, err := u.sock.ReadFrom(p)
	return n, UDPEndpoint{Address: addr, Port: port}, err
}

// MustReadFrom is like [UDPSocket.ReadFrom] but panics on error.
func (u *UDPSocket) MustReadFrom(p []byte) (int, UDPEndpoint) {
	n, from, err := u.ReadFrom(p)
	mustDo(err)
	return n, from
}

// ReadFromAsync is the callback form of [UDPSocket.ReadFrom].
func (u *UDPSocket) ReadFromAsync(p []byte, callback func(int, UDPEndpoint, error)) {
	u.sock.ReadFromAsync(p, func(n int, addr IPAddress, port uint16, err error) {
		callback(n, UDPEndpoint{Address: addr, Port: port}, err)
	})
}

// ReadFromFuture is the future form of [UDPSocket.ReadFromAsync].
func (u *UDPSocket) ReadFromFuture(p []byte) *Future[Datagram] {
	return futureOf(func(callback func(Datagram, error)) {
		u.ReadFromAsync(p, func(n int, from UDPEndpoint, err error) {
			callback(Datagram{N: n, From: from}, err)
		})
	})
}

// WriteTo sends p as one datagram to ep. An unbound socket is created
// with the family of ep and bound to an ephemeral port by the OS.
func (u *UDPSocket) WriteTo(p []byte, ep UDPEndpoint) (int, error) {
	family, err := addressFamily(ep.Address)
	if err != nil {
		return 0, err
	}
	if err := u.open(family); err != nil {
		return 0, err
	}
	return u.sock.WriteTo(p, ep.Address, ep.Port)
}

// MustWriteTo is like [UDPSocket.WriteTo] but panics on error.
func (u *UDPSocket) MustWriteTo(p []byte, ep UDPEndpoint) int {
	return must(u.WriteTo(p, ep))
}

// WriteToAsync is the callback form of [UDPSocket.WriteTo].
func (u *UDPSocket) WriteToAsync(p []byte, ep UDPEndpoint, callback func(int, error)) {
	if u.sock.reactor == nil {
		callback(0, ErrNoReactor)
		return
	}
	family, err := addressFamily(ep.Address)
	if err == nil {
		err = u.open(family)
	}
	if err != nil {
		u.sock.reactor.later("sendto", err, callback)
		return
	}
	u.sock.WriteToAsync(p, ep.Address, ep.Port, callback)
}

// WriteToFuture is the future form of [UDPSocket.WriteToAsync].
func (u *UDPSocket) WriteToFuture(p []byte, ep UDPEndpoint) *Future[int] {
	return futureOf(func(callback func(int, error)) {
		u.WriteToAsync(p, ep, callback)
	})
}

// LocalEndpoint returns the endpoint the socket is bound to.
func (u *UDPSocket) LocalEndpoint() (UDPEndpoint, error) {
	addr, port, err := u.sock.LocalAddr()
	return UDPEndpoint{Address: addr, Port: port}, err
}

// Close closes the socket.
func (u *UDPSocket) Close() error {
	return u.sock.Close()
}
