//go:build linux

package netycat

import (
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// DefaultBacklog is the listen backlog used when none is given.
const DefaultBacklog = 128

type sockState uint8

const (
	sockEmpty       sockState = iota // no handle
	sockUnknown                      // handle installed with SetFd, triple not yet queried
	sockFamilyKnown                  // family, type and protocol known
	sockBound
	sockListening
	sockConnected
)

var errNotOpen = fmt.Errorf("%w: socket has no handle", ErrSocketState)

// Socket owns one native socket handle and drives it through the OS
// socket calls. Every operation has a blocking form and, when the socket
// was created with a [Reactor], a callback form; both share the same
// non-blocking attempt and differ only in how they wait for readiness.
//
// Buffers passed to the callback forms must not be reused until the
// callback has run.
type Socket struct {
	reactor *Reactor
	fd      int
	state   sockState
	family  int
	sotype  int
	proto   int
}

// NewSocket returns an empty socket. If r is nil the socket only
// supports the blocking forms of its operations.
func NewSocket(r *Reactor) *Socket {
	return &Socket{reactor: r, fd: -1}
}

// Reactor returns the reactor the socket was created with, if any.
func (s *Socket) Reactor() *Reactor {
	return s.reactor
}

// Fd returns the native handle, or -1 when the socket has none.
func (s *Socket) Fd() int {
	if s.state == sockEmpty {
		return -1
	}
	return s.fd
}

// Open creates the native handle and attaches it to the reactor, if any.
func (s *Socket) Open(family, sotype, proto int) error {
	if s.state != sockEmpty {
		return fmt.Errorf("%w: socket already has a handle", ErrSocketState)
	}
	fd, err := unix.Socket(family, sotype|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return opError("socket", "", err)
	}
	if err := s.install(fd, family, sotype, proto); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// SetFd takes ownership of an existing handle. Its family, type and
// protocol are queried from the OS the first time they are needed.
func (s *Socket) SetFd(fd int) error {
	if s.state != sockEmpty {
		return fmt.Errorf("%w: socket already has a handle", ErrSocketState)
	}
	return s.install(fd, 0, 0, 0)
}

func (s *Socket) install(fd, family, sotype, proto int) error {
	if s.reactor != nil {
		if err := s.reactor.AttachHandle(fd); err != nil {
			return err
		}
	}
	s.fd = fd
	s.family, s.sotype, s.proto = family, sotype, proto
	s.state = sockFamilyKnown
	if family == 0 {
		s.state = sockUnknown
	}
	return nil
}

// Info returns the family, type and protocol of the handle.
func (s *Socket) Info() (family, sotype, proto int, err error) {
	if err := s.knowFamily(); err != nil {
		return 0, 0, 0, err
	}
	return s.family, s.sotype, s.proto, nil
}

// knowFamily queries the triple of a handle installed with SetFd. The
// query happens once, whatever state the handle has reached since.
func (s *Socket) knowFamily() error {
	if s.state == sockEmpty {
		return errNotOpen
	}
	if s.family != 0 {
		return nil
	}
	family, sotype, proto, err := socketInfo(s.fd)
	if err != nil {
		return opError("getsockopt", "", err)
	}
	s.family, s.sotype, s.proto = family, sotype, proto
	if s.state == sockUnknown {
		s.state = sockFamilyKnown
	}
	return nil
}

// SetsockoptInt sets an integer socket option on the handle.
func (s *Socket) SetsockoptInt(level, opt, value int) error {
	if s.state == sockEmpty {
		return errNotOpen
	}
	return opError("setsockopt", "", unix.SetsockoptInt(s.fd, level, opt, value))
}

// Bind assigns a local address to the handle.
func (s *Socket) Bind(sa unix.Sockaddr) error {
	if err := s.knowFamily(); err != nil {
		return err
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return opError("bind", sockaddrString(sa), err)
	}
	s.state = max(s.state, sockBound)
	return nil
}

// Listen marks the handle as accepting connections. A backlog of zero
// or less means [DefaultBacklog].
func (s *Socket) Listen(backlog int) error {
	if err := s.knowFamily(); err != nil {
		return err
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return opError("listen", "", err)
	}
	s.state = sockListening
	return nil
}

// Connect connects the handle to sa, blocking until the connection is
// established or has failed.
func (s *Socket) Connect(sa unix.Sockaddr) error {
	if err := s.knowFamily(); err != nil {
		return err
	}
	if _, err := s.runSync(dirWrite, connectAttempt(s.fd, sa)); err != nil {
		return opError("connect", sockaddrString(sa), err)
	}
	s.state = sockConnected
	return nil
}

// ConnectAsync connects the handle to sa and reports the outcome to callback.
// IP sockets that are not yet bound are bound to the wildcard address first.
func (s *Socket) ConnectAsync(sa unix.Sockaddr, callback func(error)) {
	cb := func(_ int, err error) { callback(err) }
	r, ok := s.startAsync("connect", cb)
	if !ok {
		return
	}
	if err := s.bindWildcard(); err != nil {
		r.later("connect", err, cb)
		return
	}

	addr := sockaddrString(sa)
	r.submit("connect", s.fd, dirWrite, connectAttempt(s.fd, sa), func(_ int, err error) {
		if err == nil {
			s.state = sockConnected
		}
		callback(opError("connect", addr, err))
	})
}

func (s *Socket) bindWildcard() error {
	if err := s.knowFamily(); err != nil {
		return err
	}
	if s.state >= sockBound || (s.family != unix.AF_INET && s.family != unix.AF_INET6) {
		return nil
	}
	sa, err := wildcardSockaddr(s.family)
	if err != nil {
		return err
	}
	return s.Bind(sa)
}

// connectAttempt starts a connection on the first call and checks on
// its progress on later ones. It reports errWouldBlock until the
// connection is established.
func connectAttempt(fd int, sa unix.Sockaddr) func() (int, error) {
	started := false
	return func() (int, error) {
		if !started {
			started = true
			switch err := unix.Connect(fd, sa); err {
			case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
				return 0, unix.EAGAIN
			default:
				return 0, err
			}
		}

		soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return 0, err
		}
		switch errno := unix.Errno(soerr); errno {
		case 0:
		case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
			return 0, unix.EAGAIN
		default:
			return 0, errno
		}
		// a writable event on a socket that has not connected yet
		// carries no error either
		if _, err := unix.Getpeername(fd); err != nil {
			return 0, unix.EAGAIN
		}
		return 0, nil
	}
}

// acceptScratch holds the state of one accept for its whole lifetime:
// the listener's triple for the accepted handle, and the accepted handle
// and peer once the call has succeeded.
type acceptScratch struct {
	listener int
	flags    int
	family   int
	sotype   int
	proto    int

	nfd  int
	peer unix.Sockaddr
}

func (a *acceptScratch) attempt() (int, error) {
	for {
		nfd, sa, err := unix.Accept4(a.listener, a.flags)
		if err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return 0, err
		}
		a.nfd, a.peer = nfd, sa
		return 0, nil
	}
}

func (s *Socket) prepareAccept(out *Socket) (*acceptScratch, error) {
	if out == nil || out.state != sockEmpty {
		return nil, fmt.Errorf("%w: accept target already has a handle", ErrSocketState)
	}
	if err := s.knowFamily(); err != nil {
		return nil, err
	}
	flags := unix.SOCK_CLOEXEC
	if out.reactor != nil {
		flags |= unix.SOCK_NONBLOCK
	}
	return &acceptScratch{
		listener: s.fd,
		flags:    flags,
		family:   s.family,
		sotype:   s.sotype,
		proto:    s.proto,
		nfd:      -1,
	}, nil
}

// finishAccept installs the accepted handle into out, closing it if that fails.
func (s *Socket) finishAccept(out *Socket, sc *acceptScratch, err error) error {
	if err != nil {
		return opError("accept", "", err)
	}
	if err := out.install(sc.nfd, sc.family, sc.sotype, sc.proto); err != nil {
		_ = unix.Close(sc.nfd)
		return err
	}
	out.state = sockConnected
	return nil
}

// Accept waits for an incoming connection and installs it into out,
// which must be empty.
func (s *Socket) Accept(out *Socket) error {
	sc, err := s.prepareAccept(out)
	if err != nil {
		return err
	}
	_, err = s.runSync(dirRead, sc.attempt)
	return s.finishAccept(out, sc, err)
}

// AcceptAsync waits for an incoming connection, installs it into out,
// which must be empty, and reports the outcome to callback.
func (s *Socket) AcceptAsync(out *Socket, callback func(error)) {
	cb := func(_ int, err error) { callback(err) }
	r, ok := s.startAsync("accept", cb)
	if !ok {
		return
	}
	sc, err := s.prepareAccept(out)
	if err != nil {
		r.later("accept", err, cb)
		return
	}
	r.submit("accept", s.fd, dirRead, sc.attempt, func(_ int, err error) {
		callback(s.finishAccept(out, sc, err))
	})
}

func (s *Socket) readAttempt(p []byte) func() (int, error) {
	fd, stream := s.fd, s.sotype != unix.SOCK_DGRAM
	return func() (int, error) {
		n, err := unix.Read(fd, p)
		if err != nil {
			return 0, err
		}
		if n == 0 && len(p) > 0 && stream {
			return 0, io.EOF
		}
		return n, nil
	}
}

func (s *Socket) writeAttempt(p []byte) func() (int, error) {
	fd := s.fd
	return func() (int, error) {
		n, err := unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// Read reads at most len(p) bytes. The end of a stream is reported as [io.EOF].
func (s *Socket) Read(p []byte) (int, error) {
	if err := s.knowFamily(); err != nil {
		return 0, err
	}
	n, err := s.runSync(dirRead, s.readAttempt(p))
	return n, opError("read", "", err)
}

// ReadAsync is the callback form of [Socket.Read].
func (s *Socket) ReadAsync(p []byte, callback func(int, error)) {
	r, ok := s.startAsync("read", callback)
	if !ok {
		return
	}
	if err := s.knowFamily(); err != nil {
		r.later("read", err, callback)
		return
	}
	r.submit("read", s.fd, dirRead, s.readAttempt(p), func(n int, err error) {
		callback(n, opError("read", "", err))
	})
}

// Write writes at most len(p) bytes and returns how many were written.
func (s *Socket) Write(p []byte) (int, error) {
	if s.state == sockEmpty {
		return 0, errNotOpen
	}
	n, err := s.runSync(dirWrite, s.writeAttempt(p))
	return n, opError("write", "", err)
}

// WriteAsync is the callback form of [Socket.Write].
func (s *Socket) WriteAsync(p []byte, callback func(int, error)) {
	r, ok := s.startAsync("write", callback)
	if !ok {
		return
	}
	r.submit("write", s.fd, dirWrite, s.writeAttempt(p), func(n int, err error) {
		callback(n, opError("write", "", err))
	})
}

// ReadAll reads exactly len(p) bytes. If the stream ends first it returns
// the number of bytes read and [ErrConnectionClosed].
func (s *Socket) ReadAll(p []byte) (int, error) {
	return transferAllSync(p, s.Read)
}

// ReadAllAsync is the callback form of [Socket.ReadAll]. The reads are
// issued one after the other.
func (s *Socket) ReadAllAsync(p []byte, callback func(int, error)) {
	r, ok := s.startAsync("read", callback)
	if !ok {
		return
	}
	if len(p) == 0 {
		r.later("read", nil, callback)
		return
	}
	transferAll(p, s.ReadAsync, callback)
}

// WriteAll writes all of p. If the peer stops accepting data first it
// returns the number of bytes written and [ErrConnectionClosed].
func (s *Socket) WriteAll(p []byte) (int, error) {
	return transferAllSync(p, s.Write)
}

// WriteAllAsync is the callback form of [Socket.WriteAll].
func (s *Socket) WriteAllAsync(p []byte, callback func(int, error)) {
	r, ok := s.startAsync("write", callback)
	if !ok {
		return
	}
	if len(p) == 0 {
		r.later("write", nil, callback)
		return
	}
	transferAll(p, s.WriteAsync, callback)
}

func recvfromAttempt(fd int, p []byte, from *rawSockaddr) func() (int, error) {
	return func() (int, error) {
		return sysRecvfrom(fd, p, from)
	}
}

func sendtoAttempt(fd int, p []byte, to *rawSockaddr) func() (int, error) {
	return func() (int, error) {
		return sysSendto(fd, p, to)
	}
}

// ReadFrom receives one datagram into p and returns its size and source.
func (s *Socket) ReadFrom(p []byte) (int, IPAddress, uint16, error) {
	if s.state == sockEmpty {
		return 0, nil, 0, errNotOpen
	}
	var from rawSockaddr
	n, err := s.runSync(dirRead, recvfromAttempt(s.fd, p, &from))
	if err != nil {
		return 0, nil, 0, opError("recvfrom", "", err)
	}
	addr, port, err := from.decode()
	return n, addr, port, err
}

// ReadFromAsync is the callback form of [Socket.ReadFrom].
func (s *Socket) ReadFromAsync(p []byte, callback func(n int, addr IPAddress, port uint16, err error)) {
	cb := func(n int, err error) { callback(n, nil, 0, err) }
	r, ok := s.startAsync("recvfrom", cb)
	if !ok {
		return
	}

	// the kernel fills in the source while the operation is parked
	from := new(rawSockaddr)
	r.submit("recvfrom", s.fd, dirRead, recvfromAttempt(s.fd, p, from), func(n int, err error) {
		if err != nil {
			callback(0, nil, 0, opError("recvfrom", "", err))
			return
		}
		addr, port, err := from.decode()
		callback(n, addr, port, err)
	})
}

func (s *Socket) prepareSendto(addr IPAddress, port uint16) (*rawSockaddr, error) {
	if err := s.knowFamily(); err != nil {
		return nil, err
	}
	family, err := addressFamily(addr)
	if err != nil {
		return nil, err
	}
	if family != s.family {
		return nil, fmt.Errorf("%w: cannot send to %v from a family %d socket", ErrAddressFamily, addr, s.family)
	}
	to := new(rawSockaddr)
	if err := to.encode(addr, port); err != nil {
		return nil, err
	}
	return to, nil
}

// WriteTo sends p as one datagram to addr:port.
func (s *Socket) WriteTo(p []byte, addr IPAddress, port uint16) (int, error) {
	to, err := s.prepareSendto(addr, port)
	if err != nil {
		return 0, err
	}
	n, err := s.runSync(dirWrite, sendtoAttempt(s.fd, p, to))
	return n, opError("sendto", formatEndpoint(addr, port), err)
}

// WriteToAsync is the callback form of [Socket.WriteTo].
func (s *Socket) WriteToAsync(p []byte, addr IPAddress, port uint16, callback func(int, error)) {
	r, ok := s.startAsync("sendto", callback)
	if !ok {
		return
	}
	to, err := s.prepareSendto(addr, port)
	if err != nil {
		r.later("sendto", err, callback)
		return
	}
	dst := formatEndpoint(addr, port)
	r.submit("sendto", s.fd, dirWrite, sendtoAttempt(s.fd, p, to), func(n int, err error) {
		callback(n, opError("sendto", dst, err))
	})
}

// RemoteAddr returns the address of the connected peer.
func (s *Socket) RemoteAddr() (IPAddress, uint16, error) {
	if s.state == sockEmpty {
		return nil, 0, errNotOpen
	}
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return nil, 0, opError("getpeername", "", err)
	}
	return fromSockaddr(sa)
}

// LocalAddr returns the address the handle is bound to.
func (s *Socket) LocalAddr() (IPAddress, uint16, error) {
	if s.state == sockEmpty {
		return nil, 0, errNotOpen
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil, 0, opError("getsockname", "", err)
	}
	return fromSockaddr(sa)
}

// Close detaches the handle from the reactor and closes it. Operations
// still pending on the handle complete with [net.ErrClosed] on the next
// loop iteration. Closing an empty socket reports [net.ErrClosed].
func (s *Socket) Close() error {
	if s.state == sockEmpty {
		return opError("close", "", net.ErrClosed)
	}

	fd := s.fd
	var err error
	if s.reactor != nil {
		err = s.reactor.detachHandle(fd)
	}
	s.fd, s.state = -1, sockEmpty
	s.family, s.sotype, s.proto = 0, 0, 0
	return multierr.Append(err, opError("close", "", unix.Close(fd)))
}

// runSync makes attempts until one does not block, waiting for readiness
// in between. Handles without a reactor are in blocking mode and rarely
// need to wait here.
func (s *Socket) runSync(dir opDir, attempt func() (int, error)) (int, error) {
	for {
		n, err := attempt()
		switch {
		case errors.Is(err, errInterrupted):
		case errors.Is(err, errWouldBlock):
			if err := pollWait(s.fd, dir); err != nil {
				return 0, opError("poll", "", err)
			}
		default:
			return n, err
		}
	}
}

// startAsync returns the reactor to submit to. Without one, callback
// receives [ErrNoReactor] immediately; an empty socket fails on the
// next loop iteration.
func (s *Socket) startAsync(kind string, callback func(int, error)) (*Reactor, bool) {
	if s.reactor == nil {
		callback(0, ErrNoReactor)
		return nil, false
	}
	if s.state == sockEmpty {
		s.reactor.later(kind, errNotOpen, callback)
		return nil, false
	}
	return s.reactor, true
}

func sockaddrString(sa unix.Sockaddr) string {
	addr, port, err := fromSockaddr(sa)
	if err != nil {
		return ""
	}
	return formatEndpoint(addr, port)
}
