//go:build linux

package netycat

import (
	"golang.org/x/sys/unix"
)

// TCPServer is a listening TCP socket.
type TCPServer struct {
	sock *Socket
}

// NewTCPServer returns a server whose accepted connections use r.
// If r is nil only the blocking operations are available.
func NewTCPServer(r *Reactor) *TCPServer {
	return &TCPServer{sock: NewSocket(r)}
}

// Socket returns the underlying socket primitive.
func (s *TCPServer) Socket() *Socket {
	return s.sock
}

// Listen creates a socket of the endpoint's family, binds it to ep and
// starts listening. A backlog of zero or less means [DefaultBacklog].
func (s *TCPServer) Listen(ep TCPEndpoint, backlog int) error {
	family, sa, err := toSockaddr(ep.Address, ep.Port)
	if err != nil {
		return err
	}
	if err := s.sock.Open(family, unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		return err
	}
	if err := s.listen(sa, backlog); err != nil {
		_ = s.sock.Close()
		return err
	}
	return nil
}

func (s *TCPServer) listen(sa unix.Sockaddr, backlog int) error {
	if err := s.sock.SetsockoptInt(unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if err := s.sock.Bind(sa); err != nil {
		return err
	}
	return s.sock.Listen(backlog)
}

// MustListen is like [TCPServer.Listen] but panics on error.
func (s *TCPServer) MustListen(ep TCPEndpoint, backlog int) {
	mustDo(s.Listen(ep, backlog))
}

// Accept waits for the next incoming connection.
func (s *TCPServer) Accept() (*TCPSocket, error) {
	conn := NewTCPSocket(s.sock.reactor)
	if err := s.sock.Accept(conn.sock); err != nil {
		return nil, err
	}
	return conn, nil
}

// MustAccept is like [TCPServer.Accept] but panics on error.
func (s *TCPServer) MustAccept() *TCPSocket {
	return must(s.Accept())
}

// AcceptAsync waits for the next incoming connection and passes it to callback.
func (s *TCPServer) AcceptAsync(callback func(*TCPSocket, error)) {
	conn := NewTCPSocket(s.sock.reactor)
	s.sock.AcceptAsync(conn.sock, func(err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(conn, nil)
	})
}

// AcceptFuture is the future form of [TCPServer.AcceptAsync].
func (s *TCPServer) AcceptFuture() *Future[*TCPSocket] {
	return futureOf(s.AcceptAsync)
}

// LocalEndpoint returns the endpoint the server is listening on.
// With port 0 this reports the port the OS picked.
func (s *TCPServer) LocalEndpoint() (TCPEndpoint, error) {
	addr, port, err := s.sock.LocalAddr()
	return TCPEndpoint{Address: addr, Port: port}, err
}

// Close stops listening.
func (s *TCPServer) Close() error {
	return s.sock.Close()
}

// TCPSocket is a TCP connection. It implements [io.Reader] and [io.Writer]
// with its blocking operations.
type TCPSocket struct {
	sock *Socket
}

// NewTCPSocket returns an unconnected socket. If r is nil only the
// blocking operations are available.
func NewTCPSocket(r *Reactor) *TCPSocket {
	return &TCPSocket{sock: NewSocket(r)}
}

// Socket returns the underlying socket primitive.
func (t *TCPSocket) Socket() *Socket {
	return t.sock
}

// open creates a handle matching the family of the target endpoint.
func (t *TCPSocket) open(ep TCPEndpoint) (unix.Sockaddr, error) {
	family, sa, err := toSockaddr(ep.Address, ep.Port)
	if err != nil {
		return nil, err
	}
	if t.sock.state == sockEmpty {
		if err := t.sock.Open(family, unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
			return nil, err
		}
	}
	return sa, nil
}

// Connect connects to ep.
func (t *TCPSocket) Connect(ep TCPEndpoint) error {
	sa, err := t.open(ep)
	if err != nil {
		return err
	}
	return t.sock.Connect(sa)
}

// MustConnect is like [TCPSocket.Connect] but panics on error.
func (t *TCPSocket) MustConnect(ep TCPEndpoint) {
	mustDo(t.Connect(ep))
}

// ConnectAsync connects to ep and reports the outcome to callback.
func (t *TCPSocket) ConnectAsync(ep TCPEndpoint, callback func(error)) {
	if t.sock.reactor == nil {
		callback(ErrNoReactor)
		return
	}
	sa, err := t.open(ep)
	if err != nil {
		t.sock.reactor.later("connect", err, func(_ int, err error) { callback(err) })
		return
	}
	t.sock.ConnectAsync(sa, callback)
}

// ConnectFuture is the future form of [TCPSocket.ConnectAsync].
func (t *TCPSocket) ConnectFuture(ep TCPEndpoint) *Future[struct{}] {
	return futureOf(func(callback func(struct{}, error)) {
		t.ConnectAsync(ep, func(err error) {
			callback(struct{}{}, err)
		})
	})
}

// Read reads at most len(p) bytes. The end of the stream is reported as [io.EOF].
func (t *TCPSocket) Read(p []byte) (int, error) {
	return t.sock.Read(p)
}

// MustRead is like [TCPSocket.Read] but panics on error.
func (t *TCPSocket) MustRead(p []byte) int {
	return must(t.Read(p))
}

// ReadAsync is the callback form of [TCPSocket.Read].
func (t *TCPSocket) ReadAsync(p []byte, callback func(int, error)) {
	t.sock.ReadAsync(p, callback)
}

// ReadFuture is the future form of [TCPSocket.ReadAsync].
func (t *TCPSocket) ReadFuture(p []byte) *Future[int] {
	return futureOf(func(callback func(int, error)) {
		t.ReadAsync(p, callback)
	})
}

// ReadAll reads exactly len(p) bytes.
func (t *TCPSocket) ReadAll(p []byte) (int, error) {
	return t.sock.ReadAll(p)
}

// MustReadAll is like [TCPSocket.ReadAll] but panics on error.
func (t *TCPSocket) MustReadAll(p []byte) int {
	return must(t.ReadAll(p))
}

// ReadAllAsync is the callback form of [TCPSocket.ReadAll].
func (t *TCPSocket) ReadAllAsync(p []byte, callback func(int, error)) {
	t.sock.ReadAllAsync(p, callback)
}

// ReadAllFuture is the future form of [TCPSocket.ReadAllAsync].
func (t *TCPSocket) ReadAllFuture(p []byte) *Future[int] {
	return futureOf(func(callback func(int, error)) {
		t.ReadAllAsync(p, callback)
	})
}

// Write writes at most len(p) bytes.
func (t *TCPSocket) Write(p []byte) (int, error) {
	return t.sock.Write(p)
}

// MustWrite is like [TCPSocket.Write] but panics on error.
func (t *TCPSocket) MustWrite(p []byte) int {
	return must(t.Write(p))
}

// WriteAsync is the callback form of [TCPSocket.Write].
func (t *TCPSocket) WriteAsync(p []byte, callback func(int, error)) {
	t.sock.WriteAsync(p, callback)
}

// WriteFuture is the future form of [TCPSocket.WriteAsync].
func (t *TCPSocket) WriteFuture(p []byte) *Future[int] {
	return futureOf(func(callback func(int, error)) {
		t.WriteAsync(p, callback)
	})
}

// WriteAll writes all of p.
func (t *TCPSocket) WriteAll(p []byte) (int, error) {
	return t.sock.WriteAll(p)
}

// MustWriteAll is like [TCPSocket.WriteAll] but panics on error.
func (t *TCPSocket) MustWriteAll(p []byte) int {
	return must(t.WriteAll(p))
}

// WriteAllAsync is the callback form of [TCPSocket.WriteAll].
func (t *TCPSocket) WriteAllAsync(p []byte, callback func(int, error)) {
	t.sock.WriteAllAsync(p, callback)
}

// WriteAllFuture is the future form of [TCPSocket.WriteAllAsync].
func (t *TCPSocket) WriteAllFuture(p []byte) *Future[int] {
	return futureOf(func(callback func(int, error)) {
		t.WriteAllAsync(p, callback)
	})
}

// RemoteEndpoint returns the endpoint of the connected peer.
func (t *TCPSocket) RemoteEndpoint() (TCPEndpoint, error) {
	addr, port, err := t.sock.RemoteAddr()
	return TCPEndpoint{Address: addr, Port: port}, err
}

// LocalEndpoint returns the local endpoint of the connection.
func (t *TCPSocket) LocalEndpoint() (TCPEndpoint, error) {
	addr, port, err := t.sock.LocalAddr()
	return TCPEndpoint{Address: addr, Port: port}, err
}

// Close closes the connection.
func (t *TCPSocket) Close() error {
	return t.sock.Close()
}
