//go:build linux

package netycat

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const helloMessage = "Hello, Netycat!"

func helloFrame() []byte {
	return append([]byte{byte(len(helloMessage))}, helloMessage...)
}

func listenLoopback(t *testing.T, r *Reactor) (*TCPServer, TCPEndpoint) {
	t.Helper()
	server := NewTCPServer(r)
	require.NoError(t, server.Listen(TCPEndpoint{Address: IPv4Any, Port: 0}, 0))
	ep, err := server.LocalEndpoint()
	require.NoError(t, err)
	require.NotZero(t, ep.Port)
	return server, TCPEndpoint{Address: IPv4Loopback, Port: ep.Port}
}

func TestTCP_HelloBlocking(t *testing.T) {
	server, target := listenLoopback(t, nil)
	defer server.Close()

	served := make(chan error, 1)
	go func() {
		conn, err := server.Accept()
		if err != nil {
			served <- err
			return
		}
		defer conn.Close()
		_, err = conn.WriteAll(helloFrame())
		served <- err
	}()

	client := NewTCPSocket(nil)
	client.MustConnect(target)
	defer client.Close()

	remote, err := client.RemoteEndpoint()
	require.NoError(t, err)
	assert.Equal(t, target, remote)

	size := make([]byte, 1)
	assert.Equal(t, 1, client.MustReadAll(size))
	require.Equal(t, byte(15), size[0])
	payload := make([]byte, size[0])
	assert.Equal(t, 15, client.MustReadAll(payload))
	assert.Equal(t, helloMessage, string(payload))

	require.NoError(t, <-served)

	// the server closed its end
	n, err := client.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
	n, err = client.ReadAll(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestTCP_HelloAsync(t *testing.T) {
	r := newTestReactor(t)
	server, target := listenLoopback(t, r)

	var serverErr, clientErr error
	var received string
	server.AcceptAsync(func(conn *TCPSocket, err error) {
		serverErr = errors.Join(err, server.Close())
		if err != nil {
			return
		}
		conn.WriteAllAsync(helloFrame(), func(n int, err error) {
			assert.Equal(t, 16, n)
			serverErr = errors.Join(serverErr, err, conn.Close())
		})
	})

	client := NewTCPSocket(r)
	client.ConnectAsync(target, func(err error) {
		if err != nil {
			clientErr = err
			return
		}
		size := make([]byte, 1)
		client.ReadAllAsync(size, func(_ int, err error) {
			if err != nil {
				clientErr = errors.Join(err, client.Close())
				return
			}
			payload := make([]byte, size[0])
			client.ReadAllAsync(payload, func(_ int, err error) {
				received = string(payload)
				clientErr = errors.Join(err, client.Close())
			})
		})
	})

	runReactor(t, r, 5*time.Second)
	assert.NoError(t, serverErr)
	assert.NoError(t, clientErr)
	assert.Equal(t, helloMessage, received)
	assert.Equal(t, 0, r.Outstanding())
}

func TestTCP_Futures(t *testing.T) {
	r := newTestReactor(t)
	server, target := listenLoopback(t, r)

	accepted := server.AcceptFuture()
	client := NewTCPSocket(r)
	connected := client.ConnectFuture(target)

	buf := make([]byte, len(helloMessage))
	var read *Future[int]
	Wait(WaitAll, accepted, connected).AddDoneCallback(func(err error) {
		if !assert.NoError(t, err) {
			return
		}
		conn, _ := accepted.Result()
		conn.WriteAllFuture([]byte(helloMessage)).AddDoneCallback(func(error) {
			assert.NoError(t, conn.Close())
			assert.NoError(t, server.Close())
		})
		read = client.ReadAllFuture(buf)
		read.AddDoneCallback(func(error) {
			assert.NoError(t, client.Close())
		})
	})

	runReactor(t, r, 5*time.Second)
	require.NotNil(t, read)
	n, err := read.Result()
	require.NoError(t, err)
	assert.Equal(t, len(helloMessage), n)
	assert.Equal(t, helloMessage, string(buf))
}

func TestTCP_ConnectRefused(t *testing.T) {
	// grab a free port, then stop listening on it
	server, target := listenLoopback(t, nil)
	require.NoError(t, server.Close())

	r := newTestReactor(t)
	client := NewTCPSocket(r)
	var connectErr error
	calls := 0
	client.ConnectAsync(target, func(err error) {
		calls++
		connectErr = err
	})
	runReactor(t, r, 5*time.Second)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, connectErr, unix.ECONNREFUSED)
	var opErr *OpError
	if assert.ErrorAs(t, connectErr, &opErr) {
		assert.Equal(t, "connect", opErr.Op)
	}
	assert.NoError(t, client.Close())

	assert.ErrorIs(t, NewTCPSocket(nil).Connect(target), unix.ECONNREFUSED)
}

// socketPair returns two connected stream sockets, the first attached to r.
func socketPair(t *testing.T, r *Reactor) (*Socket, *Socket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	a, b := NewSocket(r), NewSocket(nil)
	require.NoError(t, a.SetFd(fds[0]))
	require.NoError(t, b.SetFd(fds[1]))
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestSocket_ReadAllTrickle(t *testing.T) {
	r := newTestReactor(t)
	a, b := socketPair(t, r)

	// the peer sends one byte per millisecond
	msg := []byte(helloMessage)
	var sendNext func()
	sendNext = func() {
		_, err := b.Write(msg[:1])
		assert.NoError(t, err)
		msg = msg[1:]
		if len(msg) > 0 {
			r.Wait(time.Millisecond, sendNext)
		}
	}
	r.Wait(time.Millisecond, sendNext)

	buf := make([]byte, len(helloMessage))
	calls := 0
	a.ReadAllAsync(buf, func(n int, err error) {
		calls++
		assert.NoError(t, err)
		assert.Equal(t, len(helloMessage), n)
	})

	runReactor(t, r, 5*time.Second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, helloMessage, string(buf))
}

func TestSocket_ReadAllPeerCloses(t *testing.T) {
	r := newTestReactor(t)
	a, b := socketPair(t, r)

	_, err := b.Write([]byte("Hello"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	var gotN int
	var gotErr error
	a.ReadAllAsync(make([]byte, 10), func(n int, err error) {
		gotN, gotErr = n, err
	})
	runReactor(t, r, 5*time.Second)

	assert.Equal(t, 5, gotN)
	assert.ErrorIs(t, gotErr, ErrConnectionClosed)
}

func TestSocket_EmptyTransfers(t *testing.T) {
	r := newTestReactor(t)
	a, _ := socketPair(t, r)

	var results []error
	a.ReadAllAsync(nil, func(n int, err error) {
		assert.Zero(t, n)
		results = append(results, err)
	})
	a.WriteAllAsync(nil, func(n int, err error) {
		assert.Zero(t, n)
		results = append(results, err)
	})
	assert.Empty(t, results, "callbacks must not run inline")

	runReactor(t, r, time.Second)
	assert.Equal(t, []error{nil, nil}, results)
}

func TestSocket_LazyInfo(t *testing.T) {
	a, _ := socketPair(t, nil)
	assert.Equal(t, sockUnknown, a.state)

	family, sotype, _, err := a.Info()
	require.NoError(t, err)
	assert.Equal(t, unix.AF_UNIX, family)
	assert.Equal(t, unix.SOCK_STREAM, sotype)
	assert.Equal(t, sockFamilyKnown, a.state)

	assert.ErrorIs(t, a.SetFd(0), ErrSocketState)
}

func TestSocket_CloseFailsParkedRead(t *testing.T) {
	r := newTestReactor(t)
	a, _ := socketPair(t, r)

	var readErr error
	calls := 0
	a.ReadAsync(make([]byte, 16), func(_ int, err error) {
		calls++
		readErr = err
	})
	r.Wait(5*time.Millisecond, func() {
		assert.Equal(t, 0, calls, "nothing was written, the read must still be parked")
		assert.NoError(t, a.Close())
	})

	runReactor(t, r, 5*time.Second)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, readErr, net.ErrClosed)
	assert.Equal(t, 0, r.Outstanding())

	assert.ErrorIs(t, a.Close(), net.ErrClosed)
	assert.Equal(t, -1, a.Fd())
}

func TestSocket_ReactorCloseFailsParkedRead(t *testing.T) {
	r, err := NewReactor()
	require.NoError(t, err)
	a, _ := socketPair(t, r)

	var readErr error
	a.ReadAsync(make([]byte, 16), func(_ int, err error) {
		readErr = err
	})
	r.Wait(5*time.Millisecond, func() {
		assert.NoError(t, r.Close())
	})

	runReactor(t, r, 5*time.Second)
	assert.ErrorIs(t, readErr, ErrReactorClosed)
	assert.Equal(t, 0, r.Outstanding())
}

func TestSocket_AsyncWithoutReactor(t *testing.T) {
	a, _ := socketPair(t, nil)

	var got error
	a.ReadAsync(make([]byte, 1), func(_ int, err error) {
		got = err
	})
	assert.ErrorIs(t, got, ErrNoReactor)

	got = nil
	NewTCPSocket(nil).ConnectAsync(TCPEndpoint{Address: IPv4Loopback, Port: 1}, func(err error) {
		got = err
	})
	assert.ErrorIs(t, got, ErrNoReactor)
}

func TestSocket_NotOpen(t *testing.T) {
	r := newTestReactor(t)
	s := NewSocket(r)

	_, err := s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrSocketState)
	_, _, err = s.LocalAddr()
	assert.ErrorIs(t, err, ErrSocketState)

	var asyncErr error
	s.WriteAsync([]byte("x"), func(_ int, err error) { asyncErr = err })
	runReactor(t, r, time.Second)
	assert.ErrorIs(t, asyncErr, ErrSocketState)
}

func TestReactor_AttachHandleTwice(t *testing.T) {
	r := newTestReactor(t)
	a, _ := socketPair(t, r)
	assert.ErrorIs(t, r.AttachHandle(a.Fd()), ErrAlreadyAttached)
}

func TestSocket_ForeignListenerKnowsItsFamily(t *testing.T) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))

	server := NewSocket(nil)
	require.NoError(t, server.SetFd(fd))
	defer server.Close()
	require.NoError(t, server.Listen(0))

	family, sotype, proto, err := server.Info()
	require.NoError(t, err)
	assert.Equal(t, []int{unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP}, []int{family, sotype, proto})

	_, port, err := server.LocalAddr()
	require.NoError(t, err)
	client := NewTCPSocket(nil)
	defer client.Close()
	require.NoError(t, client.Connect(TCPEndpoint{Address: IPv4Loopback, Port: port}))

	// accepted sockets inherit the listener's triple
	conn := NewSocket(nil)
	defer conn.Close()
	require.NoError(t, server.Accept(conn))
	family, sotype, proto, err = conn.Info()
	require.NoError(t, err)
	assert.Equal(t, []int{unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP}, []int{family, sotype, proto})
}

func TestSocket_PanicDuringDispatch(t *testing.T) {
	r := newTestReactor(t)
	a1, b1 := socketPair(t, r)
	a2, b2 := socketPair(t, r)

	// both handles become readable in the same poll; whichever is
	// dispatched first panics
	panicked := false
	reads := 0
	onRead := func(n int, err error) {
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
		reads++
		if !panicked {
			panicked = true
			panic("boom")
		}
	}
	a1.ReadAsync(make([]byte, 1), onRead)
	a2.ReadAsync(make([]byte, 1), onRead)
	r.Wait(5*time.Millisecond, func() {
		_, err := b1.Write([]byte("x"))
		assert.NoError(t, err)
		_, err = b2.Write([]byte("y"))
		assert.NoError(t, err)
	})

	assert.PanicsWithValue(t, "boom", func() {
		_ = r.Run()
	})
	runReactor(t, r, 5*time.Second)
	assert.Equal(t, 2, reads)
	assert.Equal(t, 0, r.Outstanding())
}
