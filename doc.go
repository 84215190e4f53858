// Package netycat is a socket library built around a single-threaded
// completion reactor.
//
// Every network operation comes in three forms that share one
// implementation: a blocking form returning an error (Read), a blocking
// form that panics instead (MustRead), and an asynchronous form that
// reports its outcome to a callback (ReadAsync) or a [Future] (ReadFuture).
// Asynchronous operations are queued on a [Reactor] and their callbacks run
// on the goroutine calling [Reactor.Run], one at a time.
//
//	r, err := netycat.NewReactor()
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	conn := netycat.NewTCPSocket(r)
//	conn.ConnectAsync(netycat.TCPEndpoint{Address: netycat.IPv4Loopback, Port: 7}, func(err error) {
//		// runs inside r.Run
//	})
//	return r.Run()
//
// Sockets are only available on Linux, where the reactor is backed by
// epoll. Elsewhere the reactor only runs timers, [Reactor.Execute] and [Go].
package netycat
