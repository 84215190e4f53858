//go:build linux

package main

import (
	"fmt"
	"io"

	"github.com/arvidfm/netycat"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

const helloMessage = "Hello, Netycat!"

func tcpHelloSubcommand() *cobra.Command {
	var port uint16
	cmd := &cobra.Command{
		Use:   "tcp-hello",
		Short: "Send a length-prefixed greeting over loopback TCP, asynchronously",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return tcpHello(cmd.OutOrStdout(), port)
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 0, "server port (0 picks a free one)")
	return cmd
}

func tcpHello(w io.Writer, port uint16) error {
	r, err := netycat.NewReactor()
	if err != nil {
		return err
	}
	defer r.Close()

	server := netycat.NewTCPServer(r)
	if err := server.Listen(netycat.TCPEndpoint{Address: netycat.IPv4Any, Port: port}, 0); err != nil {
		return err
	}
	ep, err := server.LocalEndpoint()
	if err != nil {
		return multierr.Append(err, server.Close())
	}
	return tcpHelloTo(w, r, server, netycat.TCPEndpoint{Address: netycat.IPv4Loopback, Port: ep.Port})
}

// tcpHelloTo serves one greeting on server and has a client fetch it
// from target. Both ends are closed by the time r stops running.
func tcpHelloTo(w io.Writer, r *netycat.Reactor, server *netycat.TCPServer, target netycat.TCPEndpoint) (errs error) {
	closeServer := closeIfOpen(server)

	server.AcceptAsync(func(conn *netycat.TCPSocket, err error) {
		errs = multierr.Append(errs, closeServer())
		if err != nil {
			errs = multierr.Append(errs, err)
			return
		}
		frame := append([]byte{byte(len(helloMessage))}, helloMessage...)
		conn.WriteAllAsync(frame, func(_ int, err error) {
			errs = multierr.Combine(errs, err, conn.Close())
		})
	})

	client := netycat.NewTCPSocket(r)
	closeClient := closeIfOpen(client)
	client.ConnectAsync(target, func(err error) {
		if err != nil {
			// nobody is coming for the pending accept
			errs = multierr.Combine(errs, err, closeClient(), closeServer())
			return
		}
		size := make([]byte, 1)
		client.ReadAllAsync(size, func(_ int, err error) {
			if err != nil {
				errs = multierr.Combine(errs, err, closeClient())
				return
			}
			payload := make([]byte, size[0])
			client.ReadAllAsync(payload, func(_ int, err error) {
				if err == nil {
					fmt.Fprintf(w, "%s\n", payload)
				}
				errs = multierr.Combine(errs, err, closeClient())
			})
		})
	})

	return multierr.Append(errs, r.Run())
}

func udpEchoSubcommand() *cobra.Command {
	var port uint16
	cmd := &cobra.Command{
		Use:   "udp-echo",
		Short: "Bounce a datagram off a loopback UDP echo server, asynchronously",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return udpEcho(cmd.OutOrStdout(), port)
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 0, "server port (0 picks a free one)")
	return cmd
}

func udpEcho(w io.Writer, port uint16) error {
	r, err := netycat.NewReactor()
	if err != nil {
		return err
	}
	defer r.Close()

	server := netycat.NewUDPSocket(r)
	if err := server.BindPort(port); err != nil {
		return err
	}
	ep, err := server.LocalEndpoint()
	if err != nil {
		return multierr.Append(err, server.Close())
	}
	return udpEchoTo(w, r, server, netycat.UDPEndpoint{Address: netycat.IPv4Loopback, Port: ep.Port})
}

// udpEchoTo echoes one datagram on server and has a client send it to
// target. Either side failing closes the other so r stops running.
func udpEchoTo(w io.Writer, r *netycat.Reactor, server *netycat.UDPSocket, target netycat.UDPEndpoint) (errs error) {
	client := netycat.NewUDPSocket(r)
	closeServer, closeClient := closeIfOpen(server), closeIfOpen(client)

	serverBuf := make([]byte, 512)
	server.ReadFromAsync(serverBuf, func(n int, from netycat.UDPEndpoint, err error) {
		if err != nil {
			errs = multierr.Combine(errs, err, closeServer(), closeClient())
			return
		}
		fmt.Fprintf(w, "server: %d bytes from %s\n", n, from)
		server.WriteToAsync(serverBuf[:n], from, func(_ int, err error) {
			errs = multierr.Combine(errs, err, closeServer())
			if err != nil {
				errs = multierr.Append(errs, closeClient())
			}
		})
	})

	clientBuf := make([]byte, 512)
	client.WriteToAsync([]byte(helloMessage), target, func(_ int, err error) {
		if err != nil {
			errs = multierr.Combine(errs, err, closeClient(), closeServer())
			return
		}
		client.ReadFromAsync(clientBuf, func(n int, from netycat.UDPEndpoint, err error) {
			if err == nil {
				fmt.Fprintf(w, "client: %q from %s\n", clientBuf[:n], from)
			}
			errs = multierr.Combine(errs, err, closeClient())
		})
	})

	return multierr.Append(errs, r.Run())
}

// closeIfOpen returns a function closing c if it still has a handle.
func closeIfOpen(c interface {
	Socket() *netycat.Socket
	Close() error
}) func() error {
	return func() error {
		if c.Socket().Fd() < 0 {
			return nil
		}
		return c.Close()
	}
}
