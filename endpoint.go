package netycat

import (
	"cmp"
	"fmt"
	"net"
	"strconv"
)

// TCPEndpoint identifies a TCP peer.
type TCPEndpoint struct {
	Address IPAddress
	Port    uint16
}

// String formats the endpoint as host:port, bracketing IPv6 hosts.
func (e TCPEndpoint) String() string {
	return formatEndpoint(e.Address, e.Port)
}

// Compare orders endpoints by address, then by port.
func (e TCPEndpoint) Compare(o TCPEndpoint) int {
	return compareEndpoints(e.Address, e.Port, o.Address, o.Port)
}

// ParseTCPEndpoint parses a numeric host:port pair.
func ParseTCPEndpoint(s string) (TCPEndpoint, error) {
	addr, port, err := parseEndpoint(s)
	return TCPEndpoint{Address: addr, Port: port}, err
}

// UDPEndpoint identifies a UDP peer.
type UDPEndpoint struct {
	Address IPAddress
	Port    uint16
}

// String formats the endpoint as host:port, bracketing IPv6 hosts.
func (e UDPEndpoint) String() string {
	return formatEndpoint(e.Address, e.Port)
}

// Compare orders endpoints by address, then by port.
func (e UDPEndpoint) Compare(o UDPEndpoint) int {
	return compareEndpoints(e.Address, e.Port, o.Address, o.Port)
}

// ParseUDPEndpoint parses a numeric host:port pair.
func ParseUDPEndpoint(s string) (UDPEndpoint, error) {
	addr, port, err := parseEndpoint(s)
	return UDPEndpoint{Address: addr, Port: port}, err
}

func formatEndpoint(addr IPAddress, port uint16) string {
	host := "<nil>"
	if addr != nil {
		host = addr.String()
	}
	return net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}

func compareEndpoints(a IPAddress, ap uint16, b IPAddress, bp uint16) int {
	if c := Compare(a, b); c != 0 {
		return c
	}
	return cmp.Compare(ap, bp)
}

func parseEndpoint(s string) (IPAddress, uint16, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrAddressFamily, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	addr, err := ParseIPAddress(host)
	if err != nil {
		return nil, 0, err
	}
	return addr, uint16(port), nil
}
