//go:build linux

package netycat

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	sizeofRawSockaddrInet4 = 16
	sizeofRawSockaddrInet6 = 28
)

func addressFamily(a IPAddress) (int, error) {
	switch a.(type) {
	case IPv4Address:
		return unix.AF_INET, nil
	case IPv6Address:
		return unix.AF_INET6, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrAddressFamily, a)
	}
}

func toSockaddr(a IPAddress, port uint16) (family int, sa unix.Sockaddr, err error) {
	switch addr := a.(type) {
	case IPv4Address:
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(port), Addr: addr}, nil
	case IPv6Address:
		return unix.AF_INET6, &unix.SockaddrInet6{Port: int(port), ZoneId: addr.Scope, Addr: addr.Addr}, nil
	default:
		return 0, nil, fmt.Errorf("%w: %T", ErrAddressFamily, a)
	}
}

func fromSockaddr(sa unix.Sockaddr) (IPAddress, uint16, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return IPv4Address(sa.Addr), uint16(sa.Port), nil
	case *unix.SockaddrInet6:
		return IPv6Address{Addr: sa.Addr, Scope: sa.ZoneId}, uint16(sa.Port), nil
	default:
		return nil, 0, fmt.Errorf("%w: %T", ErrAddressFamily, sa)
	}
}

func wildcardSockaddr(family int) (unix.Sockaddr, error) {
	switch family {
	case unix.AF_INET:
		return &unix.SockaddrInet4{}, nil
	case unix.AF_INET6:
		return &unix.SockaddrInet6{}, nil
	default:
		return nil, fmt.Errorf("%w: no wildcard address for family %d", ErrAddressFamily, family)
	}
}

// rawSockaddr is the kernel's sockaddr_in/sockaddr_in6 layout, used directly
// by recvfrom/sendto. Asynchronous receives keep it on the heap until the
// operation completes, since the kernel writes the source address into it.
type rawSockaddr struct {
	buf [unix.SizeofSockaddrAny]byte
	n   uint32
}

// reset prepares the record to receive an address.
func (r *rawSockaddr) reset() {
	clear(r.buf[:])
	r.n = uint32(len(r.buf))
}

func (r *rawSockaddr) encode(a IPAddress, port uint16) error {
	clear(r.buf[:])
	switch addr := a.(type) {
	case IPv4Address:
		binary.NativeEndian.PutUint16(r.buf[0:], unix.AF_INET)
		binary.BigEndian.PutUint16(r.buf[2:], port)
		copy(r.buf[4:8], addr[:])
		r.n = sizeofRawSockaddrInet4
	case IPv6Address:
		binary.NativeEndian.PutUint16(r.buf[0:], unix.AF_INET6)
		binary.BigEndian.PutUint16(r.buf[2:], port)
		// bytes 4:8 hold the flow info, left zero
		copy(r.buf[8:24], addr.Addr[:])
		binary.NativeEndian.PutUint32(r.buf[24:], addr.Scope)
		r.n = sizeofRawSockaddrInet6
	default:
		return fmt.Errorf("%w: %T", ErrAddressFamily, a)
	}
	return nil
}

func (r *rawSockaddr) decode() (IPAddress, uint16, error) {
	if r.n < 2 {
		return nil, 0, fmt.Errorf("%w: truncated address record (%d bytes)", ErrAddressFamily, r.n)
	}
	family := binary.NativeEndian.Uint16(r.buf[0:])
	switch {
	case family == unix.AF_INET && r.n >= sizeofRawSockaddrInet4:
		return IPv4Address(r.buf[4:8]), binary.BigEndian.Uint16(r.buf[2:]), nil
	case family == unix.AF_INET6 && r.n >= sizeofRawSockaddrInet6:
		addr := IPv6Address{
			Addr:  [16]byte(r.buf[8:24]),
			Scope: binary.NativeEndian.Uint32(r.buf[24:]),
		}
		return addr, binary.BigEndian.Uint16(r.buf[2:]), nil
	default:
		return nil, 0, fmt.Errorf("%w: family %d with %d-byte record", ErrAddressFamily, family, r.n)
	}
}
