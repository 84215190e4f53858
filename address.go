package netycat

import (
	"bytes"
	"cmp"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Family identifies the IP version of an [IPAddress].
type Family uint8

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

// String implements [fmt.Stringer].
func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "IPv4"
	case FamilyIPv6:
		return "IPv6"
	default:
		return "Family(" + strconv.Itoa(int(f)) + ")"
	}
}

// IPAddress is either an [IPv4Address] or an [IPv6Address].
// The set of implementations is closed; use a type switch
// or [AsIPv4]/[AsIPv6] to get at the concrete value.
//
// IPAddress values are comparable with ==.
type IPAddress interface {
	fmt.Stringer
	Family() Family
	// Bytes returns the address in network byte order.
	Bytes() []byte
	IsLoopback() bool
	IsUnspecified() bool

	isIPAddress()
}

// IPv4Address is a 4-byte IPv4 address in network byte order.
type IPv4Address [4]byte

var (
	IPv4Any      = IPv4Address{0, 0, 0, 0}
	IPv4Loopback = IPv4Address{127, 0, 0, 1}
)

// IPv4FromUint32 builds an address from its host-order integer form,
// so 0x7f000001 is 127.0.0.1.
func IPv4FromUint32(v uint32) IPv4Address {
	return IPv4Address{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// Uint32 returns the host-order integer form of the address.
func (a IPv4Address) Uint32() uint32 {
	return uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
}

func (a IPv4Address) Family() Family      { return FamilyIPv4 }
func (a IPv4Address) Bytes() []byte       { return a[:] }
func (a IPv4Address) IsLoopback() bool    { return a[0] == 127 }
func (a IPv4Address) IsUnspecified() bool { return a == IPv4Any }
func (IPv4Address) isIPAddress()          {}

func (a IPv4Address) String() string {
	return netip.AddrFrom4(a).String()
}

// IPv6Address is a 16-byte IPv6 address in network byte order
// together with its interface scope.
type IPv6Address struct {
	Addr  [16]byte
	Scope uint32
}

var (
	IPv6Any      = IPv6Address{}
	IPv6Loopback = IPv6Address{Addr: [16]byte{15: 1}}
)

func (a IPv6Address) Family() Family      { return FamilyIPv6 }
func (a IPv6Address) Bytes() []byte       { return a.Addr[:] }
func (a IPv6Address) IsLoopback() bool    { return a.Addr == IPv6Loopback.Addr }
func (a IPv6Address) IsUnspecified() bool { return a.Addr == IPv6Any.Addr }
func (IPv6Address) isIPAddress()          {}

// String formats the address in compressed form, with a %scope suffix
// when the scope is non-zero.
func (a IPv6Address) String() string {
	s := netip.AddrFrom16(a.Addr).String()
	if a.Scope != 0 {
		s += "%" + strconv.FormatUint(uint64(a.Scope), 10)
	}
	return s
}

// AsIPv4 returns the IPv4 form of a, if a is an IPv4 address.
func AsIPv4(a IPAddress) (IPv4Address, bool) {
	v4, ok := a.(IPv4Address)
	return v4, ok
}

// AsIPv6 returns the IPv6 form of a, if a is an IPv6 address.
func AsIPv6(a IPAddress) (IPv6Address, bool) {
	v6, ok := a.(IPv6Address)
	return v6, ok
}

// MustIPv4 is like [AsIPv4] but panics with [ErrAddressFamily] on a mismatch.
func MustIPv4(a IPAddress) IPv4Address {
	v4, ok := AsIPv4(a)
	if !ok {
		panic(fmt.Errorf("%w: %v is not an IPv4 address", ErrAddressFamily, a))
	}
	return v4
}

// MustIPv6 is like [AsIPv6] but panics with [ErrAddressFamily] on a mismatch.
func MustIPv6(a IPAddress) IPv6Address {
	v6, ok := AsIPv6(a)
	if !ok {
		panic(fmt.Errorf("%w: %v is not an IPv6 address", ErrAddressFamily, a))
	}
	return v6
}

// Compare orders addresses: IPv4 before IPv6, then by raw bytes,
// then by scope.
func Compare(a, b IPAddress) int {
	if c := cmp.Compare(a.Family(), b.Family()); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Bytes(), b.Bytes()); c != 0 {
		return c
	}
	if v6a, ok := AsIPv6(a); ok {
		return cmp.Compare(v6a.Scope, MustIPv6(b).Scope)
	}
	return 0
}

// ParseIPAddress parses a numeric IPv4 or IPv6 address.
// IPv4-mapped IPv6 addresses are kept as IPv6. A zone may be given
// either as an interface index or as an interface name.
func ParseIPAddress(s string) (IPAddress, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAddressFamily, err)
	}
	if addr.Is4() {
		return IPv4Address(addr.As4()), nil
	}
	scope, err := zoneToScope(addr.Zone())
	if err != nil {
		return nil, err
	}
	return IPv6Address{Addr: addr.As16(), Scope: scope}, nil
}

// IPAddressFromNetIP converts a [net.IP] with an optional zone.
func IPAddressFromNetIP(ip net.IP, zone string) (IPAddress, error) {
	if v4 := ip.To4(); v4 != nil {
		return IPv4Address(v4), nil
	}
	if v6 := ip.To16(); v6 != nil {
		scope, err := zoneToScope(zone)
		if err != nil {
			return nil, err
		}
		return IPv6Address{Addr: [16]byte(v6), Scope: scope}, nil
	}
	return nil, fmt.Errorf("%w: invalid IP %q", ErrAddressFamily, ip)
}

func zoneToScope(zone string) (uint32, error) {
	if zone == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n), nil
	}
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown zone %q: %w", ErrAddressFamily, zone, err)
	}
	return uint32(ifi.Index), nil
}
