package netycat

import (
	"errors"
	"net"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIPAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    IPAddress
		wantStr string
		wantErr bool
	}{
		{in: "127.0.0.1", want: IPv4Loopback, wantStr: "127.0.0.1"},
		{in: "0.0.0.0", want: IPv4Any, wantStr: "0.0.0.0"},
		{in: "192.168.10.2", want: IPv4Address{192, 168, 10, 2}, wantStr: "192.168.10.2"},
		{in: "::1", want: IPv6Loopback, wantStr: "::1"},
		{in: "::", want: IPv6Any, wantStr: "::"},
		{
			in:      "2001:db8::8a2e:370:7334",
			want:    IPv6Address{Addr: [16]byte{0x20, 0x01, 0x0d, 0xb8, 10: 0x8a, 0x2e, 0x03, 0x70, 0x73, 0x34}},
			wantStr: "2001:db8::8a2e:370:7334",
		},
		{in: "fe80::1%3", want: IPv6Address{Addr: [16]byte{0xfe, 0x80, 15: 1}, Scope: 3}, wantStr: "fe80::1%3"},
		{
			in:      "::ffff:10.0.0.1",
			want:    IPv6Address{Addr: [16]byte{10: 0xff, 0xff, 10, 0, 0, 1}},
			wantStr: "::ffff:10.0.0.1",
		},
		{in: "", wantErr: true},
		{in: "localhost", wantErr: true},
		{in: "256.0.0.1", wantErr: true},
		{in: "1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseIPAddress(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrAddressFamily) {
				t.Errorf("ParseIPAddress(%q): expected ErrAddressFamily, got: %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseIPAddress(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseIPAddress(%q): expected %#v, got: %#v", tt.in, tt.want, got)
		}
		if got.String() != tt.wantStr {
			t.Errorf("ParseIPAddress(%q).String(): expected %q, got: %q", tt.in, tt.wantStr, got.String())
		}
	}
}

func TestIPv4Uint32(t *testing.T) {
	addr := IPv4FromUint32(0x7f000001)
	assert.Equal(t, IPv4Loopback, addr)
	assert.Equal(t, uint32(0x7f000001), addr.Uint32())
	assert.True(t, addr.IsLoopback())
	assert.True(t, IPv4Any.IsUnspecified())
	assert.False(t, IPv6Loopback.IsUnspecified())
}

func TestIPAddressFromNetIP(t *testing.T) {
	v4, err := IPAddressFromNetIP(net.ParseIP("10.1.2.3"), "")
	require.NoError(t, err)
	assert.Equal(t, IPAddress(IPv4Address{10, 1, 2, 3}), v4)

	v6, err := IPAddressFromNetIP(net.ParseIP("fe80::2"), "7")
	require.NoError(t, err)
	assert.Equal(t, IPAddress(IPv6Address{Addr: [16]byte{0xfe, 0x80, 15: 2}, Scope: 7}), v6)

	_, err = IPAddressFromNetIP(nil, "")
	assert.ErrorIs(t, err, ErrAddressFamily)
}

func TestCompare(t *testing.T) {
	addrs := []IPAddress{
		IPv6Address{Addr: [16]byte{0xfe, 0x80, 15: 1}, Scope: 2},
		IPv4Address{10, 0, 0, 1},
		IPv6Loopback,
		IPv4Loopback,
		IPv6Address{Addr: [16]byte{0xfe, 0x80, 15: 1}, Scope: 1},
		IPv4Any,
	}
	slices.SortFunc(addrs, Compare)

	want := []string{"0.0.0.0", "10.0.0.1", "127.0.0.1", "::1", "fe80::1%1", "fe80::1%2"}
	got := make([]string, len(addrs))
	for i, a := range addrs {
		got[i] = a.String()
	}
	assert.Equal(t, want, got)
	assert.Zero(t, Compare(IPv4Loopback, IPv4Address{127, 0, 0, 1}))
}

func TestFamilyAccessors(t *testing.T) {
	var a IPAddress = IPv4Loopback
	_, ok := AsIPv6(a)
	assert.False(t, ok)
	assert.Equal(t, IPv4Loopback, MustIPv4(a))
	assert.Equal(t, "IPv4", a.Family().String())

	defer func() {
		err, ok := recover().(error)
		if !ok || !errors.Is(err, ErrAddressFamily) {
			t.Errorf("MustIPv6: expected a panic with ErrAddressFamily, got: %v", err)
		}
	}()
	MustIPv6(a)
}

func TestEndpoints(t *testing.T) {
	tcp, err := ParseTCPEndpoint("[::1]:8080")
	require.NoError(t, err)
	assert.Equal(t, TCPEndpoint{Address: IPv6Loopback, Port: 8080}, tcp)
	assert.Equal(t, "[::1]:8080", tcp.String())

	udp, err := ParseUDPEndpoint("127.0.0.1:53")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:53", udp.String())
	assert.Negative(t, udp.Compare(UDPEndpoint{Address: IPv4Loopback, Port: 54}))
	assert.Positive(t, udp.Compare(UDPEndpoint{Address: IPv4Any, Port: 53}))

	for _, bad := range []string{"127.0.0.1", "127.0.0.1:65536", "example.com:80", "[::1]:x"} {
		if _, err := ParseTCPEndpoint(bad); err == nil {
			t.Errorf("ParseTCPEndpoint(%q): expected an error", bad)
		}
	}
}
