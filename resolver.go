package netycat

import (
	"context"
	"fmt"
	"net"
)

// Resolver maps a host name to its addresses.
type Resolver interface {
	// Resolve returns at least one address, or an error.
	// A name without usable addresses reports [ErrNoAddresses].
	Resolve(ctx context.Context, name string) ([]IPAddress, error)
}

// SystemResolver uses the operating system's name lookup, which blocks
// the calling goroutine.
type SystemResolver struct {
	// Resolver is the lookup implementation; nil means [net.DefaultResolver].
	Resolver *net.Resolver
}

// Resolve implements [Resolver].
func (s SystemResolver) Resolve(ctx context.Context, name string) ([]IPAddress, error) {
	res := s.Resolver
	if res == nil {
		res = net.DefaultResolver
	}

	records, err := res.LookupIPAddr(ctx, name)
	if err != nil {
		return nil, opError("lookup", name, err)
	}

	addrs := make([]IPAddress, 0, len(records))
	for _, rec := range records {
		addr, err := IPAddressFromNetIP(rec.IP, rec.Zone)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, name)
	}
	return addrs, nil
}

// MustResolve is like res.Resolve but panics on error.
func MustResolve(ctx context.Context, res Resolver, name string) []IPAddress {
	return must(res.Resolve(ctx, name))
}

// ResolveAsync runs res.Resolve on a worker goroutine and passes the
// result to callback on the reactor goroutine. The reactor keeps
// running until the lookup has finished.
func ResolveAsync(ctx context.Context, r *Reactor, res Resolver, name string, callback func([]IPAddress, error)) {
	ResolveFuture(ctx, r, res, name).AddResultCallback(callback)
}

// ResolveFuture is the future form of [ResolveAsync].
func ResolveFuture(ctx context.Context, r *Reactor, res Resolver, name string) *Future[[]IPAddress] {
	return Go(ctx, r, func(ctx context.Context) ([]IPAddress, error) {
		return res.Resolve(ctx, name)
	})
}
