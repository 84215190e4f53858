//go:build linux

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/arvidfm/netycat"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

const dnsPort = 53

// resolveOptions is the configuration of the resolve subcommand.
type resolveOptions struct {
	server  string
	timeout time.Duration

	// resolver answers lookups when no DNS server is given.
	// Defaults to the system resolver.
	resolver netycat.Resolver
}

func resolveSubcommand() *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve NAME...",
		Short: "Look up the addresses of one or more host names",
		Args:  cobra.MinimumNArgs(1),
		RunE:  opts.run,
	}
	cmd.Flags().StringVar(&opts.server, "dns", "", "query this DNS server (host[:port]) instead of the system resolver")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-lookup timeout when using --dns")
	return cmd
}

func (o *resolveOptions) run(cmd *cobra.Command, names []string) error {
	r, err := netycat.NewReactor()
	if err != nil {
		return err
	}
	defer r.Close()

	lookup, err := o.lookupFunc(cmd, r)
	if err != nil {
		return err
	}

	// one name at a time, so repeated names are answered from the cache
	var errs error
	var next func(i int)
	next = func(i int) {
		if i == len(names) {
			return
		}
		name := names[i]
		lookup(name, func(addrs []netycat.IPAddress, err error) {
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			} else {
				printAddresses(cmd.OutOrStdout(), name, addrs)
			}
			next(i + 1)
		})
	}
	next(0)

	if err := r.Run(); err != nil {
		return err
	}
	return errs
}

// lookupFunc picks the asynchronous lookup matching the flags.
func (o *resolveOptions) lookupFunc(cmd *cobra.Command, r *netycat.Reactor) (func(string, func([]netycat.IPAddress, error)), error) {
	if o.server == "" {
		var inner netycat.Resolver = netycat.SystemResolver{}
		if o.resolver != nil {
			inner = o.resolver
		}
		res := netycat.NewCachingResolver(inner, 64, time.Minute)
		return func(name string, callback func([]netycat.IPAddress, error)) {
			netycat.ResolveAsync(cmd.Context(), r, res, name, callback)
		}, nil
	}

	server, err := parseServer(o.server)
	if err != nil {
		return nil, err
	}
	res := &netycat.DNSResolver{Server: server, Timeout: o.timeout}
	return func(name string, callback func([]netycat.IPAddress, error)) {
		res.ResolveAsync(r, name, callback)
	}, nil
}

func parseServer(s string) (netycat.UDPEndpoint, error) {
	if ep, err := netycat.ParseUDPEndpoint(s); err == nil {
		return ep, nil
	}
	addr, err := netycat.ParseIPAddress(strings.Trim(s, "[]"))
	if err != nil {
		return netycat.UDPEndpoint{}, fmt.Errorf("invalid DNS server %q: %w", s, err)
	}
	return netycat.UDPEndpoint{Address: addr, Port: dnsPort}, nil
}

func printAddresses(w io.Writer, name string, addrs []netycat.IPAddress) {
	parts := make([]string, len(addrs))
	for i, addr := range addrs {
		parts[i] = addr.String()
	}
	fmt.Fprintf(w, "%s: %s\n", name, strings.Join(parts, " "))
}
