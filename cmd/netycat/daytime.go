//go:build linux

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/arvidfm/netycat"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

const daytimePort = 13

func daytimeSubcommand() *cobra.Command {
	var port uint16
	cmd := &cobra.Command{
		Use:   "daytime HOST",
		Short: "Print the time reported by a daytime (RFC 867) server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return daytime(cmd, args[0], port)
		},
	}
	cmd.Flags().Uint16Var(&port, "port", daytimePort, "server port")
	return cmd
}

// daytime uses the blocking API only: no reactor is involved.
func daytime(cmd *cobra.Command, host string, port uint16) error {
	addrs, err := netycat.SystemResolver{}.Resolve(cmd.Context(), host)
	if err != nil {
		return err
	}

	var errs error
	for _, addr := range addrs {
		ep := netycat.TCPEndpoint{Address: addr, Port: port}
		conn := netycat.NewTCPSocket(nil)
		if err := conn.Connect(ep); err != nil {
			slog.Debug("connect failed", slog.String("endpoint", ep.String()), slog.Any("error", err))
			errs = multierr.Append(errs, err)
			if conn.Socket().Fd() >= 0 {
				_ = conn.Close()
			}
			continue
		}

		_, err := io.Copy(cmd.OutOrStdout(), conn)
		return multierr.Append(err, conn.Close())
	}
	return fmt.Errorf("could not reach %s: %w", host, errs)
}
