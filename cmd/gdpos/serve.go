package main

import (
	"context"
	"fmt"
	"net"

	"github.com/gordian-engine/gdpos/dpos/dpdebug"
	"github.com/gordian-engine/gdpos/internal/dpsim"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation and serve its rounds over HTTP until interrupted",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("http-addr")

			ctx := cmd.Context()
			s, err := dpsim.New(ctx, log, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", ln.Addr())

			return serve(ctx, s, ln)
		},
	}

	cmd.Flags().String("http-addr", "127.0.0.1:26680", "address for the debug HTTP server")
	return cmd
}

// serve runs the simulation in the background
// and serves its engine until ctx is canceled.
func serve(ctx context.Context, s *dpsim.Simulation, ln net.Listener) error {
	eg, ctx := errgroup.WithContext(ctx)

	srv := dpdebug.NewHTTPServer(ctx, s.Log().With("sys", "http"), dpdebug.HTTPServerConfig{
		Listener: ln,
		Engine:   s.Engine(),
		Store:    s.Store(),
	})

	eg.Go(func() error {
		_, err := s.Run(ctx, nil)
		if err != nil && ctx.Err() != nil {
			// Interrupted.
			return nil
		}
		return err
	})
	eg.Go(func() error {
		srv.Wait()
		return nil
	})

	return eg.Wait()
}
