package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/gcrypto/gremotesigner"
	"github.com/gordian-engine/gdpos/internal/dpsim"
	"github.com/spf13/cobra"
)

func newServeSignerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-signer SOCKET",
		Short: "Serve one simulated miner's key on a unix socket until interrupted",
		Long: `Serve one simulated miner's key on a unix socket until interrupted.

Point a simulation at the socket with a [[remote_signers]] entry in its config.`,
		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}
			idx, _ := cmd.Flags().GetInt("miner")
			if idx < 0 || idx >= cfg.Miners {
				return fmt.Errorf("miner index %d out of range", idx)
			}

			signer, err := dpsim.NewSigner(cfg, idx)
			if err != nil {
				return err
			}

			ln, err := net.Listen("unix", args[0])
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving miner %s on %s\n", gcrypto.MinerID(signer.PubKey()), args[0])

			return serveSigner(cmd.Context(), log.With("sys", "signer"), signer, ln)
		},
	}

	cmd.Flags().Int("miner", 0, "index of the miner whose key to serve")
	return cmd
}

// serveSigner serves signer on ln until ctx is canceled.
func serveSigner(ctx context.Context, log *slog.Logger, signer gcrypto.Signer, ln net.Listener) error {
	srv := &http.Server{
		Handler: gremotesigner.NewHandler(log, signer),

		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		if err := srv.Close(); err != nil {
			log.Warn("Error closing signer server", "err", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("signer server: %w", err)
	}
	return nil
}
