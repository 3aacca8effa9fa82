package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gordian-engine/gdpos/internal/dpsim"
	"github.com/spf13/cobra"
)

// NewRootCmd returns the gdpos command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gdpos",
		Short: "Simulate and inspect round-based DPoS consensus",

		SilenceUsage: true,
	}

	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("config", "", "path to a TOML simulation config")
	root.PersistentFlags().Int("miners", 0, "number of miners, overriding the config")
	root.PersistentFlags().Int("rounds", 0, "number of rounds, overriding the config")
	root.PersistentFlags().String("signer", "", "miner signature scheme (ed25519, secp256k1 or bls), overriding the config")
	root.PersistentFlags().String("leveldb", "", "persist rounds in a LevelDB database at this path")

	root.AddCommand(
		newInitConfigCmd(),
		newSimulateCmd(),
		newScheduleCmd(),
		newServeCmd(),
		newServeSignerCmd(),
	)

	return root
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config PATH",
		Short: "Write the default simulation config to PATH",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dpsim.WriteDefaultConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", args[0])
			return nil
		},
	}
}

// loadConfig reads the config file named by the --config flag, if any,
// and applies the flag overrides.
func loadConfig(cmd *cobra.Command) (dpsim.Config, error) {
	flags := cmd.Flags()

	cfg := dpsim.DefaultConfig()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		cfg, err = dpsim.ReadConfig(path)
		if err != nil {
			return dpsim.Config{}, err
		}
	}

	if flags.Changed("miners") {
		cfg.Miners, _ = flags.GetInt("miners")
		// Offline windows from the file may no longer fit.
		cfg.Offline = dropOutOfRange(cfg.Offline, cfg.Miners)
	}
	if flags.Changed("rounds") {
		cfg.Rounds, _ = flags.GetInt("rounds")
	}
	if flags.Changed("signer") {
		cfg.Signer, _ = flags.GetString("signer")
	}
	if flags.Changed("leveldb") {
		path, _ := flags.GetString("leveldb")
		cfg.Store = dpsim.Store{Type: "leveldb", Path: path}
	}

	return cfg, cfg.Validate()
}

func dropOutOfRange(offline []dpsim.Offline, miners int) []dpsim.Offline {
	var out []dpsim.Offline
	for _, o := range offline {
		if o.Miner < miners {
			out = append(out, o)
		}
	}
	return out
}

func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", name, err)
	}

	return newTextLogger(cmd.ErrOrStderr(), lvl), nil
}

func newTextLogger(w io.Writer, lvl slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
