package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/gordian-engine/gdpos/internal/dpsim"
	"github.com/spf13/cobra"
)

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Drive the configured miners through rounds and print a summary of each",
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

			s, err := dpsim.New(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROUND\tTERM\tPRODUCED\tTINY\tMISSED\tRECONSTRUCTED\tSEALED BY\tLIB")
			_, err = s.Run(cmd.Context(), func(r dpsim.RoundReport) {
				term := fmt.Sprint(r.TermNumber)
				if r.TermChanged {
					term += "*"
				}
				fmt.Fprintf(
					tw, "%d\t%s\t%d\t%d\t%s\t%s\t%s\t%d\n",
					r.Number, term, r.Producers, r.TinyBlocks,
					joinOrDash(r.Missed), joinOrDash(r.Reconstructed),
					r.SealedBy, r.LIBOffset,
				)
			})
			if flushErr := tw.Flush(); err == nil {
				err = flushErr
			}
			return err
		},
	}
}

func joinOrDash(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
