package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpsched"
	"github.com/gordian-engine/gdpos/internal/dpsim"
	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print every miner's slot and next command in the current round",
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
			at, _ := cmd.Flags().GetDuration("at")

			s, err := dpsim.New(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			r := s.Engine().CurrentRound()
			now := r.StartTime().Add(at)
			policy := dpsched.Policy{MaxTinyBlocks: cfg.Engine.MaxTinyBlocks}

			out := cmd.OutOrStdout()
			fmt.Fprintf(
				out, "Round %d (term %d), %d miners, interval %s, as of %s\n",
				r.Number(), r.TermNumber(), r.MinerCount(), dpsched.MiningInterval(r), now.Format(time.RFC3339Nano),
			)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tMINER\tEXPECTED\tEXTRA\tNEXT\tAT")
			for _, slot := range r.Slots() {
				c, err := policy.Command(r, slot.ID, now)
				if err != nil {
					return err
				}
				extra := ""
				if slot.IsExtraBlockProducer {
					extra = "yes"
				}
				arranged := "-"
				if !c.ArrangedTime.Equal(dpsched.Never) {
					arranged = c.ArrangedTime.Sub(r.StartTime()).String()
				}
				fmt.Fprintf(
					tw, "%d\t%s\t+%s\t%s\t%s\t%s\n",
					slot.Order, s.Name(slot.ID), slot.ExpectedMiningTime.Sub(r.StartTime()),
					extra, c.Behaviour, arranged,
				)
			}
			fmt.Fprintf(tw, "\t(extra block)\t+%s\t\t\t\n", r.ExtraBlockMiningTime().Sub(r.StartTime()))
			return tw.Flush()
		},
	}

	cmd.Flags().Duration("at", 0, "offset from the round start at which to evaluate commands")
	return cmd
}
