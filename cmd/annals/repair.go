package main

import (
	"github.com/spf13/cobra"

	"github.com/agenthands/annals/internal/core/repair"
)

var (
	repairPhase      string
	repairFull       bool
	repairMinAliases int

	repairCmd = &cobra.Command{
		Use:   "repair",
		Short: "Repair over-merged aliases and post-death participations",
		RunE:  runRepair,
	}
)

func init() {
	repairCmd.Flags().StringVar(&repairPhase, "phase", "all", "aliases, relations, verify or all")
	repairCmd.Flags().BoolVar(&repairFull, "full", false, "ignore exclusions and progress history")
	repairCmd.Flags().IntVar(&repairMinAliases, "min-aliases", 0, "only check persons with at least this many aliases (default from config)")
	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, args []string) error {
	phase, err := repair.ParsePhase(repairPhase)
	if err != nil {
		return err
	}
	needsLLM := phase == repair.PhaseAliases || phase == repair.PhaseAll

	ctx, b, cleanup, err := open(cmd, needsLLM)
	if err != nil {
		return err
	}
	defer cleanup()

	r, err := b.Repairer()
	if err != nil {
		return err
	}
	rep, err := r.Run(ctx, repair.Options{Phase: phase, Full: repairFull, MinAliases: repairMinAliases})
	printJSON(rep)
	return err
}
