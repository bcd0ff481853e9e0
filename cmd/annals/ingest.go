package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agenthands/annals/internal/core/ingest"
)

var (
	ingestClear     bool
	ingestNoResume  bool
	ingestStartFrom int
	ingestMaxUnits  int
	unitsFile       string

	ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Extract units with the LLM and write them to the graph",
		RunE:  runIngest,
	}

	ingestSavedCmd = &cobra.Command{
		Use:   "ingest-saved",
		Short: "Replay the extraction results kept in the checkpoint without calling the LLM",
		RunE:  runIngestSaved,
	}

	seedCmd = &cobra.Command{
		Use:   "seed [file.json]",
		Short: "Write a curated extraction result through the resolvers",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeed,
	}
)

func init() {
	ingestCmd.Flags().BoolVar(&ingestClear, "clear", false, "wipe the graph and checkpoint first")
	ingestCmd.Flags().BoolVar(&ingestNoResume, "no-resume", false, "reprocess units already in the checkpoint")
	ingestCmd.Flags().IntVar(&ingestStartFrom, "start-from", 0, "skip this many pending units")
	ingestCmd.Flags().IntVar(&ingestMaxUnits, "max-units", 0, "process at most this many units (0 = all)")
	ingestCmd.Flags().StringVar(&unitsFile, "units", "", "units JSON file (default from config)")

	ingestSavedCmd.Flags().BoolVar(&ingestClear, "clear", false, "wipe the graph first")
	ingestSavedCmd.Flags().IntVar(&ingestStartFrom, "start-from", 0, "skip this many saved results")
	ingestSavedCmd.Flags().IntVar(&ingestMaxUnits, "max-units", 0, "replay at most this many results (0 = all)")

	rootCmd.AddCommand(ingestCmd, ingestSavedCmd, seedCmd)
}

func options() ingest.Options {
	return ingest.Options{
		Clear:     ingestClear,
		Resume:    !ingestNoResume,
		StartFrom: ingestStartFrom,
		MaxUnits:  ingestMaxUnits,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := unitsFile
	if path == "" {
		path = cfg.Ingest.UnitsFile
	}
	units, err := ingest.LoadUnits(path)
	if err != nil {
		return err
	}

	ctx, b, cleanup, err := open(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := b.EnsureSchema(ctx); err != nil {
		return err
	}
	stats, err := b.Ingest(ctx, units, options())
	printJSON(stats)
	return err
}

func runIngestSaved(cmd *cobra.Command, args []string) error {
	ctx, b, cleanup, err := open(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := b.EnsureSchema(ctx); err != nil {
		return err
	}
	stats, err := b.IngestSaved(ctx, options())
	printJSON(stats)
	return err
}

func runSeed(cmd *cobra.Command, args []string) error {
	res, err := ingest.LoadSeed(args[0])
	if err != nil {
		return err
	}
	ctx, b, cleanup, err := open(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := b.EnsureSchema(ctx); err != nil {
		return err
	}
	stats, err := b.Seed(ctx, res)
	printJSON(stats)
	return err
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
