package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchLimit int

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print node counts per label and the relationship count",
		RunE:  runStats,
	}

	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Full-text search over every node label",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	personCmd = &cobra.Command{
		Use:   "person [name]",
		Short: "Look up persons by canonical name or alias and list their relations",
		Args:  cobra.ExactArgs(1),
		RunE:  runPerson,
	}
)

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum hits")
	rootCmd.AddCommand(statsCmd, searchCmd, personCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, b, cleanup, err := open(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := b.Stats(ctx)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, b, cleanup, err := open(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	hits, err := b.Search(ctx, strings.Join(args, " "), searchLimit)
	if err != nil {
		return err
	}
	for _, h := range hits {
		fmt.Printf("%.2f  %-12s %-24s %s\n", h.Score, h.Label, h.Props.String("name"), h.ID)
	}
	return nil
}

func runPerson(cmd *cobra.Command, args []string) error {
	ctx, b, cleanup, err := open(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	persons, err := b.FindPersons(ctx, args[0])
	if err != nil {
		return err
	}
	if len(persons) == 0 {
		return fmt.Errorf("no person named %q", args[0])
	}
	for _, p := range persons {
		rels, err := b.PersonRelations(ctx, p.UID)
		if err != nil {
			return err
		}
		printJSON(map[string]any{"person": p, "relations": rels})
	}
	return nil
}
