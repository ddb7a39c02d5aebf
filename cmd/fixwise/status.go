package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// statusCmd reports store counts and recorder health.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store statistics and health",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-20s %d\n", name, stats[name])
	}

	docs, chunks := a.engine.CorpusSize()
	fmt.Printf("%-20s %d documents, %d chunks\n", "corpus", docs, chunks)

	if err := a.recorder.Health(); err != nil {
		fmt.Printf("%-20s DEGRADED: %v\n", "audit", err)
	} else {
		fmt.Printf("%-20s ok\n", "audit")
	}
	return nil
}
