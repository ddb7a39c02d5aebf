package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchLimit int

// searchCmd runs one ranked query against the knowledge corpus.
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the knowledge corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "max results (0 = configured default)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	query := strings.Join(args, " ")
	results, err := a.engine.Search(ctx, query, searchLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No matches above the relevance threshold.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%2d. [%.3f] %s (%s v%d, chunk %d)\n    %s\n",
			i+1, r.Score, r.Document.Title, r.Document.Type, r.Document.Version,
			r.Chunk.Ordinal, r.Excerpt)
	}
	return nil
}
