package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fixwise/internal/types"
)

var (
	ingestTitle    string
	ingestType     string
	ingestLanguage string
	ingestVersion  int
	ingestTags     []string
	ingestMachines []string
)

// ingestCmd loads one document into the knowledge store, split into chunks
// on blank lines.
var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a knowledge document",
	Long: `Reads a text file, splits it into chunks on blank lines, and stores it
as one versioned knowledge document. Re-ingesting under the same title with a
higher version shifts the retrieval recency bonus to the new version.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestTitle, "title", "t", "", "document title (required)")
	ingestCmd.Flags().StringVar(&ingestType, "type", string(types.DocTroubleshootingGuide),
		"document type: manual, procedure, faq, expert_input, troubleshooting_guide")
	ingestCmd.Flags().StringVar(&ingestLanguage, "language", "en", "document language")
	ingestCmd.Flags().IntVar(&ingestVersion, "version", 1, "document version")
	ingestCmd.Flags().StringSliceVar(&ingestTags, "tags", nil, "free-form tags")
	ingestCmd.Flags().StringSliceVar(&ingestMachines, "machines", nil, "applicable machine-model tags")
	_ = ingestCmd.MarkFlagRequired("title")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	chunks := splitChunks(string(data))
	if len(chunks) == 0 {
		return types.Validationf("%s contains no text", args[0])
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.store.IngestDocument(ctx, ingestTitle, types.DocumentType(ingestType),
		ingestLanguage, ingestVersion, chunks, ingestMachines, ingestTags)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %q as %s (%d chunks)\n", ingestTitle, id, len(chunks))
	return nil
}

// splitChunks breaks a document into retrieval units on blank lines.
func splitChunks(text string) []string {
	var chunks []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			chunks = append(chunks, block)
		}
	}
	return chunks
}
