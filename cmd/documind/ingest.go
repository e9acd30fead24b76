package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/documind/internal/models"
)

var (
	ingestType    string
	ingestWait    bool
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Upload a document for processing",
	Long: `Upload a document. The type is detected from the extension unless --type is given.
With --wait the command stays until the document is processed or has failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestType, "type", "t", "", "declared file type: pdf, docx, xlsx or text")
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", true, "wait for processing to finish")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "how long to wait for processing")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer func() {
		stopWorkers()
		a.DocProcessor.Wait()
	}()
	a.Start(workersCtx)

	doc, err := a.Documents.Ingest(ctx, path, ingestType, data)
	if err != nil {
		return err
	}
	if !ingestWait {
		return report(doc)
	}

	waitCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for !doc.Status.Terminal() {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("document %s still %s: %w", doc.ID, doc.Status, waitCtx.Err())
		case <-ticker.C:
		}
		if doc, err = a.Documents.Get(ctx, doc.ID); err != nil {
			return err
		}
	}
	if err := report(doc); err != nil {
		return err
	}
	if doc.Status == models.StateFailed {
		return fmt.Errorf("processing failed: %s", doc.Error)
	}
	return nil
}

func report(doc *models.Document) error {
	if asJSON {
		return printJSON(doc)
	}
	fmt.Printf("%s  %s  %s  %d bytes\n", doc.ID, doc.FileName, doc.Status, doc.FileSize)
	if doc.PageCount != nil {
		fmt.Printf("pages: %d\n", *doc.PageCount)
	}
	return nil
}
