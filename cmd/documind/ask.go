package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	askSession string
	askTopK    int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against the ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Retrieval.Query(ctx, strings.Join(args, " "), askSession, askTopK)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(res)
		}

		fmt.Println(res.Answer)
		if len(res.Sources) > 0 {
			fmt.Println("\nSources:")
			for _, s := range res.Sources {
				fmt.Printf("  [%s #%d] %.3f  %s\n", s.DocumentID, s.ChunkIndex, s.Score, oneLine(s.ContentPreview))
			}
		}
		fmt.Printf("\n(%d ms, cached=%t)\n", res.ResponseTimeMs, res.Cached)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askSession, "session", "s", "default", "history session id")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of passages (default from config)")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
