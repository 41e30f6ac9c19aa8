package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List stored documents and their statuses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		docs, err := st.ListDocuments(ctx, store.DocumentFilter{Status: model.DocumentStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "results list")
		}
		if len(docs) == 0 {
			fmt.Fprintln(os.Stderr, "No documents found.")
			return nil
		}
		return printDocuments(os.Stdout, docs)
	},
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Print the stored processing result of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := st.GetResult(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "results show")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	resultsCmd.Flags().String("status", "", "filter by status (uploaded, processing, approved, needs_review, error)")
	resultsCmd.Flags().Int("limit", 50, "max documents to list")
	resultsCmd.AddCommand(resultsShowCmd)
	rootCmd.AddCommand(resultsCmd)
}

func printDocuments(w io.Writer, docs []model.Document) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tSTATUS\tUPLOADED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Filename, d.Status, d.UploadedAt.Format(time.DateTime))
	}
	return tw.Flush()
}
