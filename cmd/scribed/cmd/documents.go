package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/scribe/internal/task"
)

func newDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Add or delete documents in an index",
	}

	cmd.AddCommand(newDocumentsAddCmd())
	cmd.AddCommand(newDocumentsDeleteCmd())

	return cmd
}

func newDocumentsAddCmd() *cobra.Command {
	var method string

	cmd := &cobra.Command{
		Use:   "add <index-uid> <file>",
		Short: "Add or update documents from a JSON array file",
		Long: `Add documents to an index from a file containing a JSON array of
flat field-value objects (§3.6).

--method replace (default) clears fields the payload doesn't mention;
--method update merges the payload onto existing documents.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexUID, path := args[0], args[1]

			importMethod := task.ImportReplace
			switch method {
			case "replace":
				importMethod = task.ImportReplace
			case "update":
				importMethod = task.ImportUpdate
			default:
				return fmt.Errorf("invalid --method %q: must be replace or update", method)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			a, err := openApp(loadedCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			contentFile, err := a.content.Create(f)
			if err != nil {
				return fmt.Errorf("failed to stage content file: %w", err)
			}

			t, err := a.submitAndDrain(func() (*task.Task, error) {
				return a.scheduler.Submit(task.KindDocumentImport, importMethod, indexUID, contentFile)
			})
			if err != nil {
				return err
			}
			return printTaskResult(cmd, t)
		},
	}

	cmd.Flags().StringVar(&method, "method", "replace", "Import method: replace or update")
	return cmd
}

func newDocumentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <index-uid> <external-id>...",
		Short: "Delete documents by external ID",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexUID, externalIDs := args[0], args[1:]

			a, err := openApp(loadedCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.submitAndDrain(func() (*task.Task, error) {
				return a.scheduler.SubmitWithDetails(task.KindDocumentDeletion, indexUID,
					map[string]any{"target_external_ids": externalIDs})
			})
			if err != nil {
				return err
			}
			return printTaskResult(cmd, t)
		},
	}
}
