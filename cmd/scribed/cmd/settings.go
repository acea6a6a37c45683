package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aman-cerp/scribe/internal/task"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Update an index's settings",
	}

	cmd.AddCommand(newSettingsUpdateCmd())
	return cmd
}

func newSettingsUpdateCmd() *cobra.Command {
	var (
		searchableAttributes []string
		filterableAttributes []string
		stopWords            []string
		primaryKey           string
	)

	cmd := &cobra.Command{
		Use:   "update <index-uid>",
		Short: "Update searchable/filterable attributes, stop words, or primary key",
		Long: `Update one or more of an index's settings (§4.2.2). Only flags
explicitly passed are changed; omitted flags leave that setting as-is.

Changing searchable attributes or stop words rebuilds the word-bearing
postings; changing filterable attributes rebuilds the facet trees.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexUID := args[0]
			details := map[string]any{}

			if cmd.Flags().Changed("searchable-attributes") {
				details["searchable_attributes"] = searchableAttributes
			}
			if cmd.Flags().Changed("filterable-attributes") {
				details["filterable_attributes"] = filterableAttributes
			}
			if cmd.Flags().Changed("stop-words") {
				details["stop_words"] = stopWords
			}
			if cmd.Flags().Changed("primary-key") {
				details["primary_key"] = primaryKey
			}

			a, err := openApp(loadedCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.submitAndDrain(func() (*task.Task, error) {
				return a.scheduler.SubmitWithDetails(task.KindSettingsUpdate, indexUID, details)
			})
			if err != nil {
				return err
			}
			return printTaskResult(cmd, t)
		},
	}

	cmd.Flags().StringSliceVar(&searchableAttributes, "searchable-attributes", nil, "Fields to tokenize and rank on")
	cmd.Flags().StringSliceVar(&filterableAttributes, "filterable-attributes", nil, "Fields usable in filter expressions")
	cmd.Flags().StringSliceVar(&stopWords, "stop-words", nil, "Words excluded from tokenization")
	cmd.Flags().StringVar(&primaryKey, "primary-key", "", "Field used as each document's external ID")

	return cmd
}
