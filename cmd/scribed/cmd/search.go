package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/scribe/internal/daemon"
)

func newSearchCmd() *cobra.Command {
	var (
		indexUID      string
		limit         int
		offset        int
		filters       []string
		sortField     string
		sortDesc      bool
		semanticRatio float64
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an index via the running daemon",
		Long: `Search an index by connecting to a running daemon (§4.4). Start one
first with 'scribed daemon start'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]
			if indexUID == "" {
				return fmt.Errorf("--index is required")
			}

			dcfg := daemonConfigFrom(loadedCfg)
			client := daemon.NewClient(dcfg)
			if !client.IsRunning() {
				return fmt.Errorf("daemon is not running; start it with 'scribed daemon start'")
			}

			params := daemon.SearchParams{
				Query:     query,
				Index:     indexUID,
				Limit:     limit,
				Offset:    offset,
				Filters:   parseFilters(filters),
				SortField: sortField,
				SortDesc:  sortDesc,
			}
			if cmd.Flags().Changed("semantic-ratio") {
				params.SemanticRatio = &semanticRatio
			}

			results, err := client.Search(cmd.Context(), params)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			return printSearchResults(cmd, results, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&indexUID, "index", "", "Index to search (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of leading results to skip")
	cmd.Flags().StringSliceVar(&filters, "filter", nil, "Equality filter field=value (repeatable, ANDed)")
	cmd.Flags().StringVar(&sortField, "sort", "", "Filterable attribute to sort by")
	cmd.Flags().BoolVar(&sortDesc, "sort-desc", false, "Sort descending")
	cmd.Flags().Float64Var(&semanticRatio, "semantic-ratio", 0.5, "Blend of keyword (0) vs vector (1) ranking")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func parseFilters(raw []string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}

func printSearchResults(cmd *cobra.Command, results []daemon.SearchResult, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No results")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s (score: %.4f)\n", i+1, r.ExternalID, r.Score)
		for k, v := range r.Document {
			fmt.Fprintf(out, "     %s: %v\n", k, v)
		}
	}
	return nil
}
