package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/evidence-crawler/internal/search"
)

func newSearchCmd() *cobra.Command {
	var req search.Request
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Use a site's own search page to find results for each keyword",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := appInstance.Service().Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&req.BaseURL, "base-url", "", "site to search, e.g. https://www.ipcc.ch")
	cmd.Flags().StringSliceVar(&req.Keywords, "keywords", nil, "keywords, comma separated or repeated")
	cmd.Flags().IntVar(&req.MaxResults, "max-results", 0, "results per keyword (0 uses search.max_results)")
	cmd.Flags().StringVar(&req.Language, "language", "", "language for sites that take one (ko, en, fr, es, zh, ja)")
	_ = cmd.MarkFlagRequired("base-url")
	_ = cmd.MarkFlagRequired("keywords")
	return cmd
}
