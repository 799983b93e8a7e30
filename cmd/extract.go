package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/evidence-crawler/internal/service"
)

func newExtractCmd() *cobra.Command {
	var req service.ExtractRequest
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Print the paragraphs of a page that mention each keyword",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			record, err := appInstance.Service().Extract(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), record)
		},
	}
	cmd.Flags().StringVar(&req.URL, "url", "", "page to read")
	cmd.Flags().StringVar(&req.Keywords, "keywords", "", "whitespace-separated keywords")
	cmd.Flags().IntVar(&req.MaxResults, "max-results", 0, "paragraphs per keyword (0 uses evidence.max_results)")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("keywords")
	return cmd
}
