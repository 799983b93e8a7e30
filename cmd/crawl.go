package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/evidence-crawler/internal/service"
)

func newCrawlCmd() *cobra.Command {
	var req service.CrawlRequest
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Search every site of a category for the keywords",
		Long: `Runs each whitespace-separated keyword against every site configured for
the category, static sites over plain HTTP and dynamic sites in a headless
browser, and prints the merged title to URL map.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Service().Crawl(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&req.Category, "category", "", "registry category (defaults to the configured default category)")
	cmd.Flags().StringVar(&req.Keywords, "keywords", "", "whitespace-separated keywords")
	_ = cmd.MarkFlagRequired("keywords")
	return cmd
}
