package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/evidence-crawler/internal/walker"
)

func newWalkCmd() *cobra.Command {
	var req walker.Request
	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Visit pages from a start URL and archive those mentioning a keyword",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Service().Walk(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&req.StartURL, "start-url", "", "page to start from")
	cmd.Flags().StringSliceVar(&req.Keywords, "keywords", nil, "keywords, comma separated or repeated")
	cmd.Flags().IntVar(&req.MaxPages, "max-pages", 0, "matched pages to collect (0 uses walker.max_pages)")
	cmd.Flags().BoolVar(&req.FollowLinks, "follow-links", false, "follow links found on visited pages")
	_ = cmd.MarkFlagRequired("start-url")
	_ = cmd.MarkFlagRequired("keywords")
	return cmd
}
