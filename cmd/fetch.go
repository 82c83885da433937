package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/quill/internal/orchestrator"
)

func newFetchCmd() *cobra.Command {
	var useStatic bool

	fetchCmd := &cobra.Command{
		Use:   "fetch <article-url>",
		Short: "Archive an article as Markdown and JSON",
		Long: `Extracts the article at the given URL and saves it to the day's output
directory. With --static the page is fetched over plain HTTP without a
browser or login.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			// The page kind is chosen when components are created.
			cfg.Run.Static = useStatic
			return runWith(cmd, func(ctx context.Context, c *components) (orchestrator.Result, error) {
				c.cfg.Run.Target = args[0]
				o, err := c.orchestrator(cmd, nil)
				if err != nil {
					return orchestrator.Result{}, err
				}
				return o.Fetch(ctx, c.cfg.Run.Target)
			})
		},
	}

	fetchCmd.Flags().BoolVar(&useStatic, "static", false, "Fetch over HTTP without launching a browser")
	fetchCmd.Flags().Bool("headless", false, "Run the browser headless (overrides browser.headless)")
	bindConfig(fetchCmd, "headless", "browser.headless")
	return fetchCmd
}
