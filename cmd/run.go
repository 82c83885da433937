package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/quill/internal/content"
	"github.com/xkilldash9x/quill/internal/orchestrator"
)

func newRunCmd() *cobra.Command {
	var draftOnly, manualAssist bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Search, pick the best question and answer it",
		Long: `Logs in, runs every configured search query, ranks the results and writes
an answer into the selected question's editor. The answer is published unless
--draft-only is given. Artifacts are written to the day's output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, c *components) (orchestrator.Result, error) {
				c.cfg.Run.DraftOnly = draftOnly
				c.cfg.Run.ManualAssist = manualAssist

				src, err := content.New(c.cfg.Content, c.docs, c.logger)
				if err != nil {
					return orchestrator.Result{}, err
				}
				o, err := c.orchestrator(cmd, src)
				if err != nil {
					return orchestrator.Result{}, err
				}
				return o.Run(ctx)
			})
		},
	}

	flags := runCmd.Flags()
	flags.StringSliceP("query", "q", nil, "Search query; repeat for several (overrides search.queries)")
	flags.Bool("hot-list", false, "Also consider the hot list, ranked by ranking.heat_weight (overrides search.use_hot_list)")
	flags.Int("limit", 20, "Maximum results kept per query (overrides search.result_limit)")
	flags.String("content-source", "file", "Answer source: file, gemini or template (overrides content.source)")
	flags.String("document", "", "Answer document for the file source (overrides content.document_path)")
	flags.String("login-mode", "credentials", "Login mode: credentials or manual (overrides session.mode)")
	flags.Bool("headless", false, "Run the browser headless (overrides browser.headless)")
	flags.BoolVar(&draftOnly, "draft-only", false, "Write the answer but do not publish it")
	flags.BoolVar(&manualAssist, "manual-assist", false, "Confirm the selected question at the terminal")

	bindConfig(runCmd, "query", "search.queries")
	bindConfig(runCmd, "hot-list", "search.use_hot_list")
	bindConfig(runCmd, "limit", "search.result_limit")
	bindConfig(runCmd, "content-source", "content.source")
	bindConfig(runCmd, "document", "content.document_path")
	bindConfig(runCmd, "login-mode", "session.mode")
	bindConfig(runCmd, "headless", "browser.headless")
	return runCmd
}
