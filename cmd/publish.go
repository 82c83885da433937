package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/quill/internal/content"
	"github.com/xkilldash9x/quill/internal/orchestrator"
)

func newPublishCmd() *cobra.Command {
	var draftOnly bool

	publishCmd := &cobra.Command{
		Use:   "publish <question-url>",
		Short: "Publish a local Markdown document as an answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, c *components) (orchestrator.Result, error) {
				c.cfg.Run.Target = args[0]
				c.cfg.Run.DocumentPath = c.cfg.Content.DocumentPath
				c.cfg.Run.DraftOnly = draftOnly

				o, err := c.orchestrator(cmd, content.NewFileSource(c.docs, c.cfg.Run.DocumentPath))
				if err != nil {
					return orchestrator.Result{}, err
				}
				return o.Publish(ctx, c.cfg.Run.Target)
			})
		},
	}

	flags := publishCmd.Flags()
	flags.StringP("document", "d", "answer.md", "Markdown document to publish (overrides content.document_path)")
	flags.Bool("headless", false, "Run the browser headless (overrides browser.headless)")
	flags.BoolVar(&draftOnly, "draft-only", false, "Write the answer but do not publish it")
	bindConfig(publishCmd, "document", "content.document_path")
	bindConfig(publishCmd, "headless", "browser.headless")
	return publishCmd
}
