package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/internal/browser"
	"github.com/xkilldash9x/quill/internal/browser/static"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/content"
	"github.com/xkilldash9x/quill/internal/locator"
	"github.com/xkilldash9x/quill/internal/observability"
	"github.com/xkilldash9x/quill/internal/operator"
	"github.com/xkilldash9x/quill/internal/orchestrator"
	"github.com/xkilldash9x/quill/internal/profile"
	"github.com/xkilldash9x/quill/internal/reporting"
	"github.com/xkilldash9x/quill/internal/store"
)

const runLogFile = "quill.log"

// newPage opens the page a command drives. Tests replace it.
var newPage = openPage

func openPage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (locator.Page, func(context.Context), error) {
	if cfg.Run.Static {
		client := &http.Client{Timeout: cfg.Browser.NavigationTimeout}
		return static.New(static.WithHTTPClient(client)), func(context.Context) {}, nil
	}

	manager, err := browser.NewManager(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, nil, err
	}
	page, err := manager.NewPage(ctx)
	if err != nil {
		_ = manager.Close(ctx)
		return nil, nil, err
	}
	return page, func(ctx context.Context) {
		if err := manager.Close(ctx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}, nil
}

// components holds the services one command runs against.
type components struct {
	cfg      *config.Config
	logger   *zap.Logger
	page     locator.Page
	profile  profile.Profile
	docs     *store.Documents
	reporter *reporting.Reporter
	closers  []func(context.Context)
}

// initializeComponents handles dependency injection. On error everything
// opened so far is released.
func initializeComponents(ctx context.Context, cfg *config.Config) (_ *components, err error) {
	fs := afero.NewOsFs()
	logger, closeLog := observability.WithRunFile(observability.GetLogger(), cfg.Logger,
		filepath.Join(cfg.Store.OutputDir, store.DayDir(time.Now()), runLogFile))

	c := &components{cfg: cfg, logger: logger}
	c.closers = append(c.closers, func(context.Context) { _ = closeLog() })
	defer func() {
		if err != nil {
			c.Shutdown(ctx)
		}
	}()

	if c.profile, err = profile.Load(fs, cfg.Profile.Path); err != nil {
		return nil, err
	}
	c.docs = store.NewDocuments(fs, cfg.Store.OutputDir)

	var opts []reporting.Option
	if cfg.Store.DatabaseURL != "" {
		sink, closeSink, err := store.Connect(ctx, cfg.Store.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) { closeSink() })
		if err := sink.Migrate(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, reporting.WithSink(sink))
	}
	c.reporter = reporting.New(c.docs, logger, opts...)

	page, closePage, err := newPage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser page: %w", err)
	}
	c.page = page
	c.closers = append(c.closers, closePage)
	return c, nil
}

// orchestrator wires the components into an orchestrator. src may be nil
// for commands that produce no content.
func (c *components) orchestrator(cmd *cobra.Command, src content.Source) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(c.cfg, c.logger, orchestrator.Deps{
		Page:      c.page,
		Profile:   c.profile,
		Content:   src,
		Documents: c.docs,
		Reporter:  c.reporter,
		Operator:  operator.NewConsole(cmd.InOrStdin(), cmd.ErrOrStderr()),
	})
}

// Shutdown releases everything in reverse order of acquisition.
func (c *components) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i](shutdownCtx)
	}
}

// runWith initializes the components, runs fn and releases them.
func runWith(cmd *cobra.Command, fn func(context.Context, *components) (orchestrator.Result, error)) error {
	ctx := cmd.Context()
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	c, err := initializeComponents(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer c.Shutdown(ctx)

	res, err := fn(ctx, c)
	printResult(cmd.OutOrStdout(), cfg, res)
	return err
}

func printResult(w io.Writer, cfg *config.Config, res orchestrator.Result) {
	report := res.Report
	if report.RunID == "" {
		return
	}
	fmt.Fprintf(w, "\nRun %s finished with status %s in %s.\n", report.RunID, report.Status, report.Duration.Round(time.Millisecond))
	if res.Selected != nil {
		fmt.Fprintf(w, "Question: %s (score %.0f)\n", res.Selected.Record.TitleOrURL(), res.Selected.Score)
	}
	if res.Outcome.Strategy != "" {
		fmt.Fprintf(w, "Injected with %s; published: %t\n", res.Outcome.Strategy, res.Outcome.Published)
	}
	for _, path := range res.Artifacts {
		fmt.Fprintf(w, "Saved %s\n", path)
	}
	if report.Failure != nil {
		fmt.Fprintf(w, "Failed in %s: %s\n", report.Failure.Component, report.Failure.Detail)
		if report.Failure.Snapshot != "" {
			fmt.Fprintf(w, "Snapshot: %s\n", report.Failure.Snapshot)
		}
	}
	fmt.Fprintf(w, "Report: %s\n", filepath.Join(cfg.Store.OutputDir, store.DayDir(report.Timestamp), reporting.ReportFile))
}
