// Package orchestrator runs the end-to-end workflows: answering a selected
// question, publishing a prepared document and fetching an article.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/content"
	"github.com/xkilldash9x/quill/internal/extract"
	"github.com/xkilldash9x/quill/internal/inject"
	"github.com/xkilldash9x/quill/internal/locator"
	"github.com/xkilldash9x/quill/internal/operator"
	"github.com/xkilldash9x/quill/internal/profile"
	"github.com/xkilldash9x/quill/internal/rank"
	"github.com/xkilldash9x/quill/internal/reporting"
	"github.com/xkilldash9x/quill/internal/session"
	"github.com/xkilldash9x/quill/internal/store"
)

// manualAssistChoices bounds how many candidates the operator is shown.
const manualAssistChoices = 5

// Deps are the components a run is assembled from.
type Deps struct {
	Page      locator.Page
	Profile   profile.Profile
	Content   content.Source
	Documents *store.Documents
	Reporter  *reporting.Reporter
	Operator  operator.Prompter
	// Limiter paces search navigation. Nil derives one from the search
	// configuration.
	Limiter *rate.Limiter
}

// Result summarizes a completed run.
type Result struct {
	Report    schemas.ExecutionReport
	Selected  *schemas.ScoredCandidate
	Outcome   inject.Outcome
	Artifacts []string
}

// Orchestrator drives one browser page through a workflow.
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	deps     Deps
	resolver *locator.Resolver
	limiter  *rate.Limiter
}

// New validates the dependencies and creates an orchestrator.
func New(cfg *config.Config, logger *zap.Logger, deps Deps) (*Orchestrator, error) {
	if cfg == nil || logger == nil || deps.Page == nil || deps.Reporter == nil ||
		deps.Documents == nil || deps.Operator == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if err := deps.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid site profile: %w", err)
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = newLimiter(cfg.Search.RatePerMinute)
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.Named("orchestrator"),
		deps:   deps,
		resolver: locator.NewResolver(deps.Page, logger,
			locator.WithTimeout(cfg.Locator.PerStrategyTimeout),
			locator.WithPollInterval(cfg.Locator.PollInterval)),
		limiter: limiter,
	}, nil
}

func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), 1)
}

// pass carries the state of one workflow execution.
type pass struct {
	run       *reporting.Run
	snapshots *reporting.Snapshots
	artifacts reporting.Artifacts
	result    Result
}

func (o *Orchestrator) begin(target string) *pass {
	run := o.deps.Reporter.Begin(target)
	return &pass{run: run, snapshots: o.deps.Reporter.Snapshots(run, o.deps.Page)}
}

// finish writes the report. A pipeline error takes precedence over a
// reporting error.
func (o *Orchestrator) finish(ctx context.Context, p *pass, runErr error) (Result, error) {
	report, err := o.deps.Reporter.Finish(ctx, p.run, p.artifacts, runErr)
	p.result.Report = report
	if runErr != nil {
		return p.result, runErr
	}
	return p.result, err
}

// fail wraps err as a RunError, capturing a snapshot unless one exists.
func (o *Orchestrator) fail(ctx context.Context, p *pass, component, state, snapshot string, err error) error {
	var re *RunError
	if errors.As(err, &re) {
		return err
	}
	if snapshot == "" {
		path, serr := p.snapshots.Capture(context.WithoutCancel(ctx), component+"-failure")
		if serr != nil {
			o.logger.Warn("Failed to capture failure snapshot.", zap.Error(serr))
		}
		snapshot = path
	}
	o.logger.Error("Run aborted.", zap.String("component", component), zap.String("state", state), zap.Error(err))
	return &RunError{Component: component, State: state, Snapshot: snapshot, Err: err}
}

// Run executes the answer workflow: log in, search, pick a question, write
// an answer into its editor and publish it unless drafting only.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	p := o.begin(o.searchTarget())
	err := o.run(ctx, p)
	return o.finish(ctx, p, err)
}

func (o *Orchestrator) run(ctx context.Context, p *pass) error {
	if err := o.authenticate(ctx, p); err != nil {
		return err
	}

	records, err := o.search(ctx, p)
	if err != nil {
		return o.fail(ctx, p, "search", "searching", "", err)
	}

	ranker := rank.New(o.cfg.Ranking)
	ranked := ranker.Rank(records)
	p.artifacts.Candidates = ranked
	selected, ok := ranker.Select(ranked)
	if !ok {
		return o.fail(ctx, p, "ranker", "selecting", "", ErrNoCandidates)
	}
	if o.cfg.Run.ManualAssist {
		if selected, err = o.confirm(ctx, ranked, selected); err != nil {
			return o.fail(ctx, p, "operator", "selecting", "", err)
		}
	}
	p.result.Selected = &selected
	p.run.Set("selected", selected.Record.TitleOrURL())
	p.run.Set("score", selected.Score)
	p.run.Set("eligible", selected.Eligible)
	o.logger.Info("Candidate selected.",
		zap.String("title", selected.Record.TitleOrURL()),
		zap.Float64("score", selected.Score),
		zap.Bool("eligible", selected.Eligible),
		zap.Int("ranked", len(ranked)))

	target := schemas.StringOr(selected.Record.URL, "")
	if target == "" {
		return o.fail(ctx, p, "ranker", "selecting", "", fmt.Errorf("selected candidate %q has no URL", selected.Record.TitleOrURL()))
	}
	p.run.Target = target
	question, err := o.openQuestion(ctx, target, selected.Record)
	if err != nil {
		return o.fail(ctx, p, "extract", "opening question", "", err)
	}
	p.artifacts.Question = &question

	doc, err := o.document(ctx, question)
	if err != nil {
		return o.fail(ctx, p, "content", "generating", "", err)
	}
	p.artifacts.Draft = &doc

	return o.inject(ctx, p, doc)
}

// Publish injects a prepared document into the question at target.
func (o *Orchestrator) Publish(ctx context.Context, target string) (Result, error) {
	p := o.begin(target)
	err := o.publish(ctx, p, target)
	return o.finish(ctx, p, err)
}

func (o *Orchestrator) publish(ctx context.Context, p *pass, target string) error {
	if err := o.authenticate(ctx, p); err != nil {
		return err
	}
	question, err := o.openQuestion(ctx, target, schemas.Record{})
	if err != nil {
		return o.fail(ctx, p, "extract", "opening question", "", err)
	}
	p.artifacts.Question = &question

	doc, err := o.document(ctx, question)
	if err != nil {
		return o.fail(ctx, p, "content", "loading document", "", err)
	}
	p.artifacts.Draft = &doc
	return o.inject(ctx, p, doc)
}

// Fetch extracts the article at target and archives it as Markdown and
// JSON in the run directory.
func (o *Orchestrator) Fetch(ctx context.Context, target string) (Result, error) {
	p := o.begin(target)
	err := o.fetch(ctx, p, target)
	return o.finish(ctx, p, err)
}

func (o *Orchestrator) fetch(ctx context.Context, p *pass, target string) error {
	if !o.cfg.Run.Static {
		if err := o.authenticate(ctx, p); err != nil {
			return err
		}
	}
	if err := o.deps.Page.Navigate(ctx, target); err != nil {
		return o.fail(ctx, p, "browser", "navigating", "", err)
	}

	ex := extract.NewExtractor(o.resolver, o.deps.Profile.Article, o.logger)
	rec, err := ex.Extract(ctx, locator.Document)
	if err != nil {
		return o.fail(ctx, p, "extract", "extracting article", "", err)
	}
	if !rec.Identifiable() {
		return o.fail(ctx, p, "extract", "extracting article", "", fmt.Errorf("no title or URL found at %s", target))
	}
	p.artifacts.Question = &rec
	p.run.Set("fields", rec.Present())

	md, err := ex.Markdown(ctx, locator.Document)
	if err != nil {
		return o.fail(ctx, p, "extract", "converting article", "", err)
	}
	name := slug(target)
	if md != "" {
		header := "# " + schemas.StringOr(rec.Title, name) + "\n\n"
		path, err := o.deps.Documents.WriteDocument(p.run.Dir, name+".md", header+md+"\n")
		if err != nil {
			return o.fail(ctx, p, "store", "archiving", "", err)
		}
		p.result.Artifacts = append(p.result.Artifacts, path)
	}
	path, err := o.deps.Documents.WriteStructured(p.run.Dir, name+".json", rec)
	if err != nil {
		return o.fail(ctx, p, "store", "archiving", "", err)
	}
	p.result.Artifacts = append(p.result.Artifacts, path)
	o.logger.Info("Article archived.", zap.String("title", rec.TitleOrURL()), zap.Strings("files", p.result.Artifacts))
	return nil
}

func (o *Orchestrator) authenticate(ctx context.Context, p *pass) error {
	m := session.NewManager(o.resolver, o.deps.Profile.Session, o.cfg.Session, o.deps.Operator, o.logger,
		session.WithSnapshotter(p.snapshots))
	s, err := m.Ensure(ctx)
	p.run.Set("session_state", s.State.String())
	p.run.Set("escalated", s.Escalated)
	if err != nil {
		return o.fail(ctx, p, "session", s.State.String(), s.Snapshot, err)
	}
	return nil
}

// search runs every configured query and the hot list, returning the
// de-duplicated records. A query whose result list cannot be located is
// skipped; the search fails only when nothing was found at all.
func (o *Orchestrator) search(ctx context.Context, p *pass) ([]schemas.Record, error) {
	type source struct {
		origin string
		url    string
		items  locator.Chain
		schema extract.Schema
	}
	var sources []source
	for _, q := range o.cfg.Search.Queries {
		sources = append(sources, source{q, searchURL(o.cfg.Search.URLTemplate, q), o.deps.Profile.SearchItems, o.deps.Profile.SearchResult})
	}
	if o.cfg.Search.UseHotList && o.cfg.Search.HotListURL != "" {
		sources = append(sources, source{"hot", o.cfg.Search.HotListURL, o.deps.Profile.HotItems, o.deps.Profile.HotItem})
	}
	if len(sources) == 0 {
		return nil, ErrNoQueries
	}

	var (
		records []schemas.Record
		total   extract.Stats
		skipped []string
	)
	for _, src := range sources {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := o.deps.Page.Navigate(ctx, src.url); err != nil {
			return nil, err
		}
		ex := extract.NewExtractor(o.resolver, src.schema, o.logger)
		batch, stats, err := ex.ExtractAll(ctx, src.items, src.origin, o.cfg.Search.ResultLimit)
		if err != nil {
			if errors.Is(err, locator.ErrExhausted) {
				o.logger.Warn("No results located for query, skipping.", zap.String("query", src.origin), zap.Error(err))
				skipped = append(skipped, src.origin)
				continue
			}
			return nil, err
		}
		o.logger.Info("Search results extracted.",
			zap.String("query", src.origin), zap.Int("kept", stats.Kept), zap.Int("dropped", stats.Dropped))
		total.Seen += stats.Seen
		total.Kept += stats.Kept
		total.Dropped += stats.Dropped
		records = append(records, batch...)
	}

	records = rank.DedupeByURL(records)
	p.run.Set("records_seen", total.Seen)
	p.run.Set("records_kept", len(records))
	p.run.Set("records_dropped", total.Dropped)
	if len(skipped) > 0 {
		p.run.Set("queries_without_results", skipped)
	}
	if len(records) == 0 {
		return nil, ErrNoCandidates
	}
	return records, nil
}

// confirm lets the operator pick among the top candidates.
func (o *Orchestrator) confirm(ctx context.Context, ranked []schemas.ScoredCandidate, selected schemas.ScoredCandidate) (schemas.ScoredCandidate, error) {
	top := ranked[:min(len(ranked), manualAssistChoices)]
	choices := make([]schemas.ScoredCandidate, 0, len(top)+1)
	choices = append(choices, selected)
	for _, c := range top {
		if c.Index != selected.Index {
			choices = append(choices, c)
		}
	}
	options := make([]string, len(choices))
	for i, c := range choices {
		mark := ""
		if !c.Eligible {
			mark = ", outside filters"
		}
		options[i] = fmt.Sprintf("%s (score %.0f%s)", c.Record.TitleOrURL(), c.Score, mark)
	}
	i, err := o.deps.Operator.Choose(ctx, "Select the question to answer:", options)
	if err != nil {
		return schemas.ScoredCandidate{}, err
	}
	return choices[i], nil
}

// openQuestion navigates to the question and extracts its details, keeping
// the search-time fields the page does not show.
func (o *Orchestrator) openQuestion(ctx context.Context, target string, known schemas.Record) (schemas.Record, error) {
	if err := o.deps.Page.Navigate(ctx, target); err != nil {
		return schemas.Record{}, err
	}
	ex := extract.NewExtractor(o.resolver, o.deps.Profile.Question, o.logger)
	rec, err := ex.Extract(ctx, locator.Document)
	if err != nil {
		return schemas.Record{}, err
	}
	return merge(rec, known), nil
}

func (o *Orchestrator) document(ctx context.Context, question schemas.Record) (schemas.PortableDocument, error) {
	if o.deps.Content == nil {
		return schemas.PortableDocument{}, errors.New("no content source configured")
	}
	doc, err := o.deps.Content.Document(ctx, content.Request{Question: question})
	if err != nil {
		return schemas.PortableDocument{}, err
	}
	o.logger.Info("Answer document ready.", zap.String("source", o.deps.Content.Name()), zap.Int("blocks", len(doc.Blocks)))
	return doc, nil
}

func (o *Orchestrator) inject(ctx context.Context, p *pass, doc schemas.PortableDocument) error {
	cfg := o.cfg.Inject
	cfg.Publish = cfg.Publish && !o.cfg.Run.DraftOnly
	inj := inject.New(o.resolver, o.deps.Profile.Inject, cfg, o.logger, inject.WithSnapshotter(p.snapshots))

	out, err := inj.Inject(ctx, doc)
	p.result.Outcome = out
	p.run.Set("strategy", out.Strategy)
	p.run.Set("degraded", out.Degraded)
	p.run.Set("published", out.Published)
	if err != nil {
		state := "injecting"
		if errors.Is(err, inject.ErrPublishControlMissing) {
			state = "publishing"
		}
		return o.fail(ctx, p, "injector", state, out.Snapshot, err)
	}
	return nil
}

func (o *Orchestrator) searchTarget() string {
	targets := append([]string(nil), o.cfg.Search.Queries...)
	if o.cfg.Search.UseHotList {
		targets = append(targets, "hot")
	}
	return "search:" + strings.Join(targets, ",")
}

// merge fills fields missing from rec with the values from known.
func merge(rec, known schemas.Record) schemas.Record {
	if rec.Title == nil {
		rec.Title = known.Title
	}
	if rec.URL == nil {
		rec.URL = known.URL
	}
	if len(rec.Tags) == 0 {
		rec.Tags = known.Tags
	}
	for name, c := range known.Counters {
		if _, ok := rec.Counters[name]; ok {
			continue
		}
		if rec.Counters == nil {
			rec.Counters = make(map[string]schemas.Counter)
		}
		rec.Counters[name] = c
	}
	if rec.Origin == "" {
		rec.Origin = known.Origin
	}
	return rec
}

func searchURL(template, query string) string {
	escaped := url.QueryEscape(query)
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, escaped)
	}
	return template + escaped
}

// slug names archived files after the last path segment of target.
func slug(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "article"
	}
	base := path.Base(strings.TrimSuffix(u.Path, "/"))
	if base == "" || base == "." || base == "/" {
		return "article"
	}
	return base
}
