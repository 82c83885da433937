package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/browser/static"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/content"
	"github.com/xkilldash9x/quill/internal/inject"
	"github.com/xkilldash9x/quill/internal/profile"
	"github.com/xkilldash9x/quill/internal/reporting"
	"github.com/xkilldash9x/quill/internal/session"
	"github.com/xkilldash9x/quill/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	loginURL   = "https://example.test/signin"
	searchURL1 = "https://example.test/search?q=golang"
	q1URL      = "https://example.test/question/1"
	q2URL      = "https://example.test/question/2"

	homePage = `<html><body><div class="AppHeader-userInfo">me</div></body></html>`

	searchPage = `<html><body>
<div class="SearchResult-Card"><h2><a href="https://example.test/question/2">Quiet question</a></h2>
  <div class="ContentItem-meta">50 人关注 · 2 个回答</div></div>
<div class="SearchResult-Card"><h2><a href="https://example.test/question/1">Busy question</a></h2>
  <div class="ContentItem-meta">1,234 人关注 · 56 个回答</div></div>
<div class="SearchResult-Card"><div class="ContentItem-meta">9 人关注</div></div>
</body></html>`

	questionPage = `<html><body>
<h1 class="QuestionHeader-title">Busy question</h1>
<div class="QuestionHeader-topics"><span class="Tag-content">Go</span></div>
<div class="QuestionButtonGroup"><button>写回答</button></div>
<div class="AnswerForm"><div class="public-DraftEditor-content" contenteditable="true"></div>
<button class="Button--primary">发布回答</button></div>
</body></html>`
)

type fakeOperator struct {
	choice  int
	options []string
	err     error
}

func (f *fakeOperator) AwaitContinue(ctx context.Context, prompt string) error { return f.err }

func (f *fakeOperator) Choose(ctx context.Context, prompt string, options []string) (int, error) {
	f.options = options
	return f.choice, f.err
}

type fakeContent struct {
	asked []string
	err   error
}

func (f *fakeContent) Name() string { return "fake" }

func (f *fakeContent) Document(ctx context.Context, req content.Request) (schemas.PortableDocument, error) {
	f.asked = append(f.asked, req.Question.TitleOrURL())
	if f.err != nil {
		return schemas.PortableDocument{}, f.err
	}
	return schemas.PortableDocument{Title: "Answer", Blocks: []schemas.Block{
		schemas.Heading(1, "Answer"),
		schemas.Paragraph("Use goroutines."),
	}}, nil
}

type fixture struct {
	page      *static.Page
	fs        afero.Fs
	cfg       *config.Config
	content   *fakeContent
	operator  *fakeOperator
	published *bool
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Locator.PerStrategyTimeout = 10 * time.Millisecond
	cfg.Locator.PollInterval = 2 * time.Millisecond
	cfg.Session.LoginURL = loginURL
	cfg.Session.SubmitWait = 20 * time.Millisecond
	cfg.Search.URLTemplate = "https://example.test/search?q=%s"
	cfg.Search.Queries = []string{"golang"}
	cfg.Search.UseHotList = false
	cfg.Inject.SettleDelay = 0
	cfg.Inject.Publish = true
	return cfg
}

// pasting emulates an editor that accepts the structured paste.
func pasting(ctx context.Context, p *static.Page, el *goquery.Selection, arg any) (any, error) {
	return map[string]any{"consumed": true}, nil
}

func newFixture(t *testing.T, routes map[string]string) *fixture {
	t.Helper()
	published := false
	opts := []static.Option{
		static.WithScript("quill.paste", pasting),
		static.OnClick("button.Button--primary", func(*static.Page, *goquery.Selection) { published = true }),
	}
	for url, body := range routes {
		opts = append(opts, static.WithRoute(url, body))
	}
	return &fixture{
		page:      static.New(opts...),
		fs:        afero.NewMemMapFs(),
		cfg:       testConfig(),
		content:   &fakeContent{},
		operator:  &fakeOperator{},
		published: &published,
	}
}

func defaultRoutes() map[string]string {
	return map[string]string{
		loginURL:   homePage,
		searchURL1: searchPage,
		q1URL:      questionPage,
		q2URL:      strings.Replace(questionPage, "Busy question", "Quiet question", 1),
	}
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	docs := store.NewDocuments(f.fs, "/out")
	o, err := New(f.cfg, logger, Deps{
		Page:      f.page,
		Profile:   profile.Zhihu(),
		Content:   f.content,
		Documents: docs,
		Reporter:  reporting.New(docs, logger),
		Operator:  f.operator,
		Limiter:   rate.NewLimiter(rate.Inf, 1),
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) exists(t *testing.T, report schemas.ExecutionReport, name string) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, filepath.Join("/out", store.DayDir(report.Timestamp), name))
	require.NoError(t, err)
	return ok
}

func TestRun_AnswersBestCandidate(t *testing.T) {
	f := newFixture(t, defaultRoutes())

	res, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Report.Succeeded())
	require.NotNil(t, res.Selected)
	assert.Equal(t, "Busy question", res.Selected.Record.TitleOrURL())
	assert.True(t, res.Selected.Eligible)
	assert.Equal(t, inject.Outcome{Strategy: inject.StrategyPaste, Published: true}, res.Outcome)
	assert.True(t, *f.published)
	assert.Equal(t, []string{"Busy question"}, f.content.asked)

	assert.Equal(t, q1URL, res.Report.Target)
	assert.Equal(t, 3, res.Report.Metadata["records_seen"])
	assert.Equal(t, 2, res.Report.Metadata["records_kept"])
	assert.Equal(t, "authenticated", res.Report.Metadata["session_state"])
	assert.Equal(t, true, res.Report.Metadata["published"])

	assert.True(t, f.exists(t, res.Report, reporting.DraftFile))
	assert.True(t, f.exists(t, res.Report, reporting.QuestionFile))
	assert.True(t, f.exists(t, res.Report, reporting.ReportFile))

	draft, err := afero.ReadFile(f.fs, filepath.Join("/out", store.DayDir(res.Report.Timestamp), reporting.DraftFile))
	require.NoError(t, err)
	assert.Equal(t, "# Answer\n\nUse goroutines.\n", string(draft))
}

func TestRun_DraftOnlySkipsPublish(t *testing.T) {
	f := newFixture(t, defaultRoutes())
	f.cfg.Run.DraftOnly = true

	res, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Outcome.Published)
	assert.False(t, *f.published)
	assert.True(t, res.Report.Succeeded())
}

func TestRun_ManualAssistLetsOperatorChoose(t *testing.T) {
	f := newFixture(t, defaultRoutes())
	f.cfg.Run.ManualAssist = true
	f.operator.choice = 1

	res, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, f.operator.options, 2)
	assert.True(t, strings.HasPrefix(f.operator.options[0], "Busy question"))
	assert.Contains(t, f.operator.options[1], "outside filters")
	assert.Equal(t, "Quiet question", res.Selected.Record.TitleOrURL())
	assert.Equal(t, q2URL, res.Report.Target)
}

func TestRun_NoResultsFailsSearch(t *testing.T) {
	routes := defaultRoutes()
	routes[searchURL1] = `<html><body><p>没有找到相关结果</p></body></html>`
	f := newFixture(t, routes)

	res, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCandidates)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "search", re.Component)
	assert.NotEmpty(t, re.Snapshot)

	require.NotNil(t, res.Report.Failure)
	assert.Equal(t, schemas.StatusFailure, res.Report.Status)
	assert.Equal(t, "search", res.Report.Failure.Component)
	assert.Equal(t, []string{"golang"}, res.Report.Metadata["queries_without_results"])
	assert.True(t, f.exists(t, res.Report, reporting.ReportFile))
	assert.Empty(t, f.content.asked)
}

func TestRun_SessionFailureIsReported(t *testing.T) {
	routes := defaultRoutes()
	routes[loginURL] = `<html><body><p>maintenance</p></body></html>`
	f := newFixture(t, routes)

	res, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "session", re.Component)
	assert.Equal(t, session.Failed.String(), re.State)
	assert.Equal(t, "session", res.Report.Failure.Component)
	assert.Equal(t, 1, f.page.Count("navigate"), "nothing is searched without a session")
}

func TestRun_MissingPublishControl(t *testing.T) {
	routes := defaultRoutes()
	routes[q1URL] = strings.Replace(questionPage, `<button class="Button--primary">发布回答</button>`, "", 1)
	f := newFixture(t, routes)

	res, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, inject.ErrPublishControlMissing)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "injector", re.Component)
	assert.Equal(t, "publishing", re.State)
	assert.Contains(t, re.Snapshot, "publish-missing")

	// The draft is kept for a manual retry.
	assert.True(t, f.exists(t, res.Report, reporting.DraftFile))
	assert.Equal(t, "injector", res.Report.Failure.Component)
}

func TestRun_ContentFailure(t *testing.T) {
	f := newFixture(t, defaultRoutes())
	f.content.err = content.ErrEmptyContent

	res, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, content.ErrEmptyContent)
	assert.Equal(t, "content", res.Report.Failure.Component)
	assert.False(t, f.exists(t, res.Report, reporting.DraftFile))
	assert.True(t, f.exists(t, res.Report, reporting.QuestionFile))
}

func TestPublish_TargetsGivenQuestion(t *testing.T) {
	f := newFixture(t, defaultRoutes())

	res, err := f.orchestrator(t).Publish(context.Background(), q2URL)
	require.NoError(t, err)
	assert.Nil(t, res.Selected)
	assert.Equal(t, []string{"Quiet question"}, f.content.asked)
	assert.True(t, res.Outcome.Published)
	assert.Equal(t, q2URL, res.Report.Target)
}

func TestFetch_ArchivesArticleWithoutLogin(t *testing.T) {
	const articleURL = "https://example.test/p/42"
	f := newFixture(t, map[string]string{articleURL: `<html><body>
<h1 class="Post-Title">Writing Go</h1>
<div class="AuthorInfo-name">gopher</div>
<div class="Post-RichText"><h2>Intro</h2><p>Keep it <strong>simple</strong>.</p></div>
</body></html>`})
	f.cfg.Run.Static = true

	res, err := f.orchestrator(t).Fetch(context.Background(), articleURL)
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 2)
	assert.Equal(t, "42.md", filepath.Base(res.Artifacts[0]))
	assert.Equal(t, "42.json", filepath.Base(res.Artifacts[1]))

	md, err := afero.ReadFile(f.fs, res.Artifacts[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Writing Go\n\n"))
	assert.Contains(t, string(md), "**simple**")
	assert.Equal(t, 1, f.page.Count("navigate"), "static fetch skips the login page")
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(testConfig(), zaptest.NewLogger(t), Deps{})
	assert.Error(t, err)
}

func TestRunErrorDetail(t *testing.T) {
	err := &RunError{Component: "injector", State: "publishing", Snapshot: "/s.html", Err: inject.ErrPublishControlMissing}
	want := schemas.FailureDetail{
		Component: "injector",
		State:     "publishing",
		Detail:    inject.ErrPublishControlMissing.Error(),
		Snapshot:  "/s.html",
	}
	if diff := cmp.Diff(want, err.FailureDetail()); diff != "" {
		t.Errorf("FailureDetail mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, err.Error(), "snapshot: /s.html")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "https://x.test/s?q=go+%E8%AF%AD%E8%A8%80", searchURL("https://x.test/s?q=%s", "go 语言"))
	assert.Equal(t, "https://x.test/s?q=go", searchURL("https://x.test/s?q=", "go"))
	assert.Equal(t, "42", slug("https://example.test/p/42/"))
	assert.Equal(t, "article", slug("https://example.test/"))

	title := "T"
	known := schemas.Record{Title: &title, Counters: map[string]schemas.Counter{"followers": {Raw: "10"}}, Origin: "q"}
	got := merge(schemas.Record{}, known)
	assert.Equal(t, &title, got.Title)
	assert.Equal(t, "q", got.Origin)
	assert.Contains(t, got.Counters, "followers")
}
