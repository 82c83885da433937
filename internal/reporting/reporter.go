// Package reporting records the outcome of each run as files in the run
// directory and, optionally, as rows in a report sink.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/markup"
	"github.com/xkilldash9x/quill/internal/store"
)

// Artifact file names written to the run directory.
const (
	DraftFile    = "answer-draft.md"
	QuestionFile = "question-info.json"
	ReportFile   = "execution-report.json"
)

// Sink persists reports outside the run directory.
type Sink interface {
	PersistReport(ctx context.Context, report schemas.ExecutionReport, candidates []schemas.ScoredCandidate) error
}

// FailureDescriber is implemented by errors that carry structured failure
// context.
type FailureDescriber interface {
	FailureDetail() schemas.FailureDetail
}

// Run is one execution being recorded.
type Run struct {
	ID       string
	Target   string
	Started  time.Time
	Dir      string
	Metadata map[string]any
}

// Set records a metadata value reported with the run.
func (r *Run) Set(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Artifacts are the optional outputs of a run.
type Artifacts struct {
	Draft      *schemas.PortableDocument
	Question   *schemas.Record
	Candidates []schemas.ScoredCandidate
}

// Reporter writes run artifacts.
type Reporter struct {
	docs   *store.Documents
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithSink also persists every report to s.
func WithSink(s Sink) Option {
	return func(r *Reporter) { r.sink = s }
}

// New creates a reporter writing below docs.
func New(docs *store.Documents, logger *zap.Logger, opts ...Option) *Reporter {
	r := &Reporter{
		docs:   docs,
		logger: logger.Named("reporter"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin starts recording a run against target.
func (r *Reporter) Begin(target string) *Run {
	started := r.now()
	return &Run{
		ID:      uuid.NewString(),
		Target:  target,
		Started: started,
		Dir:     store.DayDir(started),
	}
}

// Snapshots returns a snapshotter writing into the run's directory.
func (r *Reporter) Snapshots(run *Run, page Capturer) *Snapshots {
	return &Snapshots{page: page, docs: r.docs, dir: run.Dir, now: r.now, logger: r.logger}
}

// Finish writes the artifacts and the execution report. runErr decides the
// status. The report is written even when some artifacts fail.
func (r *Reporter) Finish(ctx context.Context, run *Run, artifacts Artifacts, runErr error) (schemas.ExecutionReport, error) {
	report := schemas.ExecutionReport{
		RunID:     run.ID,
		Target:    run.Target,
		Timestamp: run.Started,
		Duration:  r.now().Sub(run.Started),
		Status:    schemas.StatusSuccess,
		Metadata:  run.Metadata,
	}
	if runErr != nil {
		report.Status = schemas.StatusFailure
		report.Failure = describe(runErr)
	}

	// Artifacts are still written when the run ended by cancellation.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	if artifacts.Draft != nil && !artifacts.Draft.Empty() {
		g.Go(func() error {
			_, err := r.docs.WriteDocument(run.Dir, DraftFile, markup.RenderDocument(*artifacts.Draft)+"\n")
			return err
		})
	}
	if artifacts.Question != nil {
		g.Go(func() error {
			_, err := r.docs.WriteStructured(run.Dir, QuestionFile, questionInfo{
				Record:     *artifacts.Question,
				Candidates: artifacts.Candidates,
			})
			return err
		})
	}
	g.Go(func() error {
		_, err := r.docs.WriteStructured(run.Dir, ReportFile, report)
		return err
	})
	if r.sink != nil {
		g.Go(func() error {
			return r.sink.PersistReport(gctx, report, artifacts.Candidates)
		})
	}

	err := g.Wait()
	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.String("status", string(report.Status)),
		zap.Duration("duration", report.Duration),
		zap.String("dir", run.Dir),
	}
	if err != nil {
		r.logger.Error("Failed to write run artifacts.", append(fields, zap.Error(err))...)
		return report, fmt.Errorf("reporting: %w", err)
	}
	r.logger.Info("Execution report written.", fields...)
	return report, nil
}

type questionInfo struct {
	schemas.Record
	Candidates []schemas.ScoredCandidate `json:"candidates,omitempty"`
}

func describe(err error) *schemas.FailureDetail {
	var d FailureDescriber
	if errors.As(err, &d) {
		detail := d.FailureDetail()
		return &detail
	}
	return &schemas.FailureDetail{Component: "run", Detail: err.Error()}
}
