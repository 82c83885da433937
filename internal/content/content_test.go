package content

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/store"
)

func strPtr(s string) *string { return &s }

func question() schemas.Record {
	return schemas.Record{
		Title: strPtr("如何评价 Go 的错误处理？"),
		URL:   strPtr("https://example.test/question/1"),
		Tags:  []string{"Go", "编程语言"},
	}
}

// setupGemini points a GeminiSource at a mock server and disables real
// backoff delays.
func setupGemini(t *testing.T, handler http.HandlerFunc) (*GeminiSource, *observer.ObservedLogs) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	core, logs := observer.New(zap.InfoLevel)
	src, err := NewGeminiSource(config.GeminiConfig{
		APIKey:     "test-key",
		Model:      "gemini-test",
		Endpoint:   server.URL,
		APITimeout: 5 * time.Second,
		MaxTokens:  128,
	}, "", zap.New(core))
	require.NoError(t, err)
	src.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return src, logs
}

const geminiOK = `{
  "candidates": [{"content": {"parts": [{"text": "# 回答\n\n正文 **重点**"}], "role": "model"}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 20, "totalTokenCount": 30}
}`

func TestGeminiSource_Success(t *testing.T) {
	var gotBody string
	src, logs := setupGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(geminiOK))
	})

	doc, err := src.Document(context.Background(), Request{Question: question()})
	require.NoError(t, err)
	assert.Equal(t, "回答", doc.Title)
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "正文 重点", doc.Blocks[1].Text)

	assert.Contains(t, gotBody, "如何评价 Go 的错误处理？")
	assert.Contains(t, gotBody, `"maxOutputTokens":128`)
	assert.Contains(t, gotBody, "system_instruction")
	assert.Equal(t, 1, logs.FilterMessage("Answer generation complete.").Len())
}

func TestGeminiSource_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	src, _ := setupGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(geminiOK))
	})

	_, err := src.Document(context.Background(), Request{Question: question()})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGeminiSource_PermanentErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	src, _ := setupGemini(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	})

	_, err := src.Document(context.Background(), Request{Question: question()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeminiSource_SafetyBlock(t *testing.T) {
	src, _ := setupGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	})
	_, err := src.Document(context.Background(), Request{Question: question()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestGeminiSource_RequiresQuestion(t *testing.T) {
	src, _ := setupGemini(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := src.Document(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestNewGeminiSource_DefaultEndpoint(t *testing.T) {
	src, err := NewGeminiSource(config.GeminiConfig{APIKey: "k", Model: "gemini-2.5-flash"}, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent", src.endpoint)
	assert.Equal(t, defaultSystemPrompt, src.systemPrompt)

	_, err = NewGeminiSource(config.GeminiConfig{}, "", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/docs/answer.md", []byte("# 标题\n\n段落"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/docs/blank.md", []byte("\n\n"), 0o644))
	docs := store.NewDocuments(fs, "/docs")

	doc, err := NewFileSource(docs, "answer.md").Document(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "标题", doc.Title)
	assert.Len(t, doc.Blocks, 2)

	_, err = NewFileSource(docs, "blank.md").Document(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = NewFileSource(docs, "missing.md").Document(context.Background(), Request{})
	assert.Error(t, err)
}

func TestTemplateSource(t *testing.T) {
	src := NewTemplateSource()
	src.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	doc, err := src.Document(context.Background(), Request{Question: question()})
	require.NoError(t, err)
	assert.Equal(t, "如何评价 Go 的错误处理？", doc.Title)

	var kinds []schemas.BlockKind
	for _, b := range doc.Blocks {
		kinds = append(kinds, b.Kind)
	}
	assert.Contains(t, kinds, schemas.BlockListItem)
	assert.Contains(t, kinds, schemas.BlockQuote)
	assert.Contains(t, kinds, schemas.BlockCode)
	assert.Contains(t, doc.PlainText(), "#Go #编程语言")
	assert.Contains(t, doc.PlainText(), "2026-01-02 03:04:05")

	_, err = src.Document(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

type stubSource struct {
	name  string
	doc   schemas.PortableDocument
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Document(context.Context, Request) (schemas.PortableDocument, error) {
	s.calls++
	return s.doc, s.err
}

func TestFallback(t *testing.T) {
	good := schemas.PortableDocument{Blocks: []schemas.Block{schemas.Paragraph("ok")}}

	t.Run("first success wins", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		failing := &stubSource{name: "a", err: errors.New("down")}
		working := &stubSource{name: "b", doc: good}
		unused := &stubSource{name: "c", doc: good}

		doc, err := NewFallback(zap.New(core), failing, working, unused).Document(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, good, doc)
		assert.Zero(t, unused.calls)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("all failing joins errors", func(t *testing.T) {
		errA, errB := errors.New("a down"), errors.New("b down")
		_, err := NewFallback(zaptest.NewLogger(t),
			&stubSource{name: "a", err: errA},
			&stubSource{name: "b", err: errB},
		).Document(context.Background(), Request{})
		assert.ErrorIs(t, err, errA)
		assert.ErrorIs(t, err, errB)
	})

	t.Run("cancellation stops the chain", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		next := &stubSource{name: "b", doc: good}
		_, err := NewFallback(zaptest.NewLogger(t), &stubSource{name: "a", err: context.Canceled}, next).Document(ctx, Request{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, next.calls)
	})
}

func TestNew(t *testing.T) {
	docs := store.NewDocuments(afero.NewMemMapFs(), "/")
	logger := zaptest.NewLogger(t)

	src, err := New(config.ContentConfig{Source: config.ContentSourceFile, DocumentPath: "a.md"}, docs, logger)
	require.NoError(t, err)
	assert.Equal(t, "file", src.Name())

	src, err = New(config.ContentConfig{Source: config.ContentSourceGemini, Gemini: config.GeminiConfig{APIKey: "k"}}, docs, logger)
	require.NoError(t, err)
	assert.Equal(t, "fallback", src.Name())

	src, err = New(config.ContentConfig{Source: config.ContentSourceTemplate}, docs, logger)
	require.NoError(t, err)
	assert.Equal(t, "template", src.Name())

	_, err = New(config.ContentConfig{Source: "carrier-pigeon"}, docs, logger)
	assert.Error(t, err)
}
