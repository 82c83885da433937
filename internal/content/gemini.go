package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/markup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultSystemPrompt = `你是一位资深的技术专家，在知乎上以深度技术回答闻名。请用 Markdown 撰写回答：` +
	`以 TL;DR 开头，分节展开背景、原理、实践与总结，适当使用加粗、列表和代码块。` +
	`直接输出回答内容，不要包含任何元描述。`

// -- Gemini API Request/Response Structures (Internal to this file) --
type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// GeminiSource generates answers with the Gemini generateContent API.
type GeminiSource struct {
	apiKey       string
	endpoint     string
	cfg          config.GeminiConfig
	systemPrompt string
	httpClient   *http.Client
	newBackOff   func() backoff.BackOff
	logger       *zap.Logger
}

// NewGeminiSource initializes the client.
func NewGeminiSource(cfg config.GeminiConfig, systemPrompt string, logger *zap.Logger) (*GeminiSource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &GeminiSource{
		apiKey:       cfg.APIKey,
		endpoint:     endpoint,
		cfg:          cfg,
		systemPrompt: systemPrompt,
		httpClient:   &http.Client{Timeout: cfg.APITimeout},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			b.MaxInterval = 30 * time.Second
			return b
		},
		logger: logger.Named("content.gemini"),
	}, nil
}

func (s *GeminiSource) Name() string { return "gemini" }

// Document asks the model for an answer to the question and parses the
// returned Markdown.
func (s *GeminiSource) Document(ctx context.Context, req Request) (schemas.PortableDocument, error) {
	if !req.Question.Identifiable() {
		return schemas.PortableDocument{}, fmt.Errorf("%w: no question to answer", ErrEmptyContent)
	}
	text, err := s.generate(ctx, s.userPrompt(req.Question))
	if err != nil {
		return schemas.PortableDocument{}, err
	}
	doc := markup.Parse(text)
	if doc.Empty() {
		return schemas.PortableDocument{}, ErrEmptyContent
	}
	return doc, nil
}

func (s *GeminiSource) userPrompt(q schemas.Record) string {
	var b strings.Builder
	b.WriteString("## 问题信息\n")
	fmt.Fprintf(&b, "- 标题: %s\n", schemas.StringOr(q.Title, ""))
	if q.URL != nil {
		fmt.Fprintf(&b, "- 链接: %s\n", *q.URL)
	}
	if len(q.Tags) > 0 {
		fmt.Fprintf(&b, "- 相关话题: %s\n", strings.Join(q.Tags, ", "))
	}
	for _, blk := range q.Body {
		if blk.Text != "" {
			fmt.Fprintf(&b, "- 问题描述: %s\n", blk.Text)
			break
		}
	}
	b.WriteString("\n请撰写一篇高质量的回答。")
	return b.String()
}

// generate sends the prompt to the Gemini API with retries.
func (s *GeminiSource) generate(ctx context.Context, prompt string) (string, error) {
	payload := geminiRequestPayload{
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: s.systemPrompt}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     float64(s.cfg.Temperature),
			MaxOutputTokens: s.cfg.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var responseContent string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", s.apiKey)

		startTime := time.Now()
		resp, err := s.httpClient.Do(httpReq)
		duration := time.Since(startTime)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			s.logger.Warn("Network error during generation request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return s.handleAPIError(resp.StatusCode, respBody)
		}

		var out geminiResponsePayload
		if err := json.Unmarshal(respBody, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(out.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}
		candidate := out.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
		}

		s.logger.Info("Answer generation complete.",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", out.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", out.UsageMetadata.CandidatesTokenCount),
			zap.Int("total_tokens", out.UsageMetadata.TotalTokenCount),
		)

		var text strings.Builder
		for _, p := range candidate.Content.Parts {
			text.WriteString(p.Text)
		}
		responseContent = text.String()
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return "", fmt.Errorf("content: generation failed: %w", err)
	}
	return responseContent, nil
}

func (s *GeminiSource) handleAPIError(statusCode int, body []byte) error {
	s.logger.Error("Gemini API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err)
	}
}
