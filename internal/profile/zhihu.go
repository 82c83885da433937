package profile

import (
	"regexp"

	"github.com/xkilldash9x/quill/internal/extract"
	"github.com/xkilldash9x/quill/internal/inject"
	"github.com/xkilldash9x/quill/internal/locator"
	"github.com/xkilldash9x/quill/internal/session"
)

// count matches a number with optional separators and magnitude suffix.
const count = `([\d][\d,.]*\s*[kKmMwW万亿]?)`

func text(selector string, texts ...string) locator.Strategy {
	return locator.Strategy{Selector: selector, Text: texts}
}

// Zhihu returns the built-in profile for zhihu.com.
func Zhihu() Profile {
	return Profile{
		Name: "zhihu",
		Session: session.Chains{
			Indicator: locator.Selectors("authenticated-indicator",
				".AppHeader-profile .Avatar", ".AppHeader-userInfo", "img.Avatar"),
			ModeToggle: locator.NewChain("login-mode",
				text(`[role="tab"], .SignFlow-tab`, "密码登录", "账号密码"),
				text("button, span, div, a", "密码登录", "账号密码"),
			),
			Username: locator.Selectors("username-input",
				`input[name="username"]`, `input[placeholder*="手机"]`, `input[placeholder*="账号"]`, `input[type="text"]`),
			Password: locator.Selectors("password-input",
				`input[name="password"]`, `input[type="password"]`, `input[placeholder*="密码"]`),
			Submit: locator.NewChain("submit-button",
				locator.Strategy{Selector: `button[type="submit"]`, Priority: 3},
				locator.Strategy{Selector: "button.SignFlow-submitButton", Priority: 2},
				locator.Strategy{Selector: "button", Text: []string{"登录"}, Priority: 1},
			),
			Challenge: locator.NewChain("challenge",
				text(".Captcha, .SignFlow-captcha, [class*=\"captcha\"]", "验证"),
				text("body", "请完成验证", "安全验证"),
			),
		},

		SearchItems: locator.Selectors("search-items",
			".SearchResult-Card", ".List-item", `[class*="SearchResult"]`),
		SearchResult: extract.Schema{
			Title: extract.FieldSpec{Chain: locator.Selectors("search-title",
				"h2 a", ".ContentItem-title a", "h2")},
			URL: extract.FieldSpec{Chain: locator.Selectors("search-url",
				`a[href*="/question/"]`, "h2 a", ".ContentItem-title a"), Attrs: []string{"href"}},
			Counters: []extract.CounterSpec{
				{Name: "followers", Chain: metaChain("search-followers"),
					Pattern: regexp.MustCompile(count + `\s*(?:人关注|关注|followers)`)},
				{Name: "answers", Chain: metaChain("search-answers"),
					Pattern: regexp.MustCompile(count + `\s*(?:个回答|回答|answers)`)},
			},
		},

		HotItems: locator.Selectors("hot-items", ".HotItem", ".HotList-item"),
		HotItem: extract.Schema{
			Title: extract.FieldSpec{Chain: locator.Selectors("hot-title", ".HotItem-title", "h2")},
			URL: extract.FieldSpec{Chain: locator.Selectors("hot-url",
				".HotItem-content a", `a[href*="/question/"]`), Attrs: []string{"href"}},
			Counters: []extract.CounterSpec{
				{Name: "heat", Chain: locator.Selectors("hot-heat", ".HotItem-metrics"),
					Pattern: regexp.MustCompile(count + `\s*热度`)},
			},
		},

		Question: extract.Schema{
			Title: extract.FieldSpec{Chain: locator.Selectors("question-title",
				".QuestionHeader-title", "h1")},
			URL: extract.FieldSpec{Chain: locator.Selectors("question-url",
				`link[rel="canonical"]`, `meta[itemprop="url"]`), Attrs: []string{"href", "content"}},
			Tags: extract.FieldSpec{Chain: locator.Selectors("question-topics",
				".QuestionHeader-topics .Tag-content", ".QuestionHeader-topics .Tag", ".Tag-content")},
			Body: extract.BodySpec{
				Scope: locator.Selectors("question-detail", ".QuestionRichText", ".QuestionHeader-detail"),
			},
			Counters: []extract.CounterSpec{
				{Name: "followers", Chain: locator.Selectors("question-followers",
					".NumberBoard-item", ".QuestionFollowStatus"),
					Pattern: regexp.MustCompile(`关注者\s*` + count)},
				{Name: "answers", Chain: locator.Selectors("question-answers",
					".List-headerText", ".QuestionAnswers-answerCount"),
					Pattern: regexp.MustCompile(count + `\s*个回答`)},
			},
			URLFromPage: true,
		},

		Article: extract.Schema{
			Title: extract.FieldSpec{Chain: locator.Selectors("article-title",
				".Post-Title", "h1.PostIndex-title", ".ColumnPost-Title", "h1")},
			URL: extract.FieldSpec{Chain: locator.Selectors("article-url",
				`link[rel="canonical"]`), Attrs: []string{"href"}},
			Author: extract.FieldSpec{Chain: locator.Selectors("article-author",
				".AuthorInfo-name", ".Post-Author .UserLink-link", `meta[itemprop="name"]`),
				Attrs: []string{"content"}, Text: true},
			Timestamp: extract.FieldSpec{Chain: locator.Selectors("article-time",
				"time[datetime]", ".Post-Time", ".ContentItem-time"),
				Attrs: []string{"datetime"}, Text: true},
			Media: extract.FieldSpec{Chain: locator.Selectors("article-images",
				".Post-RichText img", ".RichContent-inner img", "article img"),
				Attrs: []string{"data-original", "data-actualsrc", "src"}},
			Tags: extract.FieldSpec{Chain: locator.Selectors("article-tags",
				".Post-topicsAndReviewer .Tag", ".Tag", ".Topic")},
			Body: extract.BodySpec{
				Scope: locator.Selectors("article-body",
					".Post-RichText", ".PostContent", ".RichContent-inner", "article"),
			},
			Counters: []extract.CounterSpec{
				{Name: "votes", Chain: locator.Selectors("article-votes",
					".VoteButton--up", `button[aria-label*="赞同"]`),
					Pattern: regexp.MustCompile(`赞同\s*` + count)},
			},
			URLFromPage: true,
		},

		Inject: inject.Chains{
			OpenEditor: locator.NewChain("open-editor",
				text(".QuestionButtonGroup button, .QuestionAnswers-answerAdd button", "写回答"),
				text("button", "写回答"),
			),
			Editor: locator.Selectors("editor",
				".public-DraftEditor-content", `.AnswerForm [contenteditable="true"]`, `[contenteditable="true"]`),
			Fallback: locator.Selectors("fallback-input", ".AnswerForm textarea", "textarea"),
			Publish: locator.NewChain("publish",
				text(".AnswerForm-submit, button.Button--primary", "发布回答", "发布"),
				text("button", "发布回答"),
			),
		},
	}
}

func metaChain(name string) locator.Chain {
	return locator.Selectors(name, ".ContentItem-meta", ".SearchItem-meta", `[class*="Meta"]`, ".ContentItem-actions")
}
