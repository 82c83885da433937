package stealth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/quill/internal/config"
)

func TestApply(t *testing.T) {
	core, observedLogs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	tasks := Apply(config.PersonaConfig{UserAgent: "QuillTest/1.0"}, logger)
	assert.Len(t, tasks, 5)

	logs := observedLogs.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "Applying browser stealth persona", logs[0].Message)
	fields := logs[0].ContextMap()
	assert.Equal(t, "QuillTest/1.0", fields["userAgent"])
	assert.Equal(t, DefaultPersona.Platform, fields["platform"], "empty fields fall back to the default persona")
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "zh-CN,zh;q=0.9", AcceptLanguage([]string{"zh-CN", "zh"}))
	assert.Equal(t, "en-US", AcceptLanguage([]string{"en-US"}))
	assert.Equal(t, "", AcceptLanguage(nil))
}

func TestPersonaBootstrap(t *testing.T) {
	script, err := personaBootstrap(config.PersonaConfig{Languages: []string{"zh-CN"}, Platform: "MacIntel"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(script, "window.__quillPersona = "))
	assert.Contains(t, script, `"languages":["zh-CN"]`)
	assert.Contains(t, script, `"platform":"MacIntel"`)
}

func TestEvasionsScriptEmbedded(t *testing.T) {
	assert.NotEmpty(t, evasionsScript)
	assert.Contains(t, evasionsScript, "__quillPersona")
	assert.Contains(t, evasionsScript, "webdriver")
}
