package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var requiredEnv = map[string]string{
	"TELEGRAM_BOT_TOKEN":    "123:abc",
	"TELEGRAM_USER_ID":      "42",
	"X_API_KEY":             "ck",
	"X_API_SECRET":          "cs",
	"X_ACCESS_TOKEN":        "at",
	"X_ACCESS_TOKEN_SECRET": "as",
}

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_USER_ID", "X_API_KEY", "X_API_SECRET", "X_ACCESS_TOKEN",
		"X_ACCESS_TOKEN_SECRET", "X_BEARER_TOKEN", "OLLAMA_HOST", "OLLAMA_MODEL", "TRENDPOST_VARIANT",
		"TRENDPOST_SOURCE", "METRICS_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnvOnly(t *testing.T) {
	clearEnv(t)
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
	t.Setenv("TRENDPOST_VARIANT", "direct")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, int64(42), cfg.Telegram.AuthorizedUserID)
	require.Equal(t, "http://localhost:11434", cfg.LLM.Host)
	require.Equal(t, "mistral", cfg.LLM.Model)
	require.Equal(t, VariantDirect, cfg.Workflow.Variant)
	require.Equal(t, SourceReddit, cfg.Workflow.Source)
	require.Equal(t, 10, cfg.Workflow.MaxResults)
	require.Equal(t, 280, cfg.Workflow.MaxChars)
}

func TestValidateNamesEveryMissingVar(t *testing.T) {
	clearEnv(t)
	t.Setenv("X_API_KEY", "ck")

	cfg, err := Load("")
	require.NoError(t, err)
	err = cfg.Validate()
	var me *MissingError
	require.True(t, errors.As(err, &me), "got %v", err)
	require.Equal(t, []string{
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_USER_ID", "X_API_SECRET", "X_ACCESS_TOKEN", "X_ACCESS_TOKEN_SECRET",
	}, me.Vars)
}

func TestValidateReportsNonNumericUserID(t *testing.T) {
	clearEnv(t)
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
	t.Setenv("TELEGRAM_USER_ID", "@amy")

	cfg, err := Load("")
	require.NoError(t, err)
	err = cfg.Validate()
	require.ErrorContains(t, err, `TELEGRAM_USER_ID must be a numeric user id, got "@amy"`)
	var me *MissingError
	require.False(t, errors.As(err, &me), "got %v", err)

	t.Setenv("X_API_SECRET", "")
	cfg, err = Load("")
	require.NoError(t, err)
	err = cfg.Validate()
	require.True(t, errors.As(err, &me), "got %v", err)
	require.Equal(t, []string{"X_API_SECRET"}, me.Vars)
	require.ErrorContains(t, err, "must be a numeric user id")
}

func TestValidateRequiresBearerForXSearch(t *testing.T) {
	clearEnv(t)
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
	t.Setenv("TRENDPOST_SOURCE", "x")
	cfg, err := Load("")
	require.NoError(t, err)
	var me *MissingError
	require.ErrorAs(t, cfg.Validate(), &me)
	require.Equal(t, []string{"X_BEARER_TOKEN"}, me.Vars)
}

func TestValidateRejectsUnknownVariant(t *testing.T) {
	clearEnv(t)
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
	t.Setenv("TRENDPOST_VARIANT", "merged")
	cfg, err := Load("")
	require.NoError(t, err)
	require.ErrorContains(t, cfg.Validate(), "workflow.variant")
}

func TestYAMLWinsOverEnv(t *testing.T) {
	clearEnv(t)
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
	t.Setenv("OLLAMA_MODEL", "llama3")
	path := filepath.Join(t.TempDir(), "trendpost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: qwen2\npublish:\n  maxPerDay: -1\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "qwen2", cfg.LLM.Model)
	require.Equal(t, -1, cfg.Publish.MaxPerDay)
	require.Equal(t, 500, cfg.Publish.MaxPerMonth)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "trendpost.yaml")
	require.NoError(t, Save(path, Default()))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default().Workflow, cfg.Workflow)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_MODEL", "from-process")
	// an empty but present variable counts as set
	require.NoError(t, os.Unsetenv("OLLAMA_HOST"))
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OLLAMA_MODEL=from-file\nOLLAMA_HOST=http://gpu:11434\n"), 0o600))

	loaded := LoadDotEnv(path)
	require.Equal(t, []string{path}, loaded)
	require.Equal(t, "from-process", os.Getenv("OLLAMA_MODEL"))
	require.Equal(t, "http://gpu:11434", os.Getenv("OLLAMA_HOST"))
}
