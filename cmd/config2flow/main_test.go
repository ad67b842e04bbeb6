package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/llm"
	"github.com/BaSui01/config2flow/testutil/fixtures"
	"github.com/BaSui01/config2flow/testutil/mocks"
)

// =============================================================================
// 🧪 辅助
// =============================================================================

func scriptedCLI() *cli {
	replies := map[string]string{"translator": "Bonjour", "polisher": "Bonjour !"}
	c := newCLI()
	c.newProvider = func(_ context.Context, name string, cfg *config.AgentConfig) (llm.Provider, error) {
		return mocks.NewMockProvider().WithName(name).WithTextReplies(replies[cfg.Name]), nil
	}
	return c
}

func runCLI(t *testing.T, c *cli, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append(args, "--log-dir", "", "--log-level", "error")
	code := execute(context.Background(), c, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// =============================================================================
// ▶️ run
// =============================================================================

func TestRun_PrintsOutputsAndTrace(t *testing.T) {
	dir := t.TempDir()
	appPath := writeFile(t, dir, "translate.yaml", fixtures.TranslateAppYAML)
	tracePath := filepath.Join(dir, "trace.json")

	code, stdout, stderr := runCLI(t, scriptedCLI(), "run", "--config", appPath,
		"--input", "text=hello world", "--trace-out", tracePath)
	require.Equal(t, 0, code, stderr)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "Bonjour !", res["output"])
	assert.Equal(t, map[string]any{"polished": "Bonjour !"}, res["outputs"])
	assert.NotEmpty(t, res["run_id"])
	assert.NotContains(t, res, "trace")

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "translate_flow")
	assert.Contains(t, string(data), "polisher")
}

func TestRun_InputsFile(t *testing.T) {
	dir := t.TempDir()
	appPath := writeFile(t, dir, "translate.yaml", fixtures.TranslateAppYAML)
	inputs := writeFile(t, dir, "inputs.json", `{"text": "hello"}`)

	code, stdout, stderr := runCLI(t, scriptedCLI(), "run", "-c", appPath, "--inputs-file", inputs)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Bonjour !")
}

func TestRun_Failures(t *testing.T) {
	dir := t.TempDir()
	appPath := writeFile(t, dir, "translate.yaml", fixtures.TranslateAppYAML)
	broken := writeFile(t, dir, "broken.yaml", "app: [unclosed")
	badInputs := writeFile(t, dir, "inputs.json", `["not", "an", "object"]`)
	nullInputs := writeFile(t, dir, "null.json", `null`)

	tests := []struct {
		name    string
		args    []string
		message string
	}{
		{"missing file", []string{"run", "--config", filepath.Join(dir, "nope.yaml")}, "nope.yaml"},
		{"no config flag", []string{"run"}, `"config" not set`},
		{"parse error", []string{"run", "--config", broken}, "INVALID_CONFIG"},
		{"missing input", []string{"run", "--config", appPath}, "MISSING_INPUT"},
		{"bad input pair", []string{"run", "--config", appPath, "--input", "text"}, "expected key=value"},
		{"bad inputs file", []string{"run", "--config", appPath, "--inputs-file", badInputs}, "JSON object"},
		{"null inputs file", []string{"run", "--config", appPath, "--inputs-file", nullInputs, "--input", "text=hi"}, "got null"},
		{"array inputs file with pairs", []string{"run", "--config", appPath, "--inputs-file", badInputs, "--input", "text=hi"}, "JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, scriptedCLI(), tt.args...)
			assert.Equal(t, 1, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, tt.message)
		})
	}
}

func TestCoerceInput(t *testing.T) {
	tests := []struct {
		typ, raw string
		want     any
		wantErr  bool
	}{
		{"str", "42", "42", false},
		{"", " keep spaces ", " keep spaces ", false},
		{"int", " 42", 42, false},
		{"int", "4.2", nil, true},
		{"float", "0.5", 0.5, false},
		{"bool", "true", true, false},
		{"bool", "maybe", nil, true},
	}
	for _, tt := range tests {
		got, err := coerceInput(tt.typ, tt.raw)
		if tt.wantErr {
			assert.Error(t, err, "%s %q", tt.typ, tt.raw)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

// =============================================================================
// ✅ validate / version / settings / migrate
// =============================================================================

func TestValidate_PrintsDescription(t *testing.T) {
	appPath := writeFile(t, t.TempDir(), "translate.yaml", fixtures.TranslateAppYAML)

	code, stdout, stderr := runCLI(t, scriptedCLI(), "validate", "--config", appPath)
	require.Equal(t, 0, code, stderr)

	var desc map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &desc))
	assert.Equal(t, "translator", desc["name"])
	assert.Equal(t, "{polished}", desc["output"])
	require.Contains(t, desc, "workflow")
}

func TestValidate_UnsupportedProvider(t *testing.T) {
	yaml := strings.Replace(fixtures.TranslateAppYAML, "provider: default", "provider: dag", 1)
	appPath := writeFile(t, t.TempDir(), "bad.yaml", yaml)
	code, _, stderr := runCLI(t, scriptedCLI(), "validate", "--config", appPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "UNSUPPORTED_PROVIDER")
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, newCLI(), "version")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "config2flow "+Version)
	assert.Contains(t, stdout, "Git Commit")
}

func TestSettings_Invalid(t *testing.T) {
	settings := writeFile(t, t.TempDir(), "settings.yaml", "store:\n  backend: bogus\n")
	code, _, stderr := runCLI(t, newCLI(), "version", "--settings", settings)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown store backend")
}

func TestServe_WatchRequiresConfig(t *testing.T) {
	code, _, stderr := runCLI(t, newCLI(), "serve", "--watch")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--watch requires --config")
}

func TestMigrate_SQLiteIsAutoMigrated(t *testing.T) {
	code, stdout, stderr := runCLI(t, newCLI(), "migrate", "status")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "AutoMigrate")
}

func TestRunLogger_KeepsStdoutForOutput(t *testing.T) {
	dir := t.TempDir()
	c := newCLI()
	c.logDir = filepath.Join(dir, "logs")
	c.cfg = config.DefaultConfig()

	logger := c.runLogger()
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(c.logDir, "config2flow.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
