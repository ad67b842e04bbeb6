package sandbox

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubBackend 返回预设结果
type stubBackend struct {
	result   *Result
	err      error
	calls    int
	cleaned  bool
	lastCode string
}

func (s *stubBackend) Execute(ctx context.Context, req *Request, _ Options) (*Result, error) {
	s.calls++
	s.lastCode = req.Code
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	return &r, nil
}

func (s *stubBackend) Cleanup() error { s.cleaned = true; return nil }
func (s *stubBackend) Name() string   { return "stub" }

func TestExecutor_Dispatch(t *testing.T) {
	py := &stubBackend{result: &Result{Success: true, Stdout: "42\n"}}
	ex := NewExecutor(Options{}, map[Language]Backend{LangPython: py}, zap.NewNop())

	res, err := ex.Execute(context.Background(), Request{ID: "r1", Language: LangPython, Code: "print(42)"})
	require.NoError(t, err)
	assert.Equal(t, "r1", res.ID)
	assert.Equal(t, LangPython, res.Language)
	assert.Equal(t, "42", res.Feedback())
	assert.Equal(t, "print(42)", py.lastCode)

	stats := ex.Stats()
	assert.Equal(t, int64(1), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.SuccessExecutions)
}

func TestExecutor_RejectsInvalidRequests(t *testing.T) {
	ex := NewExecutor(Options{}, map[Language]Backend{LangPython: &stubBackend{result: &Result{}}}, nil)

	_, err := ex.Execute(context.Background(), Request{Language: LangPython, Code: "  "})
	assert.True(t, types.HasCode(err, types.ErrSandbox))

	_, err = ex.Execute(context.Background(), Request{Language: LangLua, Code: "print(1)"})
	assert.True(t, types.HasCode(err, types.ErrSandbox))
	assert.Equal(t, "lua", types.ErrorSubject(err))
	assert.False(t, ex.Supports(LangLua))
}

func TestExecutor_BackendError(t *testing.T) {
	boom := errors.New("exec: not found")
	ex := NewExecutor(Options{}, map[Language]Backend{LangPython: &stubBackend{err: boom}}, nil)

	_, err := ex.Execute(context.Background(), Request{Language: LangPython, Code: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), ex.Stats().FailedExecutions)
}

func TestExecutor_TruncatesOutput(t *testing.T) {
	long := strings.Repeat("a", 100)
	ex := NewExecutor(Options{MaxOutputBytes: 10},
		map[Language]Backend{LangPython: &stubBackend{result: &Result{Success: true, Stdout: long, Stderr: long}}}, nil)

	res, err := ex.Execute(context.Background(), Request{Language: LangPython, Code: "x"})
	require.NoError(t, err)
	assert.Len(t, res.Stdout, 10)
	assert.Len(t, res.Stderr, 10)
	assert.True(t, res.Truncated)
}

func TestExecutor_Cleanup(t *testing.T) {
	b := &stubBackend{result: &Result{}}
	ex := NewExecutor(Options{}, map[Language]Backend{LangPython: b}, nil)
	require.NoError(t, ex.Cleanup())
	assert.True(t, b.cleaned)
}

func TestNew(t *testing.T) {
	cfg := config.DefaultSandboxConfig()
	cfg.Enabled = false
	assert.Nil(t, New(cfg, nil))

	var nilExec *Executor
	assert.False(t, nilExec.Supports(LangPython))

	cfg.Enabled = true
	ex := New(cfg, zap.NewNop())
	require.NotNil(t, ex)
	assert.True(t, ex.Supports(LangPython))
	assert.True(t, ex.Supports(LangLua))
	assert.Equal(t, "process", ex.backends[LangPython].Name())

	cfg.Mode = "docker"
	assert.Equal(t, "docker", New(cfg, nil).backends[LangPython].Name())
}

func TestResult_Feedback(t *testing.T) {
	tests := []struct {
		name string
		res  *Result
		want string
	}{
		{"nil", nil, ""},
		{"success trims stdout", &Result{Success: true, Stdout: "  ok \n", Stderr: "warn"}, "ok"},
		{"failure prefers stderr", &Result{Stdout: "partial", Stderr: "Traceback\n"}, "Traceback"},
		{"failure falls back to error", &Result{Error: "execution timeout"}, "execution timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Feedback())
		})
	}
}

func TestLuaBackend(t *testing.T) {
	ex := NewExecutor(Options{Timeout: 2 * time.Second}, map[Language]Backend{LangLua: NewLuaBackend()}, nil)
	ctx := context.Background()

	t.Run("print captured", func(t *testing.T) {
		res, err := ex.Execute(ctx, Request{Language: LangLua, Code: `print("sum", 1 + 2) print(string.upper("x"))`})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "sum\t3\nX\n", res.Stdout)
	})

	t.Run("runtime error", func(t *testing.T) {
		res, err := ex.Execute(ctx, Request{Language: LangLua, Code: `error("bad input")`})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Feedback(), "bad input")
	})

	t.Run("unsafe libs unavailable", func(t *testing.T) {
		for _, code := range []string{`os.exit(1)`, `io.write("x")`, `dofile("/etc/passwd")`, `require("os")`} {
			res, err := ex.Execute(ctx, Request{Language: LangLua, Code: code})
			require.NoError(t, err)
			assert.False(t, res.Success, code)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		res, err := ex.Execute(ctx, Request{Language: LangLua, Code: `while true do end`, Timeout: 50 * time.Millisecond})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Feedback(), "timeout")
		assert.Equal(t, int64(1), ex.Stats().TimeoutExecutions)
	})
}

func TestProcessBackend(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	ex := NewExecutor(Options{Timeout: 10 * time.Second},
		map[Language]Backend{LangPython: NewProcessBackend(python, nil)}, nil)

	res, err := ex.Execute(context.Background(), Request{Language: LangPython, Code: "print(6 * 7)"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Feedback())

	res, err = ex.Execute(context.Background(), Request{Language: LangPython, Code: "raise ValueError('nope')"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotZero(t, res.ExitCode)
	assert.Contains(t, res.Feedback(), "ValueError: nope")
}

func TestProcessBackend_MissingInterpreter(t *testing.T) {
	b := NewProcessBackend("/nonexistent/python-interpreter", nil)
	_, err := b.Execute(context.Background(), &Request{Code: "print(1)"}, Options{})
	assert.Error(t, err)
}

func TestDockerBackend_BuildArgs(t *testing.T) {
	d := NewDockerBackend("", nil)
	args := d.buildArgs("c1", &Request{Code: "print(1)"}, Options{MaxMemoryMB: 128})

	assert.Equal(t, "run", args[0])
	assert.Contains(t, args, "--rm")
	assert.Contains(t, args, "none")
	assert.Contains(t, args, "128m")
	assert.Equal(t, []string{"python:3.12-slim", "python3", "-c", "print(1)"}, args[len(args)-4:])
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		lang  Language
		code  string
		ok    bool
	}{
		{"python", "Here:\n```python\nprint(1)\n```\nDone", LangPython, "print(1)", true},
		{"py alias", "```py\nx = 2\nprint(x)\n```", LangPython, "x = 2\nprint(x)", true},
		{"lua", "```lua\nprint('hi')\n```", LangLua, "print('hi')", true},
		{"first block wins", "```python\na()\n```\n```lua\nb()\n```", LangPython, "a()", true},
		{"json is not code", "```json\n{\"a\": 1}\n```", "", "", false},
		{"plain text", "no code here", "", "", false},
		{"empty block", "```python\n\n```", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, code, ok := ExtractCode(tt.reply)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.lang, lang)
			assert.Equal(t, tt.code, code)
		})
	}
}
