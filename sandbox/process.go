package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// runCommand 执行命令并收集输出。非零退出码不视为错误，只有进程无法启动时返回 error。
func runCommand(ctx context.Context, cmd *exec.Cmd, stdin string) (*Result, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	err := cmd.Run()
	result := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.Error = "execution timeout"
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, err
		}
	}
	result.Success = result.ExitCode == 0 && result.Error == ""
	return result, nil
}

// ProcessBackend 用本机 Python 解释器执行代码
type ProcessBackend struct {
	interpreter string
	logger      *zap.Logger
}

func NewProcessBackend(interpreter string, logger *zap.Logger) *ProcessBackend {
	if interpreter == "" {
		interpreter = "python3"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessBackend{interpreter: interpreter, logger: logger}
}

func (p *ProcessBackend) Name() string { return "process" }

func (p *ProcessBackend) Execute(ctx context.Context, req *Request, opts Options) (*Result, error) {
	cmd := exec.CommandContext(ctx, p.interpreter, "-c", req.Code)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	res, err := runCommand(ctx, cmd, req.Stdin)
	if err != nil {
		p.logger.Warn("python process failed to start", zap.String("interpreter", p.interpreter), zap.Error(err))
		return nil, err
	}
	return res, nil
}

func (p *ProcessBackend) Cleanup() error { return nil }
