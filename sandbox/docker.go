package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DockerBackend 在一次性容器中运行 Python 代码
type DockerBackend struct {
	image            string
	containerPrefix  string
	logger           *zap.Logger
	activeContainers map[string]struct{}
	mu               sync.Mutex
}

func NewDockerBackend(image string, logger *zap.Logger) *DockerBackend {
	if image == "" {
		image = "python:3.12-slim"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DockerBackend{
		image:            image,
		containerPrefix:  "config2flow_sandbox_",
		logger:           logger,
		activeContainers: make(map[string]struct{}),
	}
}

func (d *DockerBackend) Name() string { return "docker" }

func (d *DockerBackend) Execute(ctx context.Context, req *Request, opts Options) (*Result, error) {
	containerName := fmt.Sprintf("%s%d", d.containerPrefix, time.Now().UnixNano())
	args := d.buildArgs(containerName, req, opts)

	d.logger.Debug("executing in docker",
		zap.String("container", containerName),
		zap.String("image", d.image))

	d.mu.Lock()
	d.activeContainers[containerName] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.activeContainers, containerName)
		d.mu.Unlock()
	}()

	res, err := runCommand(ctx, exec.CommandContext(ctx, "docker", args...), req.Stdin)
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		// 超时后 docker CLI 已被杀掉，容器可能仍在运行
		d.forceRemove(containerName)
	}
	return res, nil
}

func (d *DockerBackend) buildArgs(containerName string, req *Request, opts Options) []string {
	args := []string{
		"run",
		"--name", containerName,
		"--rm",
		"-i",
		"--network", "none",
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"--read-only",
		"--pids-limit", "100",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
	}
	if opts.MaxMemoryMB > 0 {
		args = append(args,
			"--memory", fmt.Sprintf("%dm", opts.MaxMemoryMB),
			"--memory-swap", fmt.Sprintf("%dm", opts.MaxMemoryMB))
	}
	return append(args, d.image, "python3", "-c", req.Code)
}

func (d *DockerBackend) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "rm", "-f", name).Run(); err != nil {
		d.logger.Debug("remove container failed", zap.String("name", name), zap.Error(err))
	}
}

func (d *DockerBackend) Cleanup() error {
	d.mu.Lock()
	containers := make([]string, 0, len(d.activeContainers))
	for name := range d.activeContainers {
		containers = append(containers, name)
	}
	d.mu.Unlock()

	for _, name := range containers {
		d.forceRemove(name)
	}
	if len(containers) > 0 {
		d.logger.Info("cleaned up containers", zap.Int("count", len(containers)))
	}
	return nil
}
