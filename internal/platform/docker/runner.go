// Package docker runs the typesetting engine inside a TeX Live container
// instead of relying on a locally installed distribution.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/vitae-app/vitae/internal/domain"
)

// containerWorkspace is where the host workspace is mounted inside the container.
const containerWorkspace = "/workspace"

// memoryLimit caps a single compiler container.
const memoryLimit = 1024 * 1024 * 1024

// Runner implements domain.CompilerRunner on top of the Docker SDK.
type Runner struct {
	cli    *client.Client
	image  string
	logger *slog.Logger

	mu     sync.Mutex
	pulled bool
}

// Check if Runner implements domain.CompilerRunner
var _ domain.CompilerRunner = (*Runner)(nil)

// NewRunner creates a Docker client from the environment for the given image.
// The daemon is not contacted until the first run or probe.
func NewRunner(imageName string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runner{cli: cli, image: imageName, logger: logger}, nil
}

// Close releases the Docker client.
func (r *Runner) Close() error {
	return r.cli.Close()
}

// containerInvocation rewrites host paths in inv to their mounted locations.
func containerInvocation(inv domain.Invocation) domain.Invocation {
	out := inv
	out.OutputDir = containerWorkspace
	out.SourcePath = path.Join(containerWorkspace, filepath.Base(inv.SourcePath))
	return out
}

// Run executes the compiler in an ephemeral container with the workspace
// bind-mounted, and returns its demultiplexed output and exit status.
func (r *Runner) Run(ctx context.Context, inv domain.Invocation) (domain.RunOutput, error) {
	if err := r.ensureImage(ctx); err != nil {
		return domain.RunOutput{}, notStarted(err)
	}

	hostRoot, err := filepath.Abs(inv.OutputDir)
	if err != nil {
		return domain.RunOutput{}, notStarted(err)
	}
	cinv := containerInvocation(inv)

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      r.image,
		Cmd:        append([]string{cinv.Binary}, cinv.Argv()...),
		WorkingDir: containerWorkspace,
	}, &container.HostConfig{
		Binds: []string{hostRoot + ":" + containerWorkspace},
		Resources: container.Resources{
			Memory: memoryLimit,
		},
	}, nil, nil, "")
	if err != nil {
		return domain.RunOutput{}, notStarted(fmt.Errorf("create container: %w", err))
	}
	defer func() {
		// Removal must happen even if ctx was cancelled.
		if err := r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Warn("failed to remove compiler container", "container_id", resp.ID, "error", err)
		}
	}()

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return domain.RunOutput{}, notStarted(fmt.Errorf("start container: %w", err))
	}
	r.logger.Debug("compiler container started", "container_id", resp.ID, "image", r.image)

	var exitCode int
	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			if ctx.Err() != nil {
				return domain.RunOutput{}, domain.ErrCompilerTimeout.Wrap(ctx.Err())
			}
			return domain.RunOutput{}, fmt.Errorf("wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := r.cli.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return domain.RunOutput{}, fmt.Errorf("read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return domain.RunOutput{}, fmt.Errorf("demultiplex container logs: %w", err)
	}

	return domain.RunOutput{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Available pings the Docker daemon. The binary is assumed to be in the image.
func (r *Runner) Available(ctx context.Context, _ string) bool {
	_, err := r.cli.Ping(ctx)
	return err == nil
}

// ensureImage pulls the image once per process.
func (r *Runner) ensureImage(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pulled {
		return nil
	}

	r.logger.Info("pulling compiler image", "image", r.image)
	reader, err := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", r.image, err)
	}
	defer reader.Close()
	// Drain the response body to ensure the pull completes properly.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: %w", r.image, err)
	}
	r.pulled = true
	return nil
}

func notStarted(err error) error {
	return domain.WrapEngineError(domain.ErrCompilerNotFound.Code, domain.ErrCompilerNotFound.Message, err)
}
