package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Engine runs a single ContainerRun to completion inside a resource-limited,
// no-privilege Docker container. Grounded on the docker/docker client
// wiring in eviltik-docker-tui (other_examples); this engine only needs the
// create/start/wait/logs/remove lifecycle, not that example's log-tailing
// concerns.
type Engine struct {
	client dockerclient.APIClient
}

// NewEngine wraps an existing Docker API client. Accepting the interface
// lets tests substitute a fake without a live daemon.
func NewEngine(client dockerclient.APIClient) *Engine {
	return &Engine{client: client}
}

// Run executes run to completion or until its wall-clock Timeout elapses,
// in which case the container is killed and ErrTimeout is returned. The
// memory/CPU positivity invariant (§5) is enforced by ContainerRun.Validate,
// called here before any Docker API call.
func (e *Engine) Run(ctx context.Context, run domain.ContainerRun) (domain.ContainerRunOutcome, error) {
	if err := run.Validate(); err != nil {
		return domain.ContainerRunOutcome{}, err
	}

	timeout := run.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	containerCfg := &container.Config{
		Image:      run.Image,
		Cmd:        run.Command,
		WorkingDir: run.WorkingDir,
		Env:        envSlice(run.Env),
		Tty:        false,
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   run.MemoryBytes,
			NanoCPUs: run.NanoCPUs,
		},
		ReadonlyRootfs: run.ReadOnly,
		AutoRemove:     run.AutoRemove,
		Binds:          bindSlice(run.Mounts),
	}
	if run.NoNewPrivileges {
		hostCfg.SecurityOpt = append(hostCfg.SecurityOpt, "no-new-privileges")
	}
	if run.NetworkDisabled {
		hostCfg.NetworkMode = "none"
	}

	created, err := e.client.ContainerCreate(runCtx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return domain.ContainerRunOutcome{}, fmt.Errorf("sandbox: container create: %w", err)
	}
	containerID := created.ID

	if !run.AutoRemove {
		defer e.client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}

	if err := e.client.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return domain.ContainerRunOutcome{}, fmt.Errorf("sandbox: container start: %w", err)
	}

	statusCh, errCh := e.client.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case <-runCtx.Done():
		_ = e.client.ContainerKill(context.Background(), containerID, "SIGKILL")
		return domain.ContainerRunOutcome{}, fmt.Errorf("%w: exceeded %s", ErrTimeout, timeout)
	case err := <-errCh:
		if err != nil {
			return domain.ContainerRunOutcome{}, fmt.Errorf("sandbox: container wait: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	stdout, stderr := e.collectLogs(context.Background(), containerID)

	return domain.ContainerRunOutcome{
		Stdout:       stdout,
		Stderr:       stderr,
		ExitCode:     exitCode,
		WallDuration: time.Since(start),
	}, nil
}

func (e *Engine) collectLogs(ctx context.Context, containerID string) (stdout, stderr string) {
	reader, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", ""
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return "", ""
	}
	// Docker multiplexes stdout/stderr on a non-TTY stream with an 8-byte
	// frame header; demux it the same way the log-broker example does.
	return demux(body)
}

// demux splits a Docker multiplexed log stream into stdout and stderr.
func demux(data []byte) (stdout, stderr string) {
	var outBuf, errBuf strings.Builder
	offset := 0
	for offset+8 <= len(data) {
		streamType := data[offset]
		size := int(data[offset+4])<<24 | int(data[offset+5])<<16 | int(data[offset+6])<<8 | int(data[offset+7])
		frameEnd := offset + 8 + size
		if size < 0 || frameEnd > len(data) {
			break
		}
		payload := data[offset+8 : frameEnd]
		if streamType == 2 {
			errBuf.Write(payload)
		} else {
			outBuf.Write(payload)
		}
		offset = frameEnd
	}
	return outBuf.String(), errBuf.String()
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env)+1)
	out = append(out, "CI=true")
	for k, v := range env {
		if k == "CI" {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}

func bindSlice(mounts map[string]string) []string {
	out := make([]string, 0, len(mounts))
	for host, containerPath := range mounts {
		out = append(out, host+":"+containerPath)
	}
	return out
}
