package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"

	"github.com/shiv248/collabide/pkg/logger"
)

// ContainerDriver is pure orchestration over a container runtime: each
// method maps to one runtime call (or, for AttachExec, one attach-exec
// round-trip). It does not own timeouts — the caller imposes those via
// ctx, per §4.6.
type ContainerDriver interface {
	// EnsureImage streams a pull of image and returns only once the stream
	// completes without error.
	EnsureImage(ctx context.Context, image string) error

	// CreateContainer builds the confinement configuration from limits and
	// returns the new container's id after start.
	CreateContainer(ctx context.Context, image string, limits ResourceLimits) (id string, err error)

	// AttachExec attaches one invocation of cmd to containerID, streams stdin to
	// it, and collects stdout/stderr (each capped at maxOutputBytes, excess
	// discarded silently) until the process exits or ctx is done.
	AttachExec(ctx context.Context, containerID string, cmd []string, stdin io.Reader, maxOutputBytes int) (stdout, stderr []byte, exitCode int, err error)

	// RemoveContainer stops with a 5-second grace then force-removes.
	RemoveContainer(ctx context.Context, containerID string) error
}

// dockerDriver is the ContainerDriver backed by the Docker engine API.
type dockerDriver struct {
	cli *client.Client
}

// NewDockerDriver creates a driver using the Docker client configuration
// from the environment (DOCKER_HOST, DOCKER_CERT_PATH, etc).
func NewDockerDriver() (ContainerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	return &dockerDriver{cli: cli}, nil
}

func (d *dockerDriver) EnsureImage(ctx context.Context, img string) error {
	rc, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("sandbox: pull image %s: %w", img, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	if err != nil {
		return fmt.Errorf("sandbox: pull image %s: %w", img, err)
	}
	return nil
}

const (
	tmpTmpfsSize  = 64 * 1024 * 1024
	codeTmpfsSize = 32 * 1024 * 1024
)

// CreateContainer translates limits into the confinement mapping of §4.7:
// memory and memory+swap both pinned to MemoryBytes (swap disabled), a CFS
// quota/period pair, matching pids_limit/nproc, a read-only root with
// tmpfs-only writable mounts, every capability dropped, no-new-privileges,
// and network attached only when enabled.
func (d *dockerDriver) CreateContainer(ctx context.Context, img string, limits ResourceLimits) (string, error) {
	networkMode := container.NetworkMode("none")
	if limits.NetworkEnabled {
		networkMode = container.NetworkMode("bridge")
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:     limits.MemoryBytes,
			MemorySwap: limits.MemoryBytes,
			CPUPeriod:  cpuPeriod,
			CPUQuota:   limits.CPUQuota,
			PidsLimit:  &limits.PIDsLimit,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 1024, Hard: 1024},
				{Name: "nproc", Soft: limits.PIDsLimit, Hard: limits.PIDsLimit},
			},
		},
		NetworkMode:    networkMode,
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs: map[string]string{
			"/tmp":  fmt.Sprintf("size=%d,noexec,nosuid", tmpTmpfsSize),
			"/code": fmt.Sprintf("size=%d,noexec,nosuid", codeTmpfsSize),
		},
	}

	contConfig := &container.Config{
		Image:        img,
		User:         "sandbox",
		WorkingDir:   "/code",
		Tty:          true,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	resp, err := d.cli.ContainerCreate(ctx, contConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}

	return resp.ID, nil
}

func (d *dockerDriver) AttachExec(ctx context.Context, containerID string, cmd []string, stdin io.Reader, maxOutputBytes int) ([]byte, []byte, int, error) {
	execResp, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, nil, -1, fmt.Errorf("sandbox: exec create: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, nil, -1, fmt.Errorf("sandbox: exec attach: %w", err)
	}
	defer attach.Close()

	if stdin != nil {
		go func() {
			io.Copy(attach.Conn, stdin)
			attach.CloseWrite()
		}()
	}

	stdoutBuf := newBoundedBuffer(maxOutputBytes)
	stderrBuf := newBoundedBuffer(maxOutputBytes)

	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdoutBuf, stderrBuf, attach.Reader)
		copyDone <- err
	}()

	select {
	case <-ctx.Done():
		// attach.Close unblocks the stdcopy goroutine's read on attach.Reader;
		// waiting for copyDone before touching the buffers is what keeps this
		// safe for the unsynchronized boundedBuffer, since the goroutine is
		// otherwise still free to append to it concurrently with this return.
		attach.Close()
		<-copyDone
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, ctx.Err()
	case err := <-copyDone:
		if err != nil && err != io.EOF {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, fmt.Errorf("sandbox: exec stream: %w", err)
		}
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, fmt.Errorf("sandbox: exec inspect: %w", err)
	}

	if stdoutBuf.Truncated() || stderrBuf.Truncated() {
		logger.Warn("sandbox: output truncated at %d bytes for exec %s", maxOutputBytes, execResp.ID)
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), inspect.ExitCode, nil
}

func (d *dockerDriver) RemoveContainer(ctx context.Context, containerID string) error {
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	timeout := 5
	if err := d.cli.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		logger.Debug("sandbox: stop container %s: %v", containerID, err)
	}

	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("sandbox: remove container %s: %w", containerID, err)
	}
	return nil
}
