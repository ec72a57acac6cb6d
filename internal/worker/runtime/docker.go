package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// DockerRuntime implements the Runtime interface using the Docker SDK.
type DockerRuntime struct {
	client *client.Client
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// NewDockerRuntime creates a new Docker-based runtime.
func NewDockerRuntime() (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// Start implements Runtime.Start using Docker containers. The job command
// runs through a shell with /inbox as working directory, and the inbox
// and outbox host directories bind-mounted in.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	// Check if the image exists locally first to save time.
	_, _, err := d.client.ImageInspectWithRaw(ctx, opts.Image)
	if err != nil {
		reader, err := d.client.ImagePull(ctx, opts.Image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", opts.Image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	containerConfig := &container.Config{
		Image:      opts.Image,
		Cmd:        []string{"/bin/sh", "-c", opts.Command},
		Env:        mapToEnvList(opts.Env),
		WorkingDir: "/inbox",
		Tty:        true,
	}
	hostConfig := &container.HostConfig{
		Binds: []string{
			opts.InboxDir + ":/inbox",
			opts.OutboxDir + ":/outbox",
		},
	}
	containerResponse, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, containerResponse.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return &DockerHandle{
		client:      d.client,
		containerID: containerResponse.ID,
	}, nil
}

func (h *DockerHandle) ID() string {
	return h.containerID
}

func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		result := ExitResult{ExitCode: int(status.StatusCode)}
		if status.Error != nil {
			result.Error = fmt.Errorf("%s", status.Error.Message)
		}
		h.collectUsage(ctx, &result)
		return result, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// collectUsage fills the usage counters from a one-shot stats read.
// Stats are best-effort; a failure leaves the counters zero.
func (h *DockerHandle) collectUsage(ctx context.Context, result *ExitResult) {
	stats, err := h.client.ContainerStatsOneShot(ctx, h.containerID)
	if err != nil {
		return
	}
	defer stats.Body.Close()

	var s container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&s); err != nil {
		return
	}
	result.CPU = int64(s.CPUStats.CPUUsage.TotalUsage)
	result.Memory = int64(s.MemoryStats.MaxUsage)
	for _, entry := range s.BlkioStats.IoServiceBytesRecursive {
		result.IO += int64(entry.Value)
	}
}

func (h *DockerHandle) Stop(ctx context.Context) error {
	timeOut := 5
	return h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeOut})
}

func (h *DockerHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}
