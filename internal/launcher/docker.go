package launcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// containerAPI is the subset of the Docker client used by DockerRunner.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerRunner runs tools inside an ephemeral container. The binary
// directory is mounted read-only and the working directory read-write, both
// at their host paths, so tool paths and relative file arguments stay valid.
type DockerRunner struct {
	api    containerAPI
	closer io.Closer
	image  string
	logger *log.Logger
}

// NewDockerRunner connects to the Docker daemon configured in the environment.
func NewDockerRunner(image string, logger *log.Logger) (*DockerRunner, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[docker] ", log.LstdFlags|log.Lmsgprefix)
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &DockerRunner{
		api:    dockerClient,
		closer: dockerClient,
		image:  image,
		logger: logger,
	}, nil
}

// Close releases the Docker client.
func (dr *DockerRunner) Close() error {
	if dr.closer != nil {
		return dr.closer.Close()
	}
	return nil
}

// Start creates, attaches to and starts the container.
func (dr *DockerRunner) Start(ctx context.Context, c Command) (Process, error) {
	workDir := c.Dir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		workDir = wd
	}
	binDir := filepath.Dir(c.Path)

	containerConfig := &container.Config{
		Image:        dr.image,
		Cmd:          append([]string{c.Path}, c.Args...),
		Env:          c.Env,
		WorkingDir:   workDir,
		User:         fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		AttachStdout: true,
		AttachStderr: true,
	}

	hostConfig := &container.HostConfig{
		Binds: []string{
			binDir + ":" + binDir + ":ro",
			workDir + ":" + workDir,
		},
	}

	resp, err := dr.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	p := &dockerProcess{runner: dr, ctx: ctx, id: resp.ID, output: c.Output}

	attachResp, err := dr.api.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		p.remove()
		return nil, fmt.Errorf("attach container: %w", err)
	}
	p.attach = attachResp

	if err := dr.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attachResp.Close()
		p.remove()
		return nil, fmt.Errorf("start container: %w", err)
	}

	dr.logger.Printf("started container %s (%s)", truncateID(resp.ID), dr.image)
	return p, nil
}

type dockerProcess struct {
	runner *DockerRunner
	ctx    context.Context
	id     string
	attach types.HijackedResponse
	output io.Writer
}

func (p *dockerProcess) Wait() (Result, error) {
	defer p.remove()
	defer p.attach.Close()

	out := p.output
	if out == nil {
		out = io.Discard
	}

	streamDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(out, out, p.attach.Reader)
		streamDone <- err
	}()

	statusCh, errCh := p.runner.api.ContainerWait(p.ctx, p.id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if err := <-streamDone; err != nil {
			p.runner.logger.Printf("stream error for %s: %v", truncateID(p.id), err)
		}
		if status.Error != nil && status.Error.Message != "" {
			return Result{}, fmt.Errorf("wait container: %s", status.Error.Message)
		}
		return Result{ExitCode: int(status.StatusCode)}, nil

	case err := <-errCh:
		if p.ctx.Err() != nil {
			p.kill()
			return Result{}, p.ctx.Err()
		}
		return Result{}, fmt.Errorf("wait container: %w", err)

	case <-p.ctx.Done():
		p.kill()
		return Result{}, p.ctx.Err()
	}
}

func (p *dockerProcess) kill() {
	if err := p.runner.api.ContainerKill(context.Background(), p.id, "SIGKILL"); err != nil {
		p.runner.logger.Printf("kill container %s: %v", truncateID(p.id), err)
	}
}

func (p *dockerProcess) remove() {
	if err := p.runner.api.ContainerRemove(context.Background(), p.id, container.RemoveOptions{Force: true}); err != nil {
		p.runner.logger.Printf("remove container %s: %v", truncateID(p.id), err)
	}
}

// truncateID returns the first 12 characters of a container ID.
func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
