package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

const inspectorPort = "9229/tcp"

// ContainerRunner executes the bootstrap script inside a container, speaking
// the same JSON-line protocol over the container's attached stdio. The node
// inspector port is published so the CDP proxy can dial the sandbox as its
// device runtime.
type ContainerRunner struct {
	Image        string
	ScriptPath   string
	SessionID    string
	ReadyTimeout time.Duration

	cli         *client.Client
	containerID string
	attach      types.HijackedResponse
	relay       *lineRelay
	inspectorWS string
	writeMu     sync.Mutex
	stopOnce    sync.Once
}

// NewContainerRunner builds a container-backed runner for the assembled
// bootstrap script.
func NewContainerRunner(imageName, scriptPath, sessionID string) (*ContainerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &ContainerRunner{
		Image:        imageName,
		ScriptPath:   scriptPath,
		SessionID:    sessionID,
		ReadyTimeout: defaultReadyTimeout,
		cli:          cli,
	}, nil
}

// Start creates, attaches and starts the sandbox container, then waits for
// the ready marker.
func (c *ContainerRunner) Start(ctx context.Context) error {
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}

	if err := c.ensureImage(ctx); err != nil {
		return fmt.Errorf("failed to ensure sandbox image: %w", err)
	}

	scriptDir := filepath.Dir(c.ScriptPath)
	scriptName := filepath.Base(c.ScriptPath)

	containerConfig := &container.Config{
		Image: c.Image,
		Cmd:   []string{"node", "--inspect=0.0.0.0:9229", "/sandbox/" + scriptName},
		Labels: map[string]string{
			"session-id": c.SessionID,
			"managed-by": "metrobridge",
		},
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		ExposedPorts: nat.PortSet{
			inspectorPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			inspectorPort: []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   scriptDir,
				Target:   "/sandbox",
				ReadOnly: true,
			},
		},
	}

	name := fmt.Sprintf("sandbox-%s", shortID(c.SessionID))
	resp, err := c.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	c.containerID = resp.ID

	attach, err := c.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to attach to container: %w", err)
	}
	c.attach = attach
	c.relay = newLineRelay(c.writeLine)

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		return fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := c.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return fmt.Errorf("failed to inspect container: %w", err)
	}
	if bindings := inspect.NetworkSettings.Ports[inspectorPort]; len(bindings) > 0 {
		c.inspectorWS = fmt.Sprintf("ws://localhost:%s", bindings[0].HostPort)
	}

	// The attached stream multiplexes stdout and stderr; demultiplex into
	// the line relay and the log.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderrW, attach.Reader)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
	}()
	go c.relay.scan(stdoutR)
	go func() {
		scanner := bufio.NewScanner(stderrR)
		for scanner.Scan() {
			log.Printf("SANDBOX[%s] ERR: %s", shortID(c.SessionID), scanner.Text())
		}
	}()

	select {
	case <-c.relay.ready:
		return nil
	case <-ctx.Done():
		c.Stop()
		return ctx.Err()
	case <-time.After(c.ReadyTimeout):
		c.Stop()
		return fmt.Errorf("%w after %s", ErrStartTimeout, c.ReadyTimeout)
	}
}

// InspectorURL is the published node inspector endpoint, usable as the
// session's device-side CDP target. Empty until Start succeeds.
func (c *ContainerRunner) InspectorURL() string {
	return c.inspectorWS
}

func (c *ContainerRunner) writeLine(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.attach.Conn.Write(append(msg, '\n'))
	return err
}

// Post writes a message to the container's stdin, queueing it before readiness
func (c *ContainerRunner) Post(msg json.RawMessage) {
	if c.relay == nil {
		log.Printf("Dropping sandbox message before start: %s", string(msg))
		return
	}
	c.relay.post(msg)
}

// Messages streams sandbox-originated messages
func (c *ContainerRunner) Messages() <-chan json.RawMessage {
	if c.relay == nil {
		ch := make(chan json.RawMessage)
		close(ch)
		return ch
	}
	return c.relay.messages
}

// Stop tears the container down. Best-effort and idempotent; the removal
// runs in the background so teardown never blocks the manager.
func (c *ContainerRunner) Stop() {
	c.stopOnce.Do(func() {
		if c.attach.Conn != nil {
			c.attach.Close()
		}
		id := c.containerID
		if id == "" {
			c.cli.Close()
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			timeout := 10
			if err := c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
				log.Printf("Failed to stop sandbox container %s: %v", shortID(id), err)
			}
			if err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
				log.Printf("Failed to remove sandbox container %s: %v", shortID(id), err)
			}
			c.cli.Close()
		}()
	})
}

// ensureImage pulls the sandbox image if it is not present locally
func (c *ContainerRunner) ensureImage(ctx context.Context) error {
	images, err := c.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == c.Image {
				return nil
			}
		}
	}

	reader, err := c.cli.ImagePull(ctx, c.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
