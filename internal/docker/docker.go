// Package docker drives the container runtime through the docker binary.
package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/proxy2vpn/proxy2vpn/internal/compose"
)

// Client wraps the docker CLI. It satisfies fleet.Runtime.
type Client struct {
	bin     string
	network string
}

// ContainerInfo is one row of a container listing.
type ContainerInfo struct {
	Name   string
	Status string
}

// NewClient returns a docker client attaching containers to the given
// bridge network.
func NewClient(network string) *Client {
	return &Client{bin: "docker", network: network}
}

// run executes one docker invocation and returns its combined output.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		if text != "" {
			return "", fmt.Errorf("docker %s: %s", args[0], text)
		}
		return "", fmt.Errorf("docker %s: %w", args[0], err)
	}
	return text, nil
}

// Exists reports whether a container with the exact name exists, running
// or not.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	output, err := c.run(ctx, "ps", "-a", "--filter", "name=^"+name+"$", "--format", "{{.Names}}")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

// Create pulls the profile image and creates the container for a service:
// both port mappings, merged environment, identification labels, the
// profile's capabilities and devices, attached to the managed network.
func (c *Client) Create(ctx context.Context, svc compose.VPNService, profile compose.Profile) error {
	if err := c.ensureNetwork(ctx); err != nil {
		return err
	}
	if _, err := c.run(ctx, "image", "pull", profile.Image); err != nil {
		return err
	}

	env := loadEnvFile(profile.EnvFile)
	for k, v := range svc.Environment {
		env[k] = v
	}
	envFlags := make([]string, 0, len(env))
	for k, v := range env {
		envFlags = append(envFlags, k+"="+v)
	}
	sort.Strings(envFlags)

	labelKeys := make([]string, 0, len(svc.Labels))
	for k := range svc.Labels {
		labelKeys = append(labelKeys, k)
	}
	sort.Strings(labelKeys)

	args := []string{
		"container", "create",
		"--name", svc.Name,
		"--network", c.network,
		"-p", fmt.Sprintf("%d:%d/tcp", svc.Port, compose.ProxyInternalPort),
		"-p", fmt.Sprintf("%d:%d/tcp", svc.ControlPort, compose.ControlInternalPort),
	}
	for _, e := range envFlags {
		args = append(args, "-e", e)
	}
	for _, k := range labelKeys {
		args = append(args, "--label", k+"="+svc.Labels[k])
	}
	for _, capability := range profile.CapAdd {
		args = append(args, "--cap-add", capability)
	}
	for _, dev := range profile.Devices {
		args = append(args, "--device", dev)
	}
	args = append(args, profile.Image)

	_, err := c.run(ctx, args...)
	return err
}

// Start starts an existing container by name.
func (c *Client) Start(ctx context.Context, name string) error {
	_, err := c.run(ctx, "container", "start", name)
	return err
}

// Stop stops a running container by name.
func (c *Client) Stop(ctx context.Context, name string) error {
	_, err := c.run(ctx, "container", "stop", name)
	return err
}

// Remove force-removes a container by name.
func (c *Client) Remove(ctx context.Context, name string) error {
	_, err := c.run(ctx, "container", "rm", "-f", name)
	return err
}

// List returns the VPN containers, identified by the vpn.type label.
func (c *Client) List(ctx context.Context, all bool) ([]ContainerInfo, error) {
	args := []string{"ps", "--filter", "label=" + compose.LabelType + "=" + compose.TypeValue,
		"--format", "{{.Names}}\t{{.Status}}"}
	if all {
		args = append(args, "-a")
	}
	output, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var containers []ContainerInfo
	for _, line := range strings.Split(output, "\n") {
		name, status, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok || name == "" {
			continue
		}
		containers = append(containers, ContainerInfo{Name: name, Status: status})
	}
	return containers, nil
}

// StatusOf returns the runtime state of a container (running, exited, ...),
// or "absent" when no container exists for the name.
func (c *Client) StatusOf(ctx context.Context, name string) (string, error) {
	exists, err := c.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "absent", nil
	}
	return c.run(ctx, "container", "inspect", "--format", "{{.State.Status}}", name)
}

// Logs returns the last tail lines of a container's log.
func (c *Client) Logs(ctx context.Context, name string, tail int) ([]string, error) {
	output, err := c.run(ctx, "logs", "--tail", fmt.Sprintf("%d", tail), name)
	if err != nil {
		return nil, err
	}
	if output == "" {
		return nil, nil
	}
	return strings.Split(output, "\n"), nil
}

// FollowLogs streams a container's log to w until the container stops or
// ctx is cancelled.
func (c *Client) FollowLogs(ctx context.Context, name string, tail int, w io.Writer) error {
	cmd := exec.CommandContext(ctx, c.bin, "logs", "--tail", fmt.Sprintf("%d", tail), "-f", name)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("docker logs: %w", err)
	}
	return nil
}

// ensureNetwork creates the managed bridge network if it does not exist.
func (c *Client) ensureNetwork(ctx context.Context) error {
	if _, err := c.run(ctx, "network", "inspect", "--format", "{{.Name}}", c.network); err == nil {
		return nil
	}
	_, err := c.run(ctx, "network", "create", "--driver", "bridge", c.network)
	return err
}

// loadEnvFile reads KEY=value lines from a profile's credential file.
// A missing or empty path yields no variables.
func loadEnvFile(path string) map[string]string {
	env := map[string]string{}
	if path == "" {
		return env
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return env
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env
}
