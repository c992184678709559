package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Container is one row of `docker ps`.
type Container struct {
	ID     string `json:"ID"`
	Name   string `json:"Names"`
	Image  string `json:"Image"`
	Status string `json:"Status"` // e.g. "Up 3 minutes", "Exited (0) 2 hours ago"
	State  string `json:"State"`  // running, exited, created ...
}

func (c Container) Running() bool {
	if c.State != "" {
		return c.State == "running"
	}
	return strings.HasPrefix(c.Status, "Up ")
}

// Version is the image tag the container was started from.
func (c Container) Version() string {
	i := strings.LastIndex(c.Image, ":")
	if i < 0 || strings.Contains(c.Image[i:], "/") {
		return "latest"
	}
	return c.Image[i+1:]
}

// List returns all containers, running or not, whose name matches filter
// (a docker name filter, substring or regexp).
func (d *Docker) List(ctx context.Context, filter string) ([]Container, error) {
	args := []string{"ps", "-a", "--no-trunc", "--format", "{{json .}}"}
	if filter != "" {
		args = append(args, "--filter", "name="+filter)
	}
	out, err := d.command(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parsePs(out)
}

// Inspect finds the container with exactly this name.
func (d *Docker) Inspect(ctx context.Context, name string) (*Container, error) {
	containers, err := d.List(ctx, "^/?"+regexp.QuoteMeta(name)+"$")
	if err != nil {
		return nil, err
	}
	for i := range containers {
		if strings.TrimPrefix(containers[i].Name, "/") == name {
			return &containers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchContainer, name)
}

func parsePs(out []byte) ([]Container, error) {
	containers := []Container{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var c Container
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("decode docker ps line %q: %w", line, err)
		}
		containers = append(containers, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read docker ps output: %w", err)
	}
	return containers, nil
}
