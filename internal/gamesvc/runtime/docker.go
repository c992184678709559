package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Ports the game image listens on inside the container.
const (
	ContainerTCPPort = 27015 // rcon
	ContainerUDPPort = 34197 // game
	ContainerDataDir = "/factorio"

	ManagedLabel = "gamehost.managed"
)

var (
	ErrNoSuchContainer = errors.New("no such container")
	ErrNameInUse       = errors.New("container name is already in use")
	ErrTimeout         = errors.New("container runtime timed out")
)

// CommandError carries what the CLI printed on stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("docker %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Runner executes one CLI invocation and returns its stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// ExecRunner shells out to bin.
func ExecRunner(bin string, echo bool) Runner {
	return func(ctx context.Context, args ...string) ([]byte, error) {
		if echo {
			log.Debugf("exec: %s %s", bin, strings.Join(args, " "))
		}
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, bin, args...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return stdout.Bytes(), &CommandError{Args: args, Stderr: stderr.String(), Err: err}
		}
		return stdout.Bytes(), nil
	}
}

type RunSpec struct {
	Name       string
	Image      string
	Version    string
	TCPPort    int
	UDPPort    int
	VolumePath string
	Labels     map[string]string
}

func (s RunSpec) ImageRef() string {
	return s.Image + ":" + s.Version
}

// Docker drives containers through the docker CLI. Every call is bounded
// by timeout.
type Docker struct {
	run     Runner
	timeout time.Duration
}

func NewDocker(bin string, timeout time.Duration, echo bool) *Docker {
	if bin == "" {
		bin = "docker"
	}
	return NewDockerWithRunner(ExecRunner(bin, echo), timeout)
}

func NewDockerWithRunner(run Runner, timeout time.Duration) *Docker {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Docker{run: run, timeout: timeout}
}

func (d *Docker) command(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.run(ctx, args...)
	if err == nil {
		return out, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("docker %s after %s: %w", args[0], d.timeout, ErrTimeout)
	}
	if isNoSuchContainer(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchContainer, err.Error())
	}
	if isNameInUse(err) {
		return nil, fmt.Errorf("%w: %s", ErrNameInUse, err.Error())
	}
	return nil, err
}

func isNoSuchContainer(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such container")
}

// the daemon reports `Conflict. The container name "/x" is already in use`
// for both run and rename
func isNameInUse(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "container name") && strings.Contains(msg, "is already in use")
}

func (d *Docker) Pull(ctx context.Context, image, version string) error {
	_, err := d.command(ctx, "pull", image+":"+version)
	return err
}

// Run creates and starts a detached container and returns its id.
func (d *Docker) Run(ctx context.Context, spec RunSpec) (string, error) {
	args := []string{"run", "-d", "--name", spec.Name, "--label", ManagedLabel + "=true"}
	keys := make([]string, 0, len(spec.Labels))
	for k := range spec.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}
	args = append(args,
		"-p", fmt.Sprintf("%d:%d/tcp", spec.TCPPort, ContainerTCPPort),
		"-p", fmt.Sprintf("%d:%d/udp", spec.UDPPort, ContainerUDPPort),
		"-v", spec.VolumePath+":"+ContainerDataDir,
		spec.ImageRef(),
	)

	out, err := d.command(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (d *Docker) Start(ctx context.Context, name string) error {
	_, err := d.command(ctx, "start", name)
	return err
}

func (d *Docker) Stop(ctx context.Context, name string) error {
	_, err := d.command(ctx, "stop", name)
	return err
}

// Remove deletes a container. A container that does not exist yields an
// error wrapping ErrNoSuchContainer so callers can decide whether to care.
func (d *Docker) Remove(ctx context.Context, name string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	_, err := d.command(ctx, append(args, name)...)
	return err
}

func (d *Docker) Rename(ctx context.Context, oldName, newName string) error {
	_, err := d.command(ctx, "rename", oldName, newName)
	return err
}
