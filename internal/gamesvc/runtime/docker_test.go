package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	args []string
}

// scripted answers each invocation with the next canned reply.
type scripted struct {
	calls   []call
	replies []reply
}

type reply struct {
	out string
	err error
}

func (s *scripted) run(ctx context.Context, args ...string) ([]byte, error) {
	s.calls = append(s.calls, call{args: args})
	if len(s.replies) == 0 {
		return nil, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return []byte(r.out), r.err
}

func TestRunBuildsCommand(t *testing.T) {
	s := &scripted{replies: []reply{{out: "abc123\n"}}}
	d := NewDockerWithRunner(s.run, time.Second)

	id, err := d.Run(context.Background(), RunSpec{
		Name:       "fma_demo",
		Image:      "factoriotools/factorio",
		Version:    "1.1.110",
		TCPPort:    40000,
		UDPPort:    40001,
		VolumePath: "/srv/games/demo",
		Labels:     map[string]string{"gamehost.namespace": "fma"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	require.Len(t, s.calls, 1)
	assert.Equal(t, []string{
		"run", "-d", "--name", "fma_demo",
		"--label", "gamehost.managed=true",
		"--label", "gamehost.namespace=fma",
		"-p", "40000:27015/tcp",
		"-p", "40001:34197/udp",
		"-v", "/srv/games/demo:/factorio",
		"factoriotools/factorio:1.1.110",
	}, s.calls[0].args)
}

func TestRemoveMapsMissingContainer(t *testing.T) {
	s := &scripted{replies: []reply{{err: &CommandError{
		Args:   []string{"rm", "-f", "fma_demo"},
		Stderr: "Error response from daemon: No such container: fma_demo",
		Err:    errors.New("exit status 1"),
	}}}}
	d := NewDockerWithRunner(s.run, time.Second)

	err := d.Remove(context.Background(), "fma_demo", true)
	assert.ErrorIs(t, err, ErrNoSuchContainer)
	assert.Equal(t, []string{"rm", "-f", "fma_demo"}, s.calls[0].args)
}

func TestRunMapsNameConflict(t *testing.T) {
	s := &scripted{replies: []reply{{err: &CommandError{
		Args:   []string{"run", "-d", "--name", "fma_demo"},
		Stderr: `docker: Error response from daemon: Conflict. The container name "/fma_demo" is already in use by container "4f2a". You have to remove (or rename) that container to be able to reuse that name.`,
		Err:    errors.New("exit status 125"),
	}}}}
	d := NewDockerWithRunner(s.run, time.Second)

	_, err := d.Run(context.Background(), RunSpec{Name: "fma_demo", Image: "factoriotools/factorio", Version: "stable"})
	assert.ErrorIs(t, err, ErrNameInUse)
	assert.NotErrorIs(t, err, ErrNoSuchContainer)
}

func TestOtherFailuresAreNotMissing(t *testing.T) {
	s := &scripted{replies: []reply{{err: &CommandError{
		Args:   []string{"start", "fma_demo"},
		Stderr: "Error response from daemon: driver failed programming external connectivity",
		Err:    errors.New("exit status 1"),
	}}}}
	d := NewDockerWithRunner(s.run, time.Second)

	err := d.Start(context.Background(), "fma_demo")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSuchContainer)
	assert.Contains(t, err.Error(), "driver failed")
}

func TestCommandTimesOut(t *testing.T) {
	hang := func(ctx context.Context, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d := NewDockerWithRunner(hang, 10*time.Millisecond)

	err := d.Stop(context.Background(), "fma_demo")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestInspectMatchesExactName(t *testing.T) {
	out := `{"ID":"1","Names":"fma_demo2","Image":"factoriotools/factorio:latest","Status":"Up 2 minutes","State":"running"}
{"ID":"2","Names":"fma_demo","Image":"factoriotools/factorio:1.1.110","Status":"Exited (0) 1 hour ago","State":"exited"}
`
	s := &scripted{replies: []reply{{out: out}}}
	d := NewDockerWithRunner(s.run, time.Second)

	c, err := d.Inspect(context.Background(), "fma_demo")
	require.NoError(t, err)
	assert.Equal(t, "2", c.ID)
	assert.False(t, c.Running())
	assert.Equal(t, "1.1.110", c.Version())
	assert.Equal(t, []string{"ps", "-a", "--no-trunc", "--format", "{{json .}}", "--filter", "name=^/?fma_demo$"}, s.calls[0].args)
}

func TestInspectMissing(t *testing.T) {
	s := &scripted{replies: []reply{{out: ""}}}
	d := NewDockerWithRunner(s.run, time.Second)

	_, err := d.Inspect(context.Background(), "fma_demo")
	assert.ErrorIs(t, err, ErrNoSuchContainer)
}

func TestContainerRunning(t *testing.T) {
	assert.True(t, Container{Status: "Up 3 seconds"}.Running())
	assert.False(t, Container{Status: "Exited (0) 3 seconds ago"}.Running())
	assert.True(t, Container{State: "running", Status: "Up 1 hour"}.Running())
	assert.Equal(t, "latest", Container{Image: "localhost:5000/factorio"}.Version())
}
