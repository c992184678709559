package ctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/gamesvc/allocator"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) DeleteStaleSessions(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type staticGames []*models.Game

func (g staticGames) ListGames(ctx context.Context) ([]*models.Game, error) {
	out := make([]*models.Game, len(g))
	for i, game := range g {
		copied := *game
		out[i] = &copied
	}
	return out, nil
}

type fakeRuntime struct {
	containers map[string]runtime.Container
	listErr    error
	removed    []string
}

func (f *fakeRuntime) List(ctx context.Context, filter string) ([]runtime.Container, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []runtime.Container{}
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRuntime) Remove(ctx context.Context, name string, force bool) error {
	delete(f.containers, name)
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeRuntime) set(name, state string) {
	f.containers[name] = runtime.Container{ID: name + "-id", Name: name, State: state}
}

type published struct {
	eventType string
	event     comm.GameEvent
}

type recorder struct {
	events []published
}

func (r *recorder) PublishEvent(eventType string, event comm.GameEvent) {
	r.events = append(r.events, published{eventType, event})
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newController(t *testing.T, games staticGames, prune bool) (*Controller, *fakeRuntime, *recorder) {
	t.Helper()
	sessions := &mockSessions{}
	sessions.On("DeleteStaleSessions", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(2), nil)
	rt := &fakeRuntime{containers: map[string]runtime.Container{}}
	events := &recorder{}
	c := NewController(sessions, games, rt, events, allocator.NewNamer("test"), prune).
		WithClock(func() time.Time { return testNow })
	return c, rt, events
}

func tick(t *testing.T, c *Controller) *Report {
	t.Helper()
	report, err := c.Tick(context.Background())
	require.NoError(t, err)
	return report
}

func demoGame() *models.Game {
	return &models.Game{ID: 1, Name: "demo", CreatorID: 7, Version: "latest", TCPPort: 40000, UDPPort: 40001}
}

func TestTickPurgesSessions(t *testing.T) {
	c, _, _ := newController(t, nil, false)

	report, err := c.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.StaleSessions)
}

func TestTickReportsMissingContainerOnce(t *testing.T) {
	c, _, events := newController(t, staticGames{demoGame()}, false)

	report := tick(t, c)
	assert.Empty(t, report.Drifted, "a single sighting is not drift")
	assert.Empty(t, events.events)

	report = tick(t, c)
	assert.Equal(t, []int64{1}, report.Drifted)
	require.Len(t, events.events, 1)
	assert.Equal(t, comm.EventGameDrift, events.events[0].eventType)
	assert.Equal(t, ReasonMissing, events.events[0].event.Reason)
	assert.Equal(t, int64(7), events.events[0].event.CreatorID)
	assert.NotEmpty(t, events.events[0].event.EventID)

	report = tick(t, c)
	assert.Empty(t, report.Drifted)
	assert.Len(t, events.events, 1)
}

func TestTickReportsStateChangedOutsideTheAPI(t *testing.T) {
	c, rt, events := newController(t, staticGames{demoGame()}, false)
	rt.set("test_demo", "exited")

	// first sighting only records the state
	tick(t, c)
	assert.Empty(t, events.events)

	rt.set("test_demo", "running")
	report := tick(t, c)
	assert.Empty(t, report.Drifted)

	report = tick(t, c)
	assert.Equal(t, []int64{1}, report.Drifted)
	require.Len(t, events.events, 1)
	assert.Equal(t, ReasonOnline, events.events[0].event.Reason)
	assert.True(t, events.events[0].event.IsOnline)

	report = tick(t, c)
	assert.Empty(t, report.Drifted)
	assert.Len(t, events.events, 1)
}

func TestTickIgnoresChangesMadeThroughTheAPI(t *testing.T) {
	c, rt, events := newController(t, staticGames{demoGame()}, false)
	rt.set("test_demo", "exited")
	tick(t, c)

	rt.set("test_demo", "running")
	c.Observe(comm.EventGameStarted, &comm.GameEvent{GameID: 1})

	for i := 0; i < 2; i++ {
		report := tick(t, c)
		assert.Empty(t, report.Drifted)
	}
	assert.Empty(t, events.events)
}

func TestTickWaitsForLateEvents(t *testing.T) {
	c, rt, events := newController(t, staticGames{demoGame()}, false)
	rt.set("test_demo", "exited")
	tick(t, c)

	// the start lands before its event reaches the controller
	rt.set("test_demo", "running")
	tick(t, c)
	c.Observe(comm.EventGameStarted, &comm.GameEvent{GameID: 1})

	for i := 0; i < 2; i++ {
		report := tick(t, c)
		assert.Empty(t, report.Drifted)
	}
	assert.Empty(t, events.events)
}

func TestTickIgnoresFlappingState(t *testing.T) {
	c, rt, events := newController(t, staticGames{demoGame()}, false)
	rt.set("test_demo", "exited")
	tick(t, c)

	rt.set("test_demo", "running")
	tick(t, c)
	rt.set("test_demo", "exited")
	tick(t, c)
	tick(t, c)
	assert.Empty(t, events.events)
}

func TestTickPrunesOrphansAfterGrace(t *testing.T) {
	c, rt, _ := newController(t, staticGames{demoGame()}, true)
	clock := &testClock{now: testNow}
	c.WithClock(clock.Now).WithOrphanGrace(time.Minute)
	rt.set("test_demo", "exited")
	rt.set("test_ghost", "running")

	report := tick(t, c)
	assert.Equal(t, []string{"test_ghost"}, report.Orphans)
	assert.Empty(t, report.Pruned)

	clock.advance(30 * time.Second)
	report = tick(t, c)
	assert.Equal(t, []string{"test_ghost"}, report.Orphans)
	assert.Empty(t, report.Pruned, "seen twice but still within grace")

	clock.advance(30 * time.Second)
	report = tick(t, c)
	assert.Equal(t, []string{"test_ghost"}, report.Pruned)
	assert.Equal(t, []string{"test_ghost"}, rt.removed)
}

func TestTickKeepsInFlightContainer(t *testing.T) {
	c, rt, _ := newController(t, nil, true)
	clock := &testClock{now: testNow}
	c.WithClock(clock.Now).WithOrphanGrace(OrphanGrace(2 * time.Minute))

	// created by the API, row not committed yet
	rt.set("test_fresh", "running")
	for i := 0; i < 4; i++ {
		report := tick(t, c)
		assert.Empty(t, report.Pruned)
		clock.advance(time.Minute)
	}
	assert.Empty(t, rt.removed)

	clock.advance(4 * time.Minute)
	report := tick(t, c)
	assert.Equal(t, []string{"test_fresh"}, report.Pruned)
}

func TestTickKeepsSetAsideContainer(t *testing.T) {
	c, rt, events := newController(t, staticGames{demoGame()}, true)
	clock := &testClock{now: testNow}
	c.WithClock(clock.Now).WithOrphanGrace(time.Minute)
	rt.set("test_demo", "exited")
	rt.set("test_demo.previous", "exited")
	rt.set("test_gone.previous", "exited")

	for i := 0; i < 3; i++ {
		report := tick(t, c)
		assert.NotContains(t, report.Orphans, "test_demo.previous")
		clock.advance(time.Minute)
	}
	assert.Equal(t, []string{"test_gone.previous"}, rt.removed)
	assert.Empty(t, events.events)
}

func TestTickOnlyReportsOrphansWithoutPrune(t *testing.T) {
	c, rt, _ := newController(t, nil, false)
	rt.set("test_ghost", "running")

	for i := 0; i < 2; i++ {
		report, err := c.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"test_ghost"}, report.Orphans)
		assert.Empty(t, report.Pruned)
	}
	assert.Empty(t, rt.removed)
}

func TestTickFailsWhenRuntimeFails(t *testing.T) {
	c, rt, events := newController(t, staticGames{demoGame()}, false)
	rt.listErr = errors.New("daemon down")

	report, err := c.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(2), report.StaleSessions)
	assert.Empty(t, events.events)
}
