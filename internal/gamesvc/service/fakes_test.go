package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/gamehost-services/internal/gamesvc/allocator"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
	"github.com/avvvet/gamehost-services/internal/gamesvc/store"
	"github.com/avvvet/gamehost-services/internal/gamesvc/volume"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
)

// fakeRuntime keeps containers in memory and behaves like the docker CLI
// wrapper: unknown names report runtime.ErrNoSuchContainer.
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*runtime.Container
	nextID     int
	pulls      []string
	failures   map[string]error
	onFailure  func()
	// a failing run still leaves a created container behind
	runLeavesContainer bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: map[string]*runtime.Container{},
		failures:   map[string]error{},
	}
}

func (f *fakeRuntime) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *fakeRuntime) injected(op string) error {
	err := f.failures[op]
	if err != nil && f.onFailure != nil {
		f.onFailure()
	}
	return err
}

func (f *fakeRuntime) Pull(ctx context.Context, image, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("pull"); err != nil {
		return err
	}
	f.pulls = append(f.pulls, image+":"+version)
	return nil
}

func (f *fakeRuntime) Run(ctx context.Context, spec runtime.RunSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[spec.Name]; ok {
		return "", fmt.Errorf("%w: %q", runtime.ErrNameInUse, spec.Name)
	}
	err := f.injected("run")
	if err != nil && !f.runLeavesContainer {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("container-%d", f.nextID)
	state := "running"
	if err != nil {
		state = "created"
	}
	f.containers[spec.Name] = &runtime.Container{ID: id, Name: spec.Name, Image: spec.ImageRef(), State: state}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (f *fakeRuntime) setState(name, state string) error {
	c, ok := f.containers[name]
	if !ok {
		return runtime.ErrNoSuchContainer
	}
	c.State = state
	return nil
}

func (f *fakeRuntime) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("start"); err != nil {
		return err
	}
	return f.setState(name, "running")
}

func (f *fakeRuntime) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("stop"); err != nil {
		return err
	}
	return f.setState(name, "exited")
}

func (f *fakeRuntime) Remove(ctx context.Context, name string, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("remove"); err != nil {
		return err
	}
	if _, ok := f.containers[name]; !ok {
		return runtime.ErrNoSuchContainer
	}
	delete(f.containers, name)
	return nil
}

func (f *fakeRuntime) Rename(ctx context.Context, oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("rename"); err != nil {
		return err
	}
	c, ok := f.containers[oldName]
	if !ok {
		return runtime.ErrNoSuchContainer
	}
	if _, taken := f.containers[newName]; taken {
		return fmt.Errorf("%w: %q", runtime.ErrNameInUse, newName)
	}
	delete(f.containers, oldName)
	c.Name = newName
	f.containers[newName] = c
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, name string) (*runtime.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("inspect"); err != nil {
		return nil, err
	}
	c, ok := f.containers[name]
	if !ok {
		return nil, runtime.ErrNoSuchContainer
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRuntime) container(name string) (runtime.Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return runtime.Container{}, false
	}
	return *c, true
}

func (f *fakeRuntime) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// memGames enforces the unique name and port constraints of the games table.
type memGames struct {
	mu         sync.Mutex
	rows       map[int64]*models.Game
	users      map[int64]*models.User
	nextID     int64
	failCreate error
	failUpdate error
}

func newMemGames(users ...*models.User) *memGames {
	m := &memGames{rows: map[int64]*models.Game{}, users: map[int64]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memGames) addUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memGames) read(g *models.Game) *models.Game {
	cp := *g
	if u, ok := m.users[g.CreatorID]; ok {
		creator := *u
		cp.Creator = &creator
	}
	return &cp
}

func (m *memGames) CreateGame(ctx context.Context, g *models.Game) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return nil, m.failCreate
	}
	for _, row := range m.rows {
		if row.Name == g.Name {
			return nil, store.ErrDuplicate
		}
		for _, p := range []int{g.TCPPort, g.UDPPort} {
			if p == row.TCPPort || p == row.UDPPort {
				return nil, store.ErrDuplicate
			}
		}
	}
	m.nextID++
	row := *g
	row.ID = m.nextID
	row.Creator = nil
	m.rows[row.ID] = &row
	return m.read(&row), nil
}

func (m *memGames) GetGameByID(ctx context.Context, gameID int64) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[gameID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.read(row), nil
}

func (m *memGames) ListGames(ctx context.Context) ([]*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	games := make([]*models.Game, 0, len(m.rows))
	for _, row := range m.rows {
		games = append(games, m.read(row))
	}
	sort.Slice(games, func(i, j int) bool { return games[i].ID < games[j].ID })
	return games, nil
}

func (m *memGames) UsedPorts(ctx context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ports []int
	for _, row := range m.rows {
		ports = append(ports, row.TCPPort, row.UDPPort)
	}
	return ports, nil
}

func (m *memGames) UpdateGame(ctx context.Context, g *models.Game) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return nil, m.failUpdate
	}
	row, ok := m.rows[g.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for id, other := range m.rows {
		if id != g.ID && other.Name == g.Name {
			return nil, store.ErrDuplicate
		}
	}
	row.Name = g.Name
	row.Version = g.Version
	row.ContainerID = g.ContainerID
	return m.read(row), nil
}

func (m *memGames) DeleteGame(ctx context.Context, gameID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[gameID]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, gameID)
	return nil
}

func (m *memGames) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memUsers backs both the user and the session repositories.
type memUsers struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	sessions map[string]*models.Session
	nextID   int64
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[int64]*models.User{}, sessions: map[string]*models.Session{}}
}

func (m *memUsers) CreateUser(ctx context.Context, username, passwordHash string, createdAt time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return nil, store.ErrDuplicate
		}
	}
	m.nextID++
	u := &models.User{ID: m.nextID, Username: username, PasswordHash: passwordHash, CreatedAt: createdAt}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memUsers) CreateSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.Token]; ok {
		return store.ErrDuplicate
	}
	cp := *session
	m.sessions[session.Token] = &cp
	return nil
}

func (m *memUsers) GetSessionUser(ctx context.Context, token string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok || s.Invalidated || !s.Expires.After(now) {
		return nil, store.ErrNotFound
	}
	cp := *m.users[s.UserID]
	return &cp, nil
}

func (m *memUsers) InvalidateSession(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok || s.Invalidated {
		return store.ErrNotFound
	}
	s.Invalidated = true
	return nil
}

type recordedEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordedEvents) PublishGameEvent(eventType string, game *models.Game) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

func (r *recordedEvents) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) CreateUser(ctx context.Context, username, passwordHash string, createdAt time.Time) (*models.User, error) {
	args := m.Called(ctx, username, passwordHash, createdAt)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) CreateSession(ctx context.Context, session *models.Session) error {
	return m.Called(ctx, session).Error(0)
}

func (m *mockSessionRepo) GetSessionUser(ctx context.Context, token string, now time.Time) (*models.User, error) {
	args := m.Called(ctx, token, now)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) InvalidateSession(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

const (
	testNamespace = "test"
	testImage     = "factoriotools/factorio"
	testRoot      = "/srv/games"
)

var testNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

type testEnv struct {
	svc     *GameService
	rt      *fakeRuntime
	games   *memGames
	volumes *volume.Manager
	events  *recordedEvents
	owner   *models.User
	other   *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	owner := &models.User{ID: 1, Username: "alice", CreatedAt: testNow}
	other := &models.User{ID: 2, Username: "bob", CreatedAt: testNow}

	env := &testEnv{
		rt:      newFakeRuntime(),
		games:   newMemGames(owner, other),
		volumes: volume.NewManager(afero.NewMemMapFs(), testRoot),
		events:  &recordedEvents{},
		owner:   owner,
		other:   other,
	}
	env.svc = NewGameService(env.games, env.rt, env.volumes, env.events, Config{
		Image:        testImage,
		Namespace:    testNamespace,
		PortAttempts: allocator.DefaultAttempts,
	}).WithClock(func() time.Time { return testNow })
	return env
}

func (e *testEnv) volumeExists(t *testing.T, name string) bool {
	t.Helper()
	ok, err := e.volumes.Exists(name)
	if err != nil {
		t.Fatalf("stat volume %s: %v", name, err)
	}
	return ok
}
