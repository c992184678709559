// Package ctl holds the background controller that keeps the store, the
// container runtime and the session table consistent.
package ctl

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/gamesvc/allocator"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	ReasonMissing = "container missing"
	ReasonOnline  = "container came online outside the API"
	ReasonOffline = "container went offline outside the API"
)

// runtimeSteps is the longest chain of runtime calls a create or update makes
// before its row is committed.
const runtimeSteps = 4

// OrphanGrace is how long an unknown container is left alone before it may be
// pruned, given the timeout of a single runtime call.
func OrphanGrace(runtimeTimeout time.Duration) time.Duration {
	return runtimeSteps * runtimeTimeout
}

type containerState string

const (
	stateMissing containerState = "missing"
	stateOnline  containerState = "online"
	stateOffline containerState = "offline"
)

var driftReasons = map[containerState]string{
	stateMissing: ReasonMissing,
	stateOnline:  ReasonOnline,
	stateOffline: ReasonOffline,
}

type Sessions interface {
	DeleteStaleSessions(ctx context.Context, now time.Time) (int64, error)
}

type Games interface {
	ListGames(ctx context.Context) ([]*models.Game, error)
}

type Runtime interface {
	List(ctx context.Context, filter string) ([]runtime.Container, error)
	Remove(ctx context.Context, name string, force bool) error
}

type Publisher interface {
	PublishEvent(eventType string, event comm.GameEvent)
}

// Report is the outcome of one Tick.
type Report struct {
	StaleSessions int64
	Drifted       []int64
	Orphans       []string
	Pruned        []string
}

type Controller struct {
	sessions Sessions
	games    Games
	rt       Runtime
	events   Publisher
	namer    allocator.Namer
	prune    bool
	grace    time.Duration
	now      func() time.Time

	mu      sync.Mutex
	state   map[int64]containerState // last confirmed state per game
	pending map[int64]containerState // mismatch seen once, reported if seen again
	orphans map[string]time.Time     // first sighting of each orphan still present
}

func NewController(sessions Sessions, games Games, rt Runtime, events Publisher, namer allocator.Namer, prune bool) *Controller {
	return &Controller{
		sessions: sessions,
		games:    games,
		rt:       rt,
		events:   events,
		namer:    namer,
		prune:    prune,
		grace:    OrphanGrace(2 * time.Minute),
		now:      time.Now,
		state:    map[int64]containerState{},
		pending:  map[int64]containerState{},
		orphans:  map[string]time.Time{},
	}
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// WithOrphanGrace sets how long an orphan must have been present before it is
// pruned.
func (c *Controller) WithOrphanGrace(d time.Duration) *Controller {
	c.grace = d
	return c
}

// Observe records the state the API last put a game in, so that changes
// made through the API are not reported as drift.
func (c *Controller) Observe(eventType string, event *comm.GameEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch eventType {
	case comm.EventGameStarted:
		c.state[event.GameID] = stateOnline
	case comm.EventGameCreated, comm.EventGameStopped, comm.EventGameUpdated:
		c.state[event.GameID] = stateOffline
	case comm.EventGameDeleted:
		delete(c.state, event.GameID)
	default:
		return
	}
	delete(c.pending, event.GameID)
}

// Run ticks until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := c.Tick(ctx)
			if err != nil {
				log.Errorf("ctl tick: %v", err)
				continue
			}
			log.WithFields(log.Fields{
				"stale_sessions": report.StaleSessions,
				"drifted":        len(report.Drifted),
				"orphans":        len(report.Orphans),
				"pruned":         len(report.Pruned),
			}).Debug("ctl tick done")
		}
	}
}

// Tick runs one pass. A failed session purge is logged and does not stop
// the reconciliation.
func (c *Controller) Tick(ctx context.Context) (*Report, error) {
	report := &Report{}

	n, err := c.sessions.DeleteStaleSessions(ctx, c.now())
	if err != nil {
		log.Errorf("purge sessions: %v", err)
	} else {
		report.StaleSessions = n
	}

	containers, err := c.rt.List(ctx, "^/?"+regexp.QuoteMeta(c.namer.ContainerName("")))
	if err != nil {
		return report, err
	}
	games, err := c.games.ListGames(ctx)
	if err != nil {
		return report, err
	}

	byName := make(map[string]runtime.Container, len(containers))
	for _, ct := range containers {
		if name, ok := c.namer.GameName(ct.Name); ok {
			byName[name] = ct
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	known := make(map[string]bool, len(games))
	ids := make(map[int64]bool, len(games))
	for _, g := range games {
		known[g.Name] = true
		ids[g.ID] = true
		ct, ok := byName[g.Name]
		observed := stateMissing
		if ok {
			observed = stateOffline
			if ct.Running() {
				observed = stateOnline
			}
		}
		if reason := c.drift(g.ID, observed); reason != "" {
			report.Drifted = append(report.Drifted, g.ID)
			g.IsOnline = observed == stateOnline
			c.publishDrift(g, reason)
		}
	}
	for id := range c.state {
		if !ids[id] {
			delete(c.state, id)
		}
	}
	for id := range c.pending {
		if !ids[id] {
			delete(c.pending, id)
		}
	}

	seen := map[string]time.Time{}
	for name, ct := range byName {
		if known[name] {
			continue
		}
		// parked by a version change of a game that still holds the old name
		if game, ok := c.namer.SetAside(name); ok && known[game] {
			continue
		}
		containerName := c.namer.ContainerName(name)
		report.Orphans = append(report.Orphans, containerName)
		firstSeen, tracked := c.orphans[containerName]
		if !tracked {
			firstSeen = now
		}
		seen[containerName] = firstSeen

		// a create or update in flight owns its container until the row is committed
		if !c.prune || !tracked || now.Sub(firstSeen) < c.grace {
			continue
		}
		if err := c.rt.Remove(ctx, containerName, true); err != nil {
			log.Errorf("prune orphan %s (%s): %v", containerName, ct.ID, err)
			continue
		}
		log.Warnf("pruned orphan container %s", containerName)
		report.Pruned = append(report.Pruned, containerName)
		delete(seen, containerName)
	}
	c.orphans = seen

	return report, nil
}

// drift compares the observed container state of a game with the tracked
// one. A mismatch is reported once it has been seen on two consecutive ticks
// with no API event in between. Callers hold c.mu.
func (c *Controller) drift(gameID int64, observed containerState) string {
	confirmed, tracked := c.state[gameID]
	switch {
	case !tracked && observed != stateMissing:
		c.state[gameID] = observed
		delete(c.pending, gameID)
		return ""
	case confirmed == observed:
		delete(c.pending, gameID)
		return ""
	case confirmed == stateMissing:
		// the container is back, nothing to report
		c.state[gameID] = observed
		delete(c.pending, gameID)
		return ""
	}

	if c.pending[gameID] != observed {
		c.pending[gameID] = observed
		return ""
	}
	delete(c.pending, gameID)
	c.state[gameID] = observed
	return driftReasons[observed]
}

func (c *Controller) publishDrift(g *models.Game, reason string) {
	log.WithFields(log.Fields{"game_id": g.ID, "game": g.Name}).Warnf("drift: %s", reason)
	c.events.PublishEvent(comm.EventGameDrift, comm.GameEvent{
		EventID:   uuid.New().String(),
		GameID:    g.ID,
		Name:      g.Name,
		CreatorID: g.CreatorID,
		Version:   g.Version,
		TCPPort:   g.TCPPort,
		UDPPort:   g.UDPPort,
		IsOnline:  g.IsOnline,
		Reason:    reason,
		At:        c.now().UTC(),
	})
}
