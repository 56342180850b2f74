// Package mcpsupervisor implements spec §4.g's McpProcessSupervisor: health
// monitoring, backoff-based restart, and cooldown for external MCP server
// processes. Grounded on the teacher's internal/tasks/scheduler.go (ticker
// loop shape, semaphore-free goroutine-per-tick dispatch, slog texture) and
// internal/backoff/policy.go (backoff-parameter struct, though spec's fixed
// 5-second spacing calls for a constant policy rather than the teacher's
// exponential one). The health-check cadence itself is driven by
// robfig/cron/v3, the scheduling library the teacher and the rest of the
// pack use for cron-expression-driven background work.
package mcpsupervisor

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nexuscli/agent/pkg/models"
)

const (
	healthCheckInterval   = 30 * time.Second
	restartBackoff        = 5 * time.Second
	maxAttemptsPerEpisode = 3
	maxEpisodesBeforeFail = 3
	restartCooldown       = 30 * time.Second
	failedCooldown        = 300 * time.Second
	httpReadinessTimeout  = 10 * time.Second
	stdioReadinessWindow  = 200 * time.Millisecond
	pingTimeout           = 10 * time.Second
)

// Pinger is satisfied by an mcpclient.Client (or a test double): anything
// the supervisor can health-check and restart.
type Pinger interface {
	ServerName() string
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
}

// entry tracks one supervised server's runtime state plus episode
// bookkeeping not exposed on ServerRuntimeState itself.
type entry struct {
	client Pinger
	state  models.ServerRuntimeState

	attemptsThisEpisode int
	episodes            int
	cooldownUntil        time.Time
}

// Supervisor runs the single global health-check/restart loop spec §4.g
// requires. Callers obtain the process-wide instance via Get.
type Supervisor struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	runMu   sync.Mutex
	running bool
	cron    *cron.Cron

	backoff time.Duration // spacing between restart attempts within an episode; overridable in tests
}

// New builds a Supervisor. Most callers should use Get instead, which
// enforces the single-global-monitor requirement (invariant P7).
func New() *Supervisor {
	return &Supervisor{
		logger:  slog.Default().With("component", "mcp-supervisor"),
		entries: map[string]*entry{},
		backoff: restartBackoff,
	}
}

var (
	globalMu sync.Mutex
	global   *Supervisor
)

// Get returns the process-wide Supervisor, creating it on first call.
func Get() *Supervisor {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New()
	}
	return global
}

// Register adds a server to be supervised, in the Running state, without
// performing a readiness check (callers that want one should call
// ReadinessCheck themselves, e.g. at session init for eager servers).
func (s *Supervisor) Register(client Pinger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[client.ServerName()] = &entry{
		client: client,
		state:  models.ServerRuntimeState{Health: models.HealthRunning},
	}
}

// State returns a copy of the named server's runtime state.
func (s *Supervisor) State(name string) (models.ServerRuntimeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return models.ServerRuntimeState{}, false
	}
	return e.state, true
}

// Start launches the single global health-check tick (every 30 seconds, per
// spec §4.g). Starting it a second time is a no-op (invariant P7).
func (s *Supervisor) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	_, err := c.AddFunc("@every 30s", func() { s.tick(ctx) })
	if err != nil {
		s.logger.Error("failed to schedule mcp health check", "error", err)
		s.running = false
		return
	}
	c.Start()
	s.cron = c
	s.logger.Info("mcp health monitor started", "interval", healthCheckInterval)
}

// Stop halts the health-check tick. Safe to call even if Start was never
// called or already stopped.
func (s *Supervisor) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	if s.cron != nil {
		s.cron.Stop()
	}
	s.running = false
}

// snapshot lists the currently registered entries without holding the lock
// across the subsequent health checks (ticks never hold s.mu across an
// await point that re-enters the supervisor, per spec §4.g).
func (s *Supervisor) snapshot() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func (s *Supervisor) tick(ctx context.Context) {
	for _, e := range s.snapshot() {
		s.checkOne(ctx, e)
	}
}

func (s *Supervisor) checkOne(ctx context.Context, e *entry) {
	s.mu.Lock()
	state := e.state
	s.mu.Unlock()

	now := time.Now()
	switch state.Health {
	case models.HealthRunning:
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := e.client.Ping(pingCtx)
		cancel()
		if err != nil {
			s.transition(e, models.HealthDead, err.Error())
		}
	case models.HealthDead:
		s.mu.Lock()
		cooldownUntil := e.cooldownUntil
		s.mu.Unlock()
		if now.Before(cooldownUntil) {
			return
		}
		s.attemptRestart(ctx, e)
	case models.HealthFailed:
		s.mu.Lock()
		failedAt := e.state.FailedAt
		s.mu.Unlock()
		if failedAt != 0 && now.Unix()-failedAt >= int64(failedCooldown.Seconds()) {
			s.transition(e, models.HealthDead, "")
			s.mu.Lock()
			e.episodes = 0
			e.attemptsThisEpisode = 0
			s.mu.Unlock()
		}
	case models.HealthRestarting:
		// a restart attempt is already in flight from a previous tick; leave it
	}
}

func (s *Supervisor) attemptRestart(ctx context.Context, e *entry) {
	s.transition(e, models.HealthRestarting, "")

	s.mu.Lock()
	e.attemptsThisEpisode++
	attempt := e.attemptsThisEpisode
	s.mu.Unlock()

	if attempt > 1 && s.backoff > 0 {
		select {
		case <-time.After(s.backoff):
		case <-ctx.Done():
			return
		}
	}

	if err := e.client.Connect(ctx); err == nil {
		s.transition(e, models.HealthRunning, "")
		s.mu.Lock()
		e.attemptsThisEpisode = 0
		s.mu.Unlock()
		return
	} else if attempt < maxAttemptsPerEpisode {
		// still within the episode's attempt budget; leave cooldownUntil
		// alone so the next tick retries immediately (spaced by s.backoff,
		// not by restartCooldown, which only applies once the episode itself
		// is exhausted).
		s.transition(e, models.HealthDead, err.Error())
		return
	}

	s.mu.Lock()
	e.episodes++
	episodes := e.episodes
	e.attemptsThisEpisode = 0
	s.mu.Unlock()

	if episodes >= maxEpisodesBeforeFail {
		s.transition(e, models.HealthFailed, "restart episodes exhausted")
	} else {
		s.transition(e, models.HealthDead, "restart attempts exhausted for this episode")
		s.mu.Lock()
		e.cooldownUntil = time.Now().Add(restartCooldown)
		s.mu.Unlock()
	}
}

func (s *Supervisor) transition(e *entry, health models.ServerHealth, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.state.Health = health
	e.state.LastError = lastError
	e.state.LastHealthCheck = time.Now().Unix()
	switch health {
	case models.HealthRestarting:
		e.state.RestartCount++
		e.state.LastRestartTime = time.Now().Unix()
	case models.HealthFailed:
		e.state.FailedAt = time.Now().Unix()
		e.state.Episodes = e.episodes
	case models.HealthDead:
		e.state.ConsecutiveFailures++
	case models.HealthRunning:
		e.state.ConsecutiveFailures = 0
	}
	s.logger.Info("mcp server transitioned", "server", e.client.ServerName(), "health", health)
}

// ReadinessCheck performs spec §4.g's start-of-session readiness probe: HTTP
// servers must respond within 10 seconds, stdio servers must still be alive
// 200ms after spawn.
func ReadinessCheck(ctx context.Context, connType models.ConnectionType, pingURL string, alive func() bool) error {
	switch connType {
	case models.ConnectionHTTP:
		ctx, cancel := context.WithTimeout(ctx, httpReadinessTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	default:
		time.Sleep(stdioReadinessWindow)
		if !alive() {
			return context.DeadlineExceeded
		}
		return nil
	}
}
