package mcpsupervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nexuscli/agent/pkg/models"
)

type fakePinger struct {
	name string

	mu          sync.Mutex
	pingErr     error
	connectErr  error
	connectCalls int
}

func (f *fakePinger) ServerName() string { return f.name }
func (f *fakePinger) Close() error       { return nil }
func (f *fakePinger) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}
func (f *fakePinger) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakePinger) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakePinger) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakePinger) getConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func TestRegisterStartsRunning(t *testing.T) {
	s := New()
	p := &fakePinger{name: "a"}
	s.Register(p)

	state, ok := s.State("a")
	if !ok || state.Health != models.HealthRunning {
		t.Fatalf("expected Running, got %+v ok=%v", state, ok)
	}
}

func TestCheckOneTransitionsToDeadOnPingFailure(t *testing.T) {
	s := New()
	p := &fakePinger{name: "a"}
	p.setPingErr(fmt.Errorf("unreachable"))
	s.Register(p)

	s.checkOne(context.Background(), s.entries["a"])

	state, _ := s.State("a")
	if state.Health != models.HealthDead {
		t.Fatalf("expected Dead, got %v", state.Health)
	}
}

func TestCheckOneRestartsDeadServer(t *testing.T) {
	s := New()
	p := &fakePinger{name: "a"}
	s.Register(p)
	s.transition(s.entries["a"], models.HealthDead, "ping failed")

	s.checkOne(context.Background(), s.entries["a"])

	state, _ := s.State("a")
	if state.Health != models.HealthRunning {
		t.Fatalf("expected Running after successful restart, got %v", state.Health)
	}
	if p.getConnectCalls() != 1 {
		t.Fatalf("expected 1 connect call, got %d", p.getConnectCalls())
	}
}

func TestRestartExhaustionReachesFailedAfterEpisodes(t *testing.T) {
	s := New()
	s.backoff = 0
	p := &fakePinger{name: "a"}
	p.setConnectErr(fmt.Errorf("still down"))
	s.Register(p)
	s.transition(s.entries["a"], models.HealthDead, "ping failed")

	e := s.entries["a"]
	for episode := 0; episode < maxEpisodesBeforeFail; episode++ {
		e.cooldownUntil = time.Time{}
		for attempt := 0; attempt < maxAttemptsPerEpisode; attempt++ {
			s.checkOne(context.Background(), e)
		}
	}

	state, _ := s.State("a")
	if state.Health != models.HealthFailed {
		t.Fatalf("expected Failed after %d episodes, got %v", maxEpisodesBeforeFail, state.Health)
	}
}

func TestFailedTransitionsBackToDeadAfterCooldown(t *testing.T) {
	s := New()
	p := &fakePinger{name: "a"}
	s.Register(p)
	s.transition(s.entries["a"], models.HealthFailed, "exhausted")
	s.entries["a"].state.FailedAt = time.Now().Add(-failedCooldown - time.Second).Unix()

	s.checkOne(context.Background(), s.entries["a"])

	state, _ := s.State("a")
	if state.Health != models.HealthDead {
		t.Fatalf("expected Dead after cooldown elapsed, got %v", state.Health)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s := New()
	s.Start(context.Background())
	defer s.Stop()
	if !s.running {
		t.Fatal("expected running after Start")
	}
	firstCron := s.cron
	s.Start(context.Background())
	if s.cron != firstCron {
		t.Fatal("expected second Start to be a no-op, got a new cron instance")
	}
}
