// skills.go is the in-memory skill registry. Skills are small auxiliary
// jobs triggered on a schedule, by bus events, or on demand; their failures
// are contained and never reach the orchestrator loop.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-labs/aegis/log"
)

// TriggerKind selects how a skill runs.
type TriggerKind string

// Skill trigger kinds.
const (
	TriggerSchedule TriggerKind = "schedule"
	TriggerEvent    TriggerKind = "event"
	TriggerRequest  TriggerKind = "request"
)

// Skill describes one registered auxiliary job.
type Skill struct {
	Name     string
	Trigger  TriggerKind
	Interval time.Duration // schedule skills only
	Events   []EventType   // event skills only
	Enabled  bool
	Execute  func(ctx context.Context, ev *Event) error
}

// SkillRegistry tracks skills and their last scheduled run.
type SkillRegistry struct {
	mu      sync.Mutex
	skills  map[string]*Skill
	lastRun map[string]time.Time
	logger  *log.Logger
	now     func() time.Time
}

// NewSkillRegistry creates an empty registry.
func NewSkillRegistry() *SkillRegistry {
	return &SkillRegistry{
		skills:  make(map[string]*Skill),
		lastRun: make(map[string]time.Time),
		logger:  log.Default().Module("skills"),
		now:     time.Now,
	}
}

// SetClock overrides the time source for tests.
func (r *SkillRegistry) SetClock(now func() time.Time) { r.now = now }

// Register adds or replaces a skill.
func (r *SkillRegistry) Register(s Skill) error {
	if s.Name == "" {
		return fmt.Errorf("orchestrator: skill needs a name")
	}
	if s.Execute == nil {
		return fmt.Errorf("orchestrator: skill %s has no execute function", s.Name)
	}
	if s.Trigger == TriggerSchedule && s.Interval <= 0 {
		return fmt.Errorf("orchestrator: scheduled skill %s needs an interval", s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.Name] = &s
	return nil
}

// SetEnabled toggles a skill at runtime.
func (r *SkillRegistry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.skills[name]
	if ok {
		s.Enabled = enabled
	}
	return ok
}

// RunScheduled runs every enabled schedule skill whose interval has elapsed
// since its last run. Called from the orchestrator tick.
func (r *SkillRegistry) RunScheduled(ctx context.Context) {
	for _, s := range r.due() {
		r.run(ctx, s, nil)
	}
}

// HandleEvent runs every enabled event skill that matches the event type.
func (r *SkillRegistry) HandleEvent(ctx context.Context, ev Event) {
	r.mu.Lock()
	var matched []*Skill
	for _, s := range r.skills {
		if !s.Enabled || s.Trigger != TriggerEvent {
			continue
		}
		for _, t := range s.Events {
			if t == ev.Type {
				matched = append(matched, s)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, s := range matched {
		r.run(ctx, s, &ev)
	}
}

// RunRequested runs a request-triggered skill by name.
func (r *SkillRegistry) RunRequested(ctx context.Context, name string) error {
	r.mu.Lock()
	s, ok := r.skills[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: unknown skill %q", name)
	}
	if !s.Enabled {
		return fmt.Errorf("orchestrator: skill %q is disabled", name)
	}
	r.run(ctx, s, nil)
	return nil
}

// due collects schedule skills ready to run and stamps their last-run time.
func (r *SkillRegistry) due() []*Skill {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var out []*Skill
	for name, s := range r.skills {
		if !s.Enabled || s.Trigger != TriggerSchedule {
			continue
		}
		if last, ok := r.lastRun[name]; ok && now.Sub(last) < s.Interval {
			continue
		}
		r.lastRun[name] = now
		out = append(out, s)
	}
	return out
}

// run executes a skill, containing panics and errors.
func (r *SkillRegistry) run(ctx context.Context, s *Skill, ev *Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("skill panicked", "skill", s.Name, "panic", fmt.Sprint(rec))
		}
	}()
	if err := s.Execute(ctx, ev); err != nil {
		r.logger.Warn("skill failed", "skill", s.Name, "err", err.Error())
	}
}
