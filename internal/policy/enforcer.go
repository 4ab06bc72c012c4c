// Package policy decides when foreground usage should trigger a lock.
package policy

import (
	"sync"
	"time"

	"sessionlock/internal/events"
	"sessionlock/internal/lock"
	"sessionlock/internal/obs"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Rule limits continuous-or-cumulative foreground time for one app.
type Rule struct {
	AppID     string
	Allowance time.Duration
}

// Locker starts a lock session.
type Locker interface {
	ShowLock(d time.Duration) (lock.Snapshot, error)
}

// Enforcer accumulates foreground time per tracked app and requests a break
// once an app's allowance is used up. Feed it with Handle.
type Enforcer struct {
	clock  clock.Clock
	locker Locker
	log    *logrus.Entry

	mu        sync.Mutex
	rules     map[string]time.Duration
	breakTime time.Duration
	used      map[string]time.Duration
	active    string
	since     time.Time
	gen       uint64
	disarm    chan struct{}
}

// NewEnforcer creates an enforcer with the given rules. A nil log uses the
// standard logger.
func NewEnforcer(clk clock.Clock, locker Locker, rules []Rule, breakTime time.Duration, log *logrus.Entry) *Enforcer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = obs.Component(nil, "policy")
	}
	e := &Enforcer{
		clock:  clk,
		locker: locker,
		log:    log,
		used:   make(map[string]time.Duration),
	}
	e.rules, e.breakTime = ruleMap(rules), breakTime
	return e
}

// Handle consumes a foreground change. It is safe to register directly as
// an events.Handler.
func (e *Enforcer) Handle(ev events.ChangeEvent) {
	e.mu.Lock()
	e.settleLocked()
	e.active = ev.ProcessID
	fire := e.armLocked()
	e.mu.Unlock()

	if fire {
		e.trigger(ev.ProcessID)
	}
}

// UpdateRules swaps the rule set. Usage of apps that are still tracked is
// kept; usage of dropped apps is forgotten.
func (e *Enforcer) UpdateRules(rules []Rule, breakTime time.Duration) {
	e.mu.Lock()
	e.settleLocked()
	e.rules, e.breakTime = ruleMap(rules), breakTime
	for app := range e.used {
		if _, ok := e.rules[app]; !ok {
			delete(e.used, app)
		}
	}
	app := e.active
	fire := e.armLocked()
	e.mu.Unlock()

	e.log.WithField("rules", len(rules)).Info("Policy rules updated")
	if fire {
		e.trigger(app)
	}
}

// Usage returns the accumulated foreground time of app since its last break.
func (e *Enforcer) Usage(app string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.used[app]
	if _, tracked := e.rules[app]; tracked && app != "" && app == e.active {
		u += e.clock.Since(e.since)
	}
	return u
}

// Stop cancels any pending allowance timer.
func (e *Enforcer) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settleLocked()
	e.active = ""
}

// settleLocked books the time spent on the active app and cancels its timer.
func (e *Enforcer) settleLocked() {
	now := e.clock.Now()
	if _, tracked := e.rules[e.active]; tracked && e.active != "" {
		e.used[e.active] += now.Sub(e.since)
	}
	e.since = now
	e.gen++
	if e.disarm != nil {
		close(e.disarm)
		e.disarm = nil
	}
}

// armLocked starts the allowance timer for the active app. It reports true
// when the allowance was already exhausted, in which case usage restarts
// from zero.
func (e *Enforcer) armLocked() bool {
	allowance, tracked := e.rules[e.active]
	if e.active == "" || !tracked || allowance <= 0 {
		return false
	}
	fire := false
	left := allowance - e.used[e.active]
	if left <= 0 {
		e.used[e.active] = 0
		left = allowance
		fire = true
	}

	gen := e.gen
	t := e.clock.NewTimer(left)
	disarm := make(chan struct{})
	e.disarm = disarm
	go func() {
		select {
		case <-t.C():
			e.expire(gen)
		case <-disarm:
			t.Stop()
		}
	}()
	return fire
}

func (e *Enforcer) expire(gen uint64) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	app := e.active
	e.settleLocked()
	e.used[app] = 0
	e.armLocked()
	e.mu.Unlock()

	e.trigger(app)
}

func (e *Enforcer) trigger(app string) {
	e.mu.Lock()
	d := e.breakTime
	e.mu.Unlock()

	log := e.log.WithFields(logrus.Fields{"app": app, "break": d})
	if _, err := e.locker.ShowLock(d); err != nil {
		log.WithError(err).Error("Failed to start break")
		return
	}
	log.Info("Allowance used up, break started")
}

func ruleMap(rules []Rule) map[string]time.Duration {
	m := make(map[string]time.Duration, len(rules))
	for _, r := range rules {
		if r.AppID == "" {
			continue
		}
		m[r.AppID] = r.Allowance
	}
	return m
}
