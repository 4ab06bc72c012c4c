package lock

import (
	"sync"
	"time"

	"sessionlock/internal/obs"
	"sessionlock/pkg/errclass"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Journal persists lock session snapshots. RecordLock is called when a
// session starts and again when it ends; implementations upsert by ID.
type Journal interface {
	RecordLock(snap Snapshot) error
}

// Controller owns the single active lock session and the presentation it
// drives. ShowLock and HideLock are the external entry points.
type Controller struct {
	clock        clock.WithTicker
	presenter    Presentation
	allowDismiss bool
	log          *logrus.Entry
	metrics      *obs.Metrics
	journal      Journal

	mu      sync.Mutex
	current *Session
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

func WithLogger(l *logrus.Entry) ControllerOption {
	return func(c *Controller) { c.log = l }
}

func WithMetrics(m *obs.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

func WithJournal(j Journal) ControllerOption {
	return func(c *Controller) { c.journal = j }
}

// WithAllowDismiss enables the user close affordance (Dismiss).
func WithAllowDismiss(allow bool) ControllerOption {
	return func(c *Controller) { c.allowDismiss = allow }
}

// NewController creates a controller that drives p.
func NewController(clk clock.WithTicker, p Presentation, opts ...ControllerOption) *Controller {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if p == nil {
		p = nopPresentation{}
	}
	c := &Controller{
		clock:     clk,
		presenter: p,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = obs.Component(nil, "lock")
	}
	return c
}

// ShowLock replaces any running session with a new one counting down from
// d and makes the presentation visible.
func (c *Controller) ShowLock(d time.Duration) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.Status() == StatusRunning {
		c.log.WithField("session", c.current.ID()).Info("Replacing running lock session")
		if err := c.current.Cancel(); err != nil {
			return nil, err
		}
	}

	s := NewSession(c.clock, c.presenter,
		WithSessionLogger(c.log),
		WithOnTick(c.metrics.SetLockRemaining),
		WithOnEnd(c.sessionEnded),
	)

	c.presenter.SetVisible(d)
	c.metrics.ObserveLock("started")
	if err := s.Start(d); err != nil {
		return nil, err
	}
	c.current = s

	// A non-positive duration has already ended and been journaled.
	if s.Status() == StatusRunning {
		c.metrics.SetLockRemaining(s.Remaining())
		c.record(s)
	}
	return s, nil
}

// HideLock cancels the running session, closing the presentation. It
// reports whether anything was showing; with nothing shown it is a no-op.
func (c *Controller) HideLock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Status() != StatusRunning {
		return false
	}
	_ = c.current.Cancel()
	return true
}

// Dismiss is the user's explicit close action on the overlay. It only ends
// the session when dismissal is enabled.
func (c *Controller) Dismiss() error {
	if !c.allowDismiss {
		return errclass.ErrDismissNotAllowed.WithMessage("lock screen cannot be closed before the timer ends")
	}
	c.HideLock()
	return nil
}

// Back forwards the system back gesture to the running session. It
// reports whether the gesture was swallowed.
func (c *Controller) Back() bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return false
	}
	return s.Back()
}

// Current returns a snapshot of the most recent session, if any.
func (c *Controller) Current() (Snapshot, bool) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	return s != nil && s.Status() == StatusRunning
}

func (c *Controller) sessionEnded(s *Session) {
	c.metrics.ObserveLock(s.Status().String())
	c.metrics.SetLockRemaining(0)
	c.record(s)
}

func (c *Controller) record(s *Session) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordLock(s.Snapshot()); err != nil {
		c.log.WithError(err).Warn("Failed to journal lock session")
	}
}
