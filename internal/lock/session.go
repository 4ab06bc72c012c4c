package lock

import (
	"sync"
	"time"

	"sessionlock/internal/obs"
	"sessionlock/pkg/errclass"
	"sessionlock/pkg/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// TickInterval is the countdown resolution.
const TickInterval = time.Second

// Status is the lifecycle state of a Session.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusExpired
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	RequestedMs int64     `json:"requested_ms"`
	RemainingMs int64     `json:"remaining_ms"`
	Text        string    `json:"text"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Session is a one-shot countdown: Idle -> Running -> Expired | Cancelled.
// A new lock always uses a fresh Session.
type Session struct {
	id        string
	clock     clock.WithTicker
	presenter Presentation
	log       *logrus.Entry
	onTick    func(remaining time.Duration)
	onEnd     func(*Session)

	mu        sync.Mutex
	status    Status
	requested time.Duration
	remaining time.Duration
	text      string
	startedAt time.Time
	endedAt   time.Time
	ticker    clock.Ticker
	stop      chan struct{}
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger entry.
func WithSessionLogger(l *logrus.Entry) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithOnTick registers a callback invoked after every countdown step.
func WithOnTick(fn func(remaining time.Duration)) SessionOption {
	return func(s *Session) { s.onTick = fn }
}

// WithOnEnd registers a callback invoked once when the session reaches a
// terminal state. It runs without the session lock held.
func WithOnEnd(fn func(*Session)) SessionOption {
	return func(s *Session) { s.onEnd = fn }
}

// NewSession creates an idle session bound to p.
func NewSession(clk clock.WithTicker, p Presentation, opts ...SessionOption) *Session {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if p == nil {
		p = nopPresentation{}
	}
	s := &Session{
		id:        uuid.NewString(),
		clock:     clk,
		presenter: p,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = obs.Component(nil, "lock")
	}
	s.log = s.log.WithField("session", s.id)
	return s
}

// Start begins the countdown. It fails with ErrInvalidStateTransition
// unless the session is Idle. A non-positive duration expires at once.
func (s *Session) Start(d time.Duration) error {
	s.mu.Lock()
	if s.status != StatusIdle {
		st := s.status
		s.mu.Unlock()
		return errclass.ErrInvalidStateTransition.WithMessagef("cannot start session from %s", st)
	}

	if d < 0 {
		d = 0
	}
	s.status = StatusRunning
	s.requested = d
	s.remaining = d
	s.startedAt = s.clock.Now()
	s.render()
	s.log.WithField("duration", d).Info("Lock session started")

	if s.remaining == 0 {
		s.finishLocked(StatusExpired)
		s.mu.Unlock()
		s.ended()
		return nil
	}

	s.ticker = s.clock.NewTicker(TickInterval)
	s.stop = make(chan struct{})
	go s.run(s.ticker, s.stop)
	s.mu.Unlock()
	return nil
}

// Cancel ends a running session early. Cancelling a terminal session is a
// no-op; cancelling an idle one is rejected. No tick is applied after
// Cancel returns.
func (s *Session) Cancel() error {
	s.mu.Lock()
	switch s.status {
	case StatusIdle:
		s.mu.Unlock()
		return errclass.ErrInvalidStateTransition.WithMessage("cannot cancel an idle session")
	case StatusExpired, StatusCancelled:
		s.mu.Unlock()
		return nil
	}

	s.finishLocked(StatusCancelled)
	s.mu.Unlock()
	s.log.Info("Lock session cancelled")
	s.ended()
	return nil
}

// Back handles the system back/navigation gesture. It never ends the
// session; it reports whether the gesture was swallowed.
func (s *Session) Back() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		s.log.Debug("Back navigation suppressed")
		return true
	}
	return false
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.id,
		Status:      s.status.String(),
		RequestedMs: s.requested.Milliseconds(),
		RemainingMs: s.remaining.Milliseconds(),
		Text:        s.text,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
	}
}

func (s *Session) run(t clock.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if done := s.tick(); done {
				return
			}
		}
	}
}

// tick applies one countdown step and reports whether the loop should exit.
func (s *Session) tick() bool {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return true
	}

	s.remaining -= TickInterval
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.render()
	remaining := s.remaining

	if remaining > 0 {
		s.mu.Unlock()
		if s.onTick != nil {
			s.onTick(remaining)
		}
		return false
	}

	s.finishLocked(StatusExpired)
	s.mu.Unlock()
	s.log.Info("Lock session expired")
	s.ended()
	return true
}

func (s *Session) render() {
	s.text = utils.FormatCountdown(s.remaining)
	s.presenter.SetCountdownText(s.text)
}

func (s *Session) finishLocked(st Status) {
	s.status = st
	s.endedAt = s.clock.Now()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.stop != nil {
		close(s.stop)
	}
	s.presenter.Close()
}

func (s *Session) ended() {
	if s.onEnd != nil {
		s.onEnd(s)
	}
}
