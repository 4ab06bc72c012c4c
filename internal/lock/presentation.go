package lock

import "time"

// Presentation is the full-screen blocking surface driven by a Session.
//
// Calls arrive on the session's tick goroutine while the session holds its
// lock, so implementations must not call back into the Session or its
// Controller synchronously.
type Presentation interface {
	// SetVisible shows the overlay for a lock of the requested length.
	SetVisible(requested time.Duration)

	// SetCountdownText replaces the visible countdown, formatted mm:ss.
	SetCountdownText(text string)

	// Close dismisses the overlay.
	Close()
}

type nopPresentation struct{}

func (nopPresentation) SetVisible(time.Duration) {}
func (nopPresentation) SetCountdownText(string)  {}
func (nopPresentation) Close()                   {}
