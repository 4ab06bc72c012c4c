// Package presentation provides lock.Presentation implementations that do
// not depend on a UI toolkit.
package presentation

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// State is a copy of what an Overlay is currently showing.
type State struct {
	Visible     bool   `json:"visible"`
	Text        string `json:"text"`
	Message     string `json:"message"`
	RequestedMs int64  `json:"requested_ms"`
	Closes      int    `json:"closes"`
}

// Overlay keeps the overlay state in memory so that other surfaces (the
// HTTP API, tests) can read it.
type Overlay struct {
	mu    sync.RWMutex
	state State
}

// NewOverlay creates a hidden overlay that shows message while visible.
func NewOverlay(message string) *Overlay {
	return &Overlay{state: State{Message: message}}
}

func (o *Overlay) SetVisible(requested time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Visible = true
	o.state.RequestedMs = requested.Milliseconds()
}

func (o *Overlay) SetCountdownText(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Text = text
}

func (o *Overlay) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Visible = false
	o.state.Closes++
}

// SetMessage changes the banner shown above the countdown.
func (o *Overlay) SetMessage(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Message = message
}

func (o *Overlay) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Console writes the overlay lifecycle as plain lines.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) SetVisible(requested time.Duration) {
	c.printf("lock: showing for %s\n", requested)
}

func (c *Console) SetCountdownText(text string) {
	c.printf("lock: %s\n", text)
}

func (c *Console) Close() {
	c.printf("lock: closed\n")
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// Presenter mirrors lock.Presentation so this package stays free of
// internal imports.
type Presenter interface {
	SetVisible(requested time.Duration)
	SetCountdownText(text string)
	Close()
}

// Multi fans every call out to each presenter in order.
type Multi []Presenter

func (m Multi) SetVisible(requested time.Duration) {
	for _, p := range m {
		p.SetVisible(requested)
	}
}

func (m Multi) SetCountdownText(text string) {
	for _, p := range m {
		p.SetCountdownText(text)
	}
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}
