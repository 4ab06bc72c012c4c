package x11

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"sessionlock/pkg/errclass"
	"sessionlock/pkg/usage"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

const source = "x11"

// focusAttempts bounds how often the active window lookup is retried while
// a window manager is switching focus.
const focusAttempts = 3

var atomNames = []string{
	"_NET_ACTIVE_WINDOW",
	"_NET_WM_NAME",
	"WM_NAME",
	"WM_CLASS",
	"UTF8_STRING",
}

// Provider reports the X11 focused window as a usage record. The WM_CLASS
// instance name is used as the process identifier.
type Provider struct {
	mu    sync.Mutex
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
}

// NewProvider creates a provider. The X connection is opened on first use.
func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return source }

// Query returns the focused window stamped with end. An X server that
// cannot be reached is reported as ErrProviderUnavailable.
func (p *Provider) Query(ctx context.Context, start, end time.Time) ([]usage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errclass.ErrProviderUnavailable.WithMessage(err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return nil, errclass.ErrProviderUnavailable.WithMessagef("connect to X display: %v", err)
	}

	win, err := p.activeWindow(ctx)
	if err != nil {
		p.resetLocked()
		return nil, errclass.ErrProviderUnavailable.WithMessagef("read active window: %v", err)
	}
	if win == 0 {
		return nil, nil
	}

	instance, class := parseWMClass(p.property(win, p.atoms["WM_CLASS"], xproto.AtomString, 256))
	id := instance
	if id == "" {
		id = class
	}
	if id == "" {
		return nil, nil
	}
	return []usage.Record{{ProcessID: id, LastUsed: end, Source: source}}, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

func (p *Provider) connectLocked() error {
	if p.conn != nil {
		return nil
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return err
	}

	atoms := make(map[string]xproto.Atom, len(atomNames))
	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return err
		}
		atoms[name] = reply.Atom
	}

	p.conn = conn
	p.root = xproto.Setup(conn).DefaultScreen(conn).Root
	p.atoms = atoms
	return nil
}

func (p *Provider) resetLocked() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// activeWindow prefers _NET_ACTIVE_WINDOW and falls back to the input focus
// walked up to its top-level window. Zero means nothing is focused.
func (p *Provider) activeWindow(ctx context.Context) (xproto.Window, error) {
	// A failing root property read means the connection is gone.
	if _, err := xproto.GetProperty(p.conn, false, p.root, p.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 0, 1).Reply(); err != nil {
		return 0, err
	}

	for i := 0; i < focusAttempts; i++ {
		if win := decodeWindow(p.property(p.root, p.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)); win != 0 && p.hasName(win) {
			return win, nil
		}

		if reply, err := xproto.GetInputFocus(p.conn).Reply(); err == nil {
			focus := reply.Focus
			if focus != 0 && focus != p.root {
				if top := p.topLevel(focus); top != 0 && p.hasName(top) {
					return top, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return 0, nil
		case <-time.After(20 * time.Millisecond):
		}
	}
	return 0, nil
}

func (p *Provider) property(win xproto.Window, atom, typ xproto.Atom, length uint32) []byte {
	reply, err := xproto.GetProperty(p.conn, false, win, atom, typ, 0, length).Reply()
	if err != nil {
		return nil
	}
	return reply.Value
}

func (p *Provider) topLevel(win xproto.Window) xproto.Window {
	for {
		reply, err := xproto.QueryTree(p.conn, win).Reply()
		if err != nil || reply.Parent == p.root || reply.Parent == 0 {
			return win
		}
		win = reply.Parent
	}
}

func (p *Provider) hasName(win xproto.Window) bool {
	if len(p.property(win, p.atoms["_NET_WM_NAME"], p.atoms["UTF8_STRING"], 1)) > 0 {
		return true
	}
	return len(p.property(win, p.atoms["WM_NAME"], xproto.AtomString, 1)) > 0
}

func decodeWindow(data []byte) xproto.Window {
	if len(data) < 4 {
		return 0
	}
	return xproto.Window(binary.LittleEndian.Uint32(data))
}

// parseWMClass splits the NUL-separated WM_CLASS value into instance and
// class names.
func parseWMClass(data []byte) (instance, class string) {
	if len(data) == 0 {
		return "", ""
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	instance = parts[0]
	if len(parts) >= 2 {
		class = parts[1]
	}
	return instance, class
}
