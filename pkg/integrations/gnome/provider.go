// Package gnome reads the focused window from GNOME Shell over the session
// D-Bus.
package gnome

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"sessionlock/pkg/errclass"
	"sessionlock/pkg/usage"

	"github.com/godbus/dbus/v5"
)

const (
	source = "gnome"

	shellDest = "org.gnome.Shell"
	shellPath = "/org/gnome/Shell"
	shellEval = "org.gnome.Shell.Eval"

	screenSaverDest      = "org.gnome.ScreenSaver"
	screenSaverPath      = "/org/gnome/ScreenSaver"
	screenSaverGetActive = "org.gnome.ScreenSaver.GetActive"

	accessDenied = "org.freedesktop.DBus.Error.AccessDenied"
)

// focusScript evaluates to the focused window's class, or null.
const focusScript = `(function () {
	let w = global.get_window_actors()
		.map(a => a.meta_window)
		.find(w => w.has_focus());
	if (!w)
		w = global.display.get_focus_window();
	if (!w)
		return null;
	return { wm_class: w.get_wm_class() || '', pid: w.get_pid() || 0 };
})()`

// caller is the subset of dbus.BusObject the provider needs.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

type focusedWindow struct {
	WMClass string `json:"wm_class"`
	PID     uint32 `json:"pid"`
}

// Provider asks GNOME Shell for the focused window. Shells that refuse Eval
// (the default outside unsafe mode) are reported as ErrPermissionDenied.
type Provider struct {
	mu    sync.Mutex
	conn  *dbus.Conn
	shell caller
	saver caller
}

// NewProvider creates a provider. The session bus is dialled on first use.
func NewProvider() *Provider {
	return &Provider{}
}

func newWithObjects(shell, saver caller) *Provider {
	return &Provider{shell: shell, saver: saver}
}

func (p *Provider) Name() string { return source }

func (p *Provider) Query(ctx context.Context, start, end time.Time) ([]usage.Record, error) {
	shell, _, err := p.objects()
	if err != nil {
		return nil, err
	}

	var ok bool
	var out string
	if err := shell.CallWithContext(ctx, shellEval, 0, focusScript).Store(&ok, &out); err != nil {
		return nil, classify(err)
	}
	if !ok {
		return nil, errclass.ErrPermissionDenied.WithMessage("org.gnome.Shell.Eval refused; shell not in unsafe mode")
	}

	fw, err := parseFocus(out)
	if err != nil {
		return nil, errclass.ErrProviderUnavailable.WithMessagef("decode shell reply: %v", err)
	}
	if fw == nil || fw.WMClass == "" {
		return nil, nil
	}
	return []usage.Record{{ProcessID: fw.WMClass, LastUsed: end, Source: source}}, nil
}

// ScreenLocked reports whether the GNOME screen shield is active.
func (p *Provider) ScreenLocked(ctx context.Context) (bool, error) {
	_, saver, err := p.objects()
	if err != nil {
		return false, err
	}
	var active bool
	if err := saver.CallWithContext(ctx, screenSaverGetActive, 0).Store(&active); err != nil {
		return false, classify(err)
	}
	return active, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.shell, p.saver = nil, nil, nil
	return err
}

func (p *Provider) objects() (caller, caller, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shell != nil {
		return p.shell, p.saver, nil
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, nil, errclass.ErrProviderUnavailable.WithMessagef("connect session bus: %v", err)
	}
	p.conn = conn
	p.shell = conn.Object(shellDest, dbus.ObjectPath(shellPath))
	p.saver = conn.Object(screenSaverDest, dbus.ObjectPath(screenSaverPath))
	return p.shell, p.saver, nil
}

// parseFocus decodes the Eval result. An empty or "null" reply means no
// window has focus.
func parseFocus(out string) (*focusedWindow, error) {
	out = strings.TrimSpace(out)
	if out == "" || out == "null" || out == "undefined" {
		return nil, nil
	}
	var fw focusedWindow
	if err := json.Unmarshal([]byte(out), &fw); err != nil {
		return nil, err
	}
	return &fw, nil
}

func classify(err error) error {
	var dbErr dbus.Error
	if errors.As(err, &dbErr) && dbErr.Name == accessDenied {
		return errclass.ErrPermissionDenied.WithMessage(dbErr.Error())
	}
	var dbErrPtr *dbus.Error
	if errors.As(err, &dbErrPtr) && dbErrPtr.Name == accessDenied {
		return errclass.ErrPermissionDenied.WithMessage(dbErrPtr.Error())
	}
	return errclass.ErrProviderUnavailable.WithMessage(err.Error())
}
