// Package wayland reads the focused window from wlroots-style compositors
// through their IPC command line tools.
package wayland

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"sessionlock/pkg/errclass"
	"sessionlock/pkg/usage"
)

const source = "wayland"

// Compositors the provider knows how to query.
const (
	Sway     = "sway"
	Hyprland = "hyprland"
)

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Provider reports the focused window of a sway or Hyprland session.
type Provider struct {
	compositor string
	run        runner
}

// New returns a provider for compositor (Sway or Hyprland), or nil for
// anything else.
func New(compositor string) *Provider {
	if compositor != Sway && compositor != Hyprland {
		return nil
	}
	return &Provider{compositor: compositor, run: execRunner}
}

// DetectCompositor picks the compositor from its IPC environment variables.
func DetectCompositor(swaySock, hyprSignature string) string {
	switch {
	case hyprSignature != "":
		return Hyprland
	case swaySock != "":
		return Sway
	default:
		return ""
	}
}

func (p *Provider) Name() string { return source + "/" + p.compositor }

func (p *Provider) Close() error { return nil }

// Query returns the focused window stamped with end. A failing IPC tool is
// reported as ErrProviderUnavailable.
func (p *Provider) Query(ctx context.Context, start, end time.Time) ([]usage.Record, error) {
	var (
		id  string
		err error
	)
	switch p.compositor {
	case Sway:
		id, err = p.querySway(ctx)
	case Hyprland:
		id, err = p.queryHyprland(ctx)
	default:
		return nil, errclass.ErrProviderUnavailable.WithMessagef("unsupported compositor %q", p.compositor)
	}
	if err != nil {
		return nil, errclass.ErrProviderUnavailable.WithMessage(err.Error())
	}
	if id == "" {
		return nil, nil
	}
	return []usage.Record{{ProcessID: id, LastUsed: end, Source: p.Name()}}, nil
}

func (p *Provider) querySway(ctx context.Context) (string, error) {
	out, err := p.run(ctx, "swaymsg", "-t", "get_tree", "-r")
	if err != nil {
		return "", fmt.Errorf("swaymsg: %w", err)
	}
	return parseSwayTree(out)
}

func (p *Provider) queryHyprland(ctx context.Context) (string, error) {
	out, err := p.run(ctx, "hyprctl", "activewindow", "-j")
	if err != nil {
		return "", fmt.Errorf("hyprctl: %w", err)
	}
	return parseHyprlandWindow(out)
}

type swayNode struct {
	Focused          bool       `json:"focused"`
	AppID            *string    `json:"app_id"`
	WindowProperties *struct {
		Class    string `json:"class"`
		Instance string `json:"instance"`
	} `json:"window_properties"`
	Nodes         []swayNode `json:"nodes"`
	FloatingNodes []swayNode `json:"floating_nodes"`
}

// parseSwayTree finds the focused leaf. Native Wayland clients carry an
// app_id; XWayland clients only have X11 window properties.
func parseSwayTree(data []byte) (string, error) {
	var root swayNode
	if err := json.Unmarshal(data, &root); err != nil {
		return "", fmt.Errorf("decode sway tree: %w", err)
	}
	n := findFocused(&root)
	if n == nil {
		return "", nil
	}
	if n.AppID != nil && *n.AppID != "" {
		return *n.AppID, nil
	}
	if wp := n.WindowProperties; wp != nil {
		if wp.Instance != "" {
			return wp.Instance, nil
		}
		return wp.Class, nil
	}
	return "", nil
}

func findFocused(n *swayNode) *swayNode {
	if n.Focused {
		return n
	}
	for i := range n.Nodes {
		if f := findFocused(&n.Nodes[i]); f != nil {
			return f
		}
	}
	for i := range n.FloatingNodes {
		if f := findFocused(&n.FloatingNodes[i]); f != nil {
			return f
		}
	}
	return nil
}

// parseHyprlandWindow reads `hyprctl activewindow -j`, which prints an
// empty object when nothing is focused.
func parseHyprlandWindow(data []byte) (string, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", nil
	}
	var w struct {
		Class        string `json:"class"`
		InitialClass string `json:"initialClass"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return "", fmt.Errorf("decode hyprland window: %w", err)
	}
	if w.Class != "" {
		return w.Class, nil
	}
	return w.InitialClass, nil
}
