package detector

import (
	"os"
	"strings"

	"sessionlock/pkg/errclass"
	"sessionlock/pkg/integrations/gnome"
	"sessionlock/pkg/integrations/hybrid"
	"sessionlock/pkg/integrations/wayland"
	"sessionlock/pkg/integrations/x11"
	"sessionlock/pkg/usage"
)

// New builds the usage provider for the current desktop session. GNOME
// Shell is preferred on GNOME desktops, then sway/Hyprland IPC on Wayland;
// X11 is used whenever an X display (including XWayland) is reachable.
func New() (usage.Provider, error) {
	compositor := wayland.DetectCompositor(os.Getenv("SWAYSOCK"), os.Getenv("HYPRLAND_INSTANCE_SIGNATURE"))
	providers := Providers(DetectDisplayServer(), os.Getenv("XDG_CURRENT_DESKTOP"), os.Getenv("DISPLAY"), compositor)
	if len(providers) == 0 {
		return nil, errclass.ErrProviderUnavailable.WithMessage("no supported display server detected")
	}
	return hybrid.New(providers...), nil
}

// Providers picks the providers for a display server, desktop and
// Wayland compositor, in order of preference.
func Providers(displayServer, desktop, display, compositor string) []usage.Provider {
	var providers []usage.Provider

	if IsGnome(desktop) && displayServer != "unknown" {
		providers = append(providers, gnome.NewProvider())
	}
	if displayServer == "wayland" {
		if p := wayland.New(compositor); p != nil {
			providers = append(providers, p)
		}
	}
	if displayServer == "x11" || display != "" {
		providers = append(providers, x11.NewProvider())
	}
	return providers
}

func IsGnome(desktop string) bool {
	desktop = strings.ToLower(desktop)
	return strings.Contains(desktop, "gnome") || strings.Contains(desktop, "ubuntu")
}

func DetectDisplayServer() string {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	waylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	x11Display := os.Getenv("DISPLAY")

	if sessionType == "wayland" || waylandDisplay != "" {
		return "wayland"
	}

	if sessionType == "x11" || x11Display != "" {
		return "x11"
	}

	return "unknown"
}
