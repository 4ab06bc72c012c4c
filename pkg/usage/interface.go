package usage

import (
	"context"
	"time"
)

// Record is a single usage observation reported by a Provider.
type Record struct {
	ProcessID string    // package name, WM_CLASS instance, etc.
	LastUsed  time.Time // when the process last had focus
	Source    string    // "x11", "gnome", ...
}

// Provider is the interface that all usage query implementations must satisfy
type Provider interface {
	// Query returns the usage records observed in [start, end].
	// Failures should carry errclass.ErrPermissionDenied or
	// errclass.ErrProviderUnavailable.
	Query(ctx context.Context, start, end time.Time) ([]Record, error)

	// Name identifies the provider in logs and status output
	Name() string

	// Close releases any connection held by the provider
	Close() error
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context, start, end time.Time) ([]Record, error)

func (f ProviderFunc) Query(ctx context.Context, start, end time.Time) ([]Record, error) {
	return f(ctx, start, end)
}

func (f ProviderFunc) Name() string { return "func" }

func (f ProviderFunc) Close() error { return nil }
