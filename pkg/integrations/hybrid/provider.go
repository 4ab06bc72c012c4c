// Package hybrid combines several usage providers into one.
package hybrid

import (
	"context"
	"errors"
	"strings"
	"time"

	"sessionlock/pkg/errclass"
	"sessionlock/pkg/usage"
)

// Provider queries every wrapped provider and concatenates their records in
// provider order, so earlier providers win timestamp ties in the sampler.
type Provider struct {
	providers []usage.Provider
}

func New(providers ...usage.Provider) *Provider {
	return &Provider{providers: providers}
}

// Name lists the wrapped providers, e.g. "hybrid(gnome,x11)".
func (p *Provider) Name() string {
	names := make([]string, 0, len(p.providers))
	for _, sub := range p.providers {
		names = append(names, sub.Name())
	}
	return "hybrid(" + strings.Join(names, ",") + ")"
}

// Query succeeds when at least one provider does. When all fail the result
// is ErrPermissionDenied if any of them was denied, else
// ErrProviderUnavailable.
func (p *Provider) Query(ctx context.Context, start, end time.Time) ([]usage.Record, error) {
	if len(p.providers) == 0 {
		return nil, errclass.ErrProviderUnavailable.WithMessage("no usage providers configured")
	}

	var records []usage.Record
	var failures []string
	denied := false
	for _, sub := range p.providers {
		recs, err := sub.Query(ctx, start, end)
		if err != nil {
			failures = append(failures, sub.Name()+": "+err.Error())
			if errors.Is(err, errclass.ErrPermissionDenied) {
				denied = true
			}
			continue
		}
		records = append(records, recs...)
	}

	if len(failures) < len(p.providers) {
		return records, nil
	}
	msg := strings.Join(failures, "; ")
	if denied {
		return nil, errclass.ErrPermissionDenied.WithMessage(msg)
	}
	return nil, errclass.ErrProviderUnavailable.WithMessage(msg)
}

func (p *Provider) Close() error {
	var errs []error
	for _, sub := range p.providers {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Providers returns the wrapped providers in query order.
func (p *Provider) Providers() []usage.Provider {
	return p.providers
}
