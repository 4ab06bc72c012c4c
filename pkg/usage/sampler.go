package usage

import (
	"context"
	"time"

	"sessionlock/pkg/errclass"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// Sampler resolves the most recently used process from a Provider.
type Sampler struct {
	provider Provider
	clock    clock.PassiveClock
}

// NewSampler creates a sampler over provider. A nil clock means wall-clock time.
func NewSampler(provider Provider, clk clock.PassiveClock) *Sampler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Sampler{provider: provider, clock: clk}
}

// Sample queries the trailing window ending now and returns the process with
// the greatest LastUsed timestamp. ok is false when the provider reported
// nothing. Among exact timestamp ties the first record in provider order wins.
//
// Provider failures are returned classified as errclass.ErrPermissionDenied
// or errclass.ErrProviderUnavailable; callers treat both as "no foreground
// app known".
func (s *Sampler) Sample(ctx context.Context, window time.Duration) (string, bool, error) {
	if window <= 0 {
		return "", false, errclass.ErrInvalidArgument.WithMessagef("window must be positive, got %v", window)
	}

	end := s.clock.Now()
	start := end.Add(-window)

	records, err := s.provider.Query(ctx, start, end)
	if err != nil {
		return "", false, errors.Wrapf(errclass.Classify(err), "query %s", s.provider.Name())
	}

	rec, ok := MostRecent(records)
	if !ok {
		return "", false, nil
	}
	return rec.ProcessID, true, nil
}

// Provider returns the provider this sampler queries.
func (s *Sampler) Provider() Provider {
	return s.provider
}

// MostRecent picks the record with the latest LastUsed. Records without a
// process identifier are ignored. Ties keep the earliest record.
func MostRecent(records []Record) (Record, bool) {
	var best Record
	found := false
	for _, r := range records {
		if r.ProcessID == "" {
			continue
		}
		if !found || r.LastUsed.After(best.LastUsed) {
			best = r
			found = true
		}
	}
	return best, found
}
