package headless

import (
	"context"
	"errors"

	"github.com/calvin1011/watchtower/internal/intel"
)

// ErrNotConfigured is returned by Noop.
var ErrNotConfigured = errors.New("headless fetcher not configured")

// Noop implements Fetcher but always returns ErrNotConfigured.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ intel.FetchRequest) (intel.FetchResponse, error) {
	return intel.FetchResponse{}, ErrNotConfigured
}
