// Package backend holds the model-assisted extraction tiers: the
// on-device classifier and the Gemini cloud model. Both consume the
// shared prompt contract and reply through ParseReply, so the
// orchestrator treats them uniformly. The cloud tier uses net/http
// directly, no transport dependencies.
package backend

import (
	"context"
	"errors"

	"github.com/codepal/codepal/internal/otp"
)

// Availability describes whether a backend can serve requests now.
type Availability string

const (
	AvailabilityReady        Availability = "ready"
	AvailabilityDownloadable Availability = "downloadable"
	AvailabilityDownloading  Availability = "downloading"
	AvailabilityUnavailable  Availability = "unavailable"
)

// ErrUnavailable signals a recoverable decline: the tier cannot serve
// this request and the orchestrator should escalate instead of failing.
var ErrUnavailable = errors.New("backend unavailable")

// Backend is one model-assisted extraction tier.
type Backend interface {
	// Name returns a human-readable backend name (e.g. "gemini/gemini-2.5-flash").
	Name() string
	// Extract runs the model over the request. Returns ErrUnavailable
	// (possibly wrapped) when the tier cannot serve at all.
	Extract(ctx context.Context, req otp.Request) (otp.Result, error)
	// Availability reports the backend's current serving state.
	Availability(ctx context.Context) Availability
}
