package jamfreport

import "github.com/httprunner/JamfReport/internal/jamf"

// Error kinds surfaced by BuildReport. They are re-exported from the
// internal Jamf client so callers can depend on the root package only.
var (
	ErrAuth         = jamf.ErrAuth
	ErrFetch        = jamf.ErrFetch
	ErrDecode       = jamf.ErrDecode
	ErrNotFound     = jamf.ErrNotFound
	ErrEmptyCatalog = jamf.ErrEmptyCatalog
	ErrNoBaseURL    = jamf.ErrNoBaseURL
)

// Credentials identify the Jamf account used for one report build.
type Credentials = jamf.Credentials

// DefaultMaxInFlight caps concurrent device detail fetches.
const DefaultMaxInFlight = 5
