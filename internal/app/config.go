package app

import (
	"time"

	"github.com/civicdata/healthsnap/internal/schema"
)

// Config holds runtime configuration for one pipeline run. Run state
// (today's date, output location) is passed explicitly rather than read
// ambiently, so re-runs and backfills are deterministic.
type Config struct {
	// BaseURL is the publisher landing page to render and scan.
	BaseURL string
	// OutputDir receives one CSV per (dataset tag, run date) plus the run
	// report sidecar.
	OutputDir string
	// RunDate keys the output artifacts. Defaults to today (UTC); a
	// backfill or correction passes an explicit date.
	RunDate time.Time

	UserAgent string

	// Fetch behavior
	FetchMaxAttempts int
	FetchBackoff     time.Duration
	FetchTimeout     time.Duration

	// Discovery behavior
	DiscoveryTimeout   time.Duration
	DiscoveryStableFor time.Duration

	// Run behavior
	RunTimeout time.Duration
	Workers    int

	Verbose bool

	Datasets []*schema.DatasetSpec
}
